// pkg/assignments/config.go
package assignments

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrascope/entrascope/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// Policy type IDs the backend still serves from the legacy
// deviceConfigurations endpoint instead of the settings catalog.
var legacyConfigPolicyTypes = map[string]bool{
	"26": true, "20": true, "33": true, "55": true, "118": true,
	"75": true, "72": true, "25": true, "31": true, "107": true,
	"99999": true,
}

type configReportRow struct {
	PolicyID   string
	PolicyName string
	PolicyType string
	UPN        string
}

const configReportFilter = "((PolicyBaseTypeName eq 'Microsoft.Management.Services.Api.DeviceConfiguration') " +
	"or (PolicyBaseTypeName eq 'DeviceManagementConfigurationPolicy') " +
	"or (PolicyBaseTypeName eq 'DeviceConfigurationAdmxPolicy') " +
	"or (PolicyBaseTypeName eq 'Microsoft.Management.Services.Api.DeviceManagementIntent'))"

// CheckConfigProfiles reconciles configuration profile assignments for
// the engine's principal. Candidates come from the device-scoped report;
// each candidate's assignment list is fetched from the endpoint its
// policy type lives on. Subjects with no applicable target are omitted.
// A tenant-wide pass appends applicable settings catalog policies the
// device report missed.
func (e *Engine) CheckConfigProfiles(ctx context.Context, mdmDeviceID string) ([]Record, error) {
	e.session.Reset(siblingDomains(DomainConfig)...)

	rows, err := e.fetchConfigReport(ctx, mdmDeviceID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var records []Record
	seen := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, row := range rows {
		g.Go(func() error {
			rec := e.checkConfigPolicy(gctx, row)
			mu.Lock()
			defer mu.Unlock()
			seen[row.PolicyName] = true
			if len(rec.Targets) > 0 {
				records = append(records, rec)
			}
			return nil
		})
	}
	g.Wait()

	records = append(records, e.crossReferenceConfig(ctx, seen)...)

	e.session.Store(DomainConfig, records)
	return records, nil
}

func (e *Engine) fetchConfigReport(ctx context.Context, mdmDeviceID string) ([]configReportRow, error) {
	body := map[string]any{
		"top":    "500",
		"skip":   "0",
		"select": []string{"PolicyId", "PolicyName", "PolicyType", "UPN"},
		"filter": fmt.Sprintf("%s and (IntuneDeviceId eq '%s')", configReportFilter, mdmDeviceID),
	}

	var report struct {
		Values [][]any `json:"Values"`
	}
	url := e.client.Beta("/deviceManagement/reports/getConfigurationPoliciesReportForDevice")
	if err := e.client.PostJSON(ctx, url, body, &report); err != nil {
		return nil, fmt.Errorf("failed to fetch configuration report: %w", err)
	}

	rows := make([]configReportRow, 0, len(report.Values))
	for _, v := range report.Values {
		if len(v) < 4 {
			continue
		}
		rows = append(rows, configReportRow{
			PolicyID:   cellString(v[0]),
			PolicyName: cellString(v[1]),
			PolicyType: cellString(v[2]),
			UPN:        cellString(v[3]),
		})
	}
	e.logger.Debug("configuration report fetched", "policies", len(rows))
	return rows, nil
}

func (e *Engine) checkConfigPolicy(ctx context.Context, row configReportRow) Record {
	endpoint := fmt.Sprintf("/deviceManagement/configurationPolicies('%s')/assignments", row.PolicyID)
	if legacyConfigPolicyTypes[row.PolicyType] {
		endpoint = fmt.Sprintf("/deviceManagement/deviceConfigurations/%s/assignments", row.PolicyID)
	}

	var page struct {
		Value []assignment `json:"value"`
	}
	if err := e.client.GetJSON(ctx, e.client.Beta(endpoint), &page); err != nil {
		e.logger.Warn("assignment fetch failed for policy",
			"policy", row.PolicyName, "error", err)
		return Record{SubjectName: row.PolicyName}
	}

	// The report's UPN column tells whether the policy reached the
	// device through a user plane at all.
	allowUsers := row.UPN != "" && row.UPN != "Not Available"
	targets := e.classifyAssignments(ctx, page.Value, allowUsers, false)
	return Record{SubjectName: row.PolicyName, Targets: targets}
}

// crossReferenceConfig fetches the tenant's settings catalog policies
// with assignments expanded and appends any policy applicable to the
// principal that the device report did not surface.
func (e *Engine) crossReferenceConfig(ctx context.Context, seen map[string]bool) []Record {
	type tenantPolicy struct {
		ID          string       `json:"id"`
		Name        string       `json:"name"`
		Assignments []assignment `json:"assignments"`
	}

	policies, _, err := graph.FetchAllPages[tenantPolicy](ctx, e.client,
		e.client.Beta("/deviceManagement/configurationPolicies?$expand=assignments&$top=500"))
	if err != nil {
		e.logger.Warn("tenant configuration policy cross-reference failed", "error", err)
		return nil
	}

	var extra []Record
	for _, p := range policies {
		if p.Name == "" || seen[p.Name] || len(p.Assignments) == 0 {
			continue
		}
		targets := e.classifyAssignments(ctx, p.Assignments, e.HasUser(), false)
		if len(targets) > 0 {
			e.logger.Debug("tenant policy applicable but missing from device report", "policy", p.Name)
			extra = append(extra, Record{SubjectName: p.Name, Targets: targets})
		}
	}
	return extra
}

func cellString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64:
		return fmt.Sprintf("%.0f", s)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}
