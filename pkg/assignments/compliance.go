// pkg/assignments/compliance.go
package assignments

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrascope/entrascope/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// NotInDeviceReport marks compliance records recovered only through the
// tenant cross-reference pass.
const NotInDeviceReport = "Not in Device Report"

type compliancePolicy struct {
	ID    string
	Name  string
	State string
}

// CheckCompliance reconciles compliance policy assignments for the
// engine's principal. Candidates come from the device compliance report;
// each is expanded for assignments with endpoint fallbacks for policy
// types the primary endpoint 404s on. Policies with no applicable
// target keep their row with a No Assignments sentinel so compliance
// coverage stays visible. A tenant cross-reference pass appends
// applicable policies the report omitted.
func (e *Engine) CheckCompliance(ctx context.Context, mdmDeviceID string) ([]Record, error) {
	e.session.Reset(siblingDomains(DomainCompliance)...)

	tenant := e.fetchTenantCompliance(ctx)

	policies, err := e.fetchComplianceReport(ctx, mdmDeviceID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	records := make([]Record, 0, len(policies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, policy := range policies {
		g.Go(func() error {
			asgs := e.fetchComplianceAssignments(gctx, policy)
			targets := e.classifyAssignments(gctx, asgs, e.HasUser(), false)
			if len(targets) == 0 {
				targets = []Target{{GroupName: NoAssignments, MembershipType: "-", TargetType: "-"}}
			}
			mu.Lock()
			records = append(records, Record{
				SubjectName: policy.Name,
				State:       policy.State,
				Targets:     targets,
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	records = append(records, e.crossReferenceCompliance(ctx, records, tenant)...)

	e.session.Store(DomainCompliance, records)
	return records, nil
}

const compliancePlatformFilter = "((PolicyPlatformType eq '4') or (PolicyPlatformType eq '5') " +
	"or (PolicyPlatformType eq '6') or (PolicyPlatformType eq '8') or (PolicyPlatformType eq '100'))"

func (e *Engine) fetchComplianceReport(ctx context.Context, mdmDeviceID string) ([]compliancePolicy, error) {
	body := map[string]any{
		"filter":  fmt.Sprintf("(DeviceId eq '%s') and %s", mdmDeviceID, compliancePlatformFilter),
		"orderBy": []string{"PolicyName asc"},
	}

	var report struct {
		Schema []struct {
			Column string `json:"Column"`
		} `json:"Schema"`
		Values [][]any `json:"Values"`
	}
	url := e.client.Beta("/deviceManagement/reports/getDevicePoliciesComplianceReport")
	if err := e.client.PostJSON(ctx, url, body, &report); err != nil {
		return nil, fmt.Errorf("failed to fetch compliance report: %w", err)
	}

	// The compliance report is schema-addressed, not positional.
	cols := make(map[string]int, len(report.Schema))
	for i, col := range report.Schema {
		cols[col.Column] = i
	}
	for _, required := range []string{"PolicyId", "PolicyName", "PolicyStatus_loc"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("compliance report missing required column %s", required)
		}
	}

	policies := make([]compliancePolicy, 0, len(report.Values))
	for _, row := range report.Values {
		p := compliancePolicy{
			ID:    cellAt(row, cols["PolicyId"]),
			Name:  cellAt(row, cols["PolicyName"]),
			State: cellAt(row, cols["PolicyStatus_loc"]),
		}
		if p.Name == "" {
			p.Name = "Unknown Policy"
		}
		policies = append(policies, p)
	}
	e.logger.Debug("compliance report fetched", "policies", len(policies))
	return policies, nil
}

// fetchComplianceAssignments expands a policy's assignments, falling
// back through alternative endpoints when the report hands back an ID
// the primary compliance endpoint does not know, which happens for
// policies the backend migrated between families.
func (e *Engine) fetchComplianceAssignments(ctx context.Context, policy compliancePolicy) []assignment {
	if policy.ID == "" || policy.ID == "Unknown" {
		return nil
	}

	endpoints := []string{
		fmt.Sprintf("/deviceManagement/deviceCompliancePolicies/%s?$expand=assignments", policy.ID),
		fmt.Sprintf("/deviceManagement/deviceCompliancePolicies('%s')?$expand=assignments", policy.ID),
		fmt.Sprintf("/deviceManagement/deviceConfigurations('%s')?$expand=assignments", policy.ID),
		fmt.Sprintf("/deviceManagement/configurationPolicies('%s')?$expand=assignments", policy.ID),
	}

	for i, endpoint := range endpoints {
		var out struct {
			Assignments []assignment `json:"assignments"`
		}
		err := e.client.GetJSON(ctx, e.client.Beta(endpoint), &out)
		if err == nil {
			return out.Assignments
		}
		if i == 0 && !graph.IsNotFound(err) {
			e.logger.Warn("assignment fetch failed for compliance policy",
				"policy", policy.Name, "error", err)
			return nil
		}
	}
	e.logger.Debug("no endpoint served assignments for compliance policy",
		"policy", policy.Name, "policyID", policy.ID)
	return nil
}

type tenantCompliancePolicy struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Assignments []assignment `json:"assignments"`
}

func (e *Engine) fetchTenantCompliance(ctx context.Context) []tenantCompliancePolicy {
	policies, _, err := graph.FetchAllPages[tenantCompliancePolicy](ctx, e.client,
		e.client.Beta("/deviceManagement/deviceCompliancePolicies?$expand=assignments"))
	if err != nil {
		e.logger.Warn("tenant compliance policy fetch failed", "error", err)
		return nil
	}
	return policies
}

// crossReferenceCompliance appends tenant policies that apply to the
// principal but never showed up in the device report. The report lags
// behind assignment changes, so these are real coverage the report
// missed rather than noise.
func (e *Engine) crossReferenceCompliance(ctx context.Context, reported []Record, tenant []tenantCompliancePolicy) []Record {
	seen := make(map[string]bool, len(reported))
	for _, r := range reported {
		seen[r.SubjectName] = true
	}

	var extra []Record
	for _, p := range tenant {
		name := p.DisplayName
		if name == "" {
			name = "Unknown Policy"
		}
		if seen[name] || len(p.Assignments) == 0 {
			continue
		}
		targets := e.classifyAssignments(ctx, p.Assignments, e.HasUser(), false)
		if len(targets) > 0 {
			e.logger.Debug("tenant compliance policy applicable but not in device report", "policy", name)
			extra = append(extra, Record{SubjectName: name, State: NotInDeviceReport, Targets: targets})
		}
	}
	return extra
}

func cellAt(row []any, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return cellString(row[idx])
}
