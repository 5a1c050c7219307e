// pkg/assignments/groupscan.go
package assignments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/graph"
)

// GroupAssignment is one configuration a scanned group is assigned to.
type GroupAssignment struct {
	ConfigName string
	ConfigType string
	Intent     string
}

// candidate is one tenant object whose assignment list must be checked
// for the scanned group.
type candidate struct {
	ID          string
	DisplayName string
	Type        string
	Endpoint    string
}

var candidateSources = map[string]struct {
	label      string
	endpointFn func(id string) string
}{
	"deviceConfigurations": {"Device Configuration", func(id string) string {
		return "/deviceManagement/deviceConfigurations/" + id + "/assignments"
	}},
	"configurationPolicies": {"Settings Catalog", func(id string) string {
		return "/deviceManagement/configurationPolicies('" + id + "')/assignments"
	}},
	"groupPolicyConfigurations": {"Administrative Template", func(id string) string {
		return "/deviceManagement/groupPolicyConfigurations('" + id + "')/assignments"
	}},
	"deviceCompliancePolicies": {"Compliance Policy", func(id string) string {
		return "/deviceManagement/deviceCompliancePolicies/" + id + "/assignments"
	}},
	"deviceManagementScripts": {"PowerShell Script", func(id string) string {
		return "/deviceManagement/deviceManagementScripts/" + id + "/assignments"
	}},
}

// Legacy security baseline intents keep well-known template IDs.
var legacyBaselineTemplateIDs = []string{
	"034ccd46-190c-4afc-adf1-ad7cc11262eb",
	"c04a010a-e7c5-44b1-a814-88df6f053f16",
	"2209e067-9c8c-462e-9981-5a8c79165dcc",
	"a8d6fa0e-1e66-455b-bb51-8ce0dde1559e",
	"cef15778-c3b9-4d53-a00a-042929f0aad0",
}

const autopilotV2Filter = "(technologies has 'enrollment') and (platforms eq 'windows10') " +
	"and (TemplateReference/templateId eq '80d33118-b7b4-40d8-b15f-81be745e053f_1') " +
	"and (Templatereference/templateFamily eq 'enrollmentConfiguration')"

// CheckGroupAssignments scans the tenant for every configuration a
// group is assigned to: device configurations, settings catalog,
// administrative templates, compliance policies, platform and shell
// scripts, apps, security baselines old and new, enrollment
// configurations, and both Autopilot profile generations. Candidate
// enumeration and per-candidate assignment checks run through $batch
// partitions; a failed source or batch is logged and skipped, never
// fatal.
func CheckGroupAssignments(ctx context.Context, c *graph.Client, session *directory.Session, groupID string) ([]GroupAssignment, error) {
	session.Reset(siblingDomains(DomainGroupScan)...)

	var found []GroupAssignment
	candidates := enumerateBatchSources(ctx, c)
	candidates = append(candidates, enumerateApps(ctx, c)...)
	candidates = append(candidates, enumerateShellScripts(ctx, c)...)
	candidates = append(candidates, enumerateBaselines(ctx, c)...)
	candidates = append(candidates, enumerateLegacyBaselines(ctx, c)...)

	found = append(found, scanEnrollmentConfigurations(ctx, c, groupID)...)

	v2Candidates, v2Found := scanAutopilotV2(ctx, c, groupID)
	candidates = append(candidates, v2Candidates...)
	found = append(found, v2Found...)
	found = append(found, scanAutopilotV1(ctx, c, groupID)...)

	slog.Debug("group scan candidate enumeration complete", "candidates", len(candidates))

	found = append(found, checkCandidates(ctx, c, groupID, candidates)...)

	session.Store(DomainGroupScan, found)
	return found, nil
}

// enumerateBatchSources lists the five core candidate collections in a
// single $batch call.
func enumerateBatchSources(ctx context.Context, c *graph.Client) []candidate {
	steps := []graph.BatchStep{
		{Method: "GET", URL: "/deviceManagement/deviceConfigurations?$select=id,displayName"},
		{Method: "GET", URL: "/deviceManagement/configurationPolicies?$top=500"},
		{Method: "GET", URL: "/deviceManagement/groupPolicyConfigurations?$top=500"},
		{Method: "GET", URL: "/deviceManagement/deviceCompliancePolicies?$select=id,displayName"},
		{Method: "GET", URL: "/deviceManagement/deviceManagementScripts?$select=id,displayName"},
	}
	order := []string{
		"deviceConfigurations", "configurationPolicies", "groupPolicyConfigurations",
		"deviceCompliancePolicies", "deviceManagementScripts",
	}

	responses, err := c.ExecuteBatchAt(ctx, c.Beta("/$batch"), steps)
	if err != nil {
		slog.Warn("candidate enumeration batch failed", "error", err)
		return nil
	}

	var out []candidate
	for i, source := range order {
		resp, ok := responses[fmt.Sprintf("%d", i+1)]
		if !ok || !resp.OK() {
			slog.Warn("candidate source unavailable", "source", source)
			continue
		}
		var body struct {
			Value []struct {
				ID          string `json:"id"`
				DisplayName string `json:"displayName"`
				Name        string `json:"name"`
			} `json:"value"`
		}
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			continue
		}
		src := candidateSources[source]
		for _, obj := range body.Value {
			name := obj.DisplayName
			if name == "" {
				name = obj.Name
			}
			if name == "" {
				name = "Unknown"
			}
			out = append(out, candidate{
				ID:          obj.ID,
				DisplayName: name,
				Type:        src.label,
				Endpoint:    src.endpointFn(obj.ID),
			})
		}
	}
	return out
}

type namedObject struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
}

func (o namedObject) name(fallback string) string {
	if o.DisplayName != "" {
		return o.DisplayName
	}
	if o.Name != "" {
		return o.Name
	}
	return fallback
}

func enumerateApps(ctx context.Context, c *graph.Client) []candidate {
	filter := graph.EscapeQuery("(microsoft.graph.managedApp/appAvailability eq null " +
		"or microsoft.graph.managedApp/appAvailability eq 'lineOfBusiness' or isAssigned eq true)")
	apps, _, err := graph.FetchAllPages[namedObject](ctx, c,
		c.Beta("/deviceAppManagement/mobileApps?$filter="+filter+"&$select=id,displayName&$top=500"))
	if err != nil {
		slog.Warn("app enumeration failed", "error", err)
		return nil
	}

	out := make([]candidate, 0, len(apps))
	for _, app := range apps {
		out = append(out, candidate{
			ID:          app.ID,
			DisplayName: app.name("Unknown App"),
			Type:        "App",
			Endpoint:    "/deviceAppManagement/mobileApps/" + app.ID + "/assignments",
		})
	}
	return out
}

func enumerateShellScripts(ctx context.Context, c *graph.Client) []candidate {
	scripts, _, err := graph.FetchAllPages[namedObject](ctx, c,
		c.Beta("/deviceManagement/deviceShellScripts?$select=id,displayName"))
	if err != nil {
		// Shell scripts are macOS-only and absent from many tenants.
		slog.Debug("shell script enumeration skipped", "error", err)
		return nil
	}

	out := make([]candidate, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, candidate{
			ID:          s.ID,
			DisplayName: s.name("Unknown Script"),
			Type:        "Shell Script",
			Endpoint:    "/deviceManagement/deviceShellScripts/" + s.ID + "?$expand=assignments",
		})
	}
	return out
}

// enumerateBaselines walks settings catalog baseline templates and the
// policies instantiated from each.
func enumerateBaselines(ctx context.Context, c *graph.Client) []candidate {
	filter := graph.EscapeQuery("(lifecycleState eq 'draft' or lifecycleState eq 'active') and (templateFamily eq 'Baseline')")
	templates, _, err := graph.FetchAllPages[namedObject](ctx, c,
		c.Beta("/deviceManagement/configurationPolicyTemplates?$top=500&$filter="+filter))
	if err != nil {
		slog.Warn("baseline template enumeration failed", "error", err)
		return nil
	}

	var out []candidate
	for _, tpl := range templates {
		policyFilter := graph.EscapeQuery(fmt.Sprintf(
			"(templateReference/TemplateId eq '%s') and (templateReference/TemplateFamily eq 'Baseline')", tpl.ID))
		policies, _, err := graph.FetchAllPages[namedObject](ctx, c,
			c.Beta("/deviceManagement/configurationPolicies?$select=id,name&$filter="+policyFilter))
		if err != nil {
			slog.Warn("baseline policy enumeration failed", "template", tpl.ID, "error", err)
			continue
		}
		for _, p := range policies {
			out = append(out, candidate{
				ID:          p.ID,
				DisplayName: p.name("Unknown Security Baseline"),
				Type:        "Security Baseline",
				Endpoint:    "/deviceManagement/configurationPolicies('" + p.ID + "')/assignments",
			})
		}
	}
	return out
}

func enumerateLegacyBaselines(ctx context.Context, c *graph.Client) []candidate {
	conditions := make([]string, len(legacyBaselineTemplateIDs))
	for i, id := range legacyBaselineTemplateIDs {
		conditions[i] = fmt.Sprintf("templateId eq '%s'", id)
	}
	filter := graph.EscapeQuery(strings.Join(conditions, " or "))

	intents, _, err := graph.FetchAllPages[namedObject](ctx, c,
		c.Beta("/deviceManagement/intents?$filter="+filter))
	if err != nil {
		slog.Warn("legacy baseline enumeration failed", "error", err)
		return nil
	}

	out := make([]candidate, 0, len(intents))
	for _, intent := range intents {
		out = append(out, candidate{
			ID:          intent.ID,
			DisplayName: intent.name("Unknown Security Baseline"),
			Type:        "Security Baseline (Legacy)",
			Endpoint:    "/deviceManagement/intents/" + intent.ID + "/assignments",
		})
	}
	return out
}

type expandedConfig struct {
	ODataType      string       `json:"@odata.type"`
	ID             string       `json:"id"`
	DisplayName    string       `json:"displayName"`
	EnrollmentType string       `json:"deviceEnrollmentConfigurationType"`
	Assignments    []assignment `json:"assignments"`
}

// scanEnrollmentConfigurations checks enrollment configurations, which
// ship with assignments expanded, against the scanned group directly.
func scanEnrollmentConfigurations(ctx context.Context, c *graph.Client, groupID string) []GroupAssignment {
	configs, _, err := graph.FetchAllPages[expandedConfig](ctx, c,
		c.Beta("/deviceManagement/deviceEnrollmentConfigurations?$expand=assignments"))
	if err != nil {
		slog.Warn("enrollment configuration fetch failed", "error", err)
		return nil
	}

	var out []GroupAssignment
	for _, cfg := range configs {
		for _, asg := range cfg.Assignments {
			if asg.Target == nil || asg.Target.GroupID != groupID {
				continue
			}
			out = append(out, GroupAssignment{
				ConfigName: nameOr(cfg.DisplayName, "Unknown"),
				ConfigType: enrollmentConfigType(cfg),
				Intent:     intentFor(asg, ""),
			})
		}
	}
	return out
}

func enrollmentConfigType(cfg expandedConfig) string {
	odataType, enrollmentType := cfg.ODataType, cfg.EnrollmentType
	switch {
	case strings.Contains(odataType, "LimitConfiguration") || enrollmentType == "limit":
		return "Device Limit Restriction"
	case strings.Contains(odataType, "PlatformRestrictions") ||
		enrollmentType == "platformRestrictions" || enrollmentType == "singlePlatformRestriction":
		return "Platform Restriction"
	case strings.Contains(odataType, "WindowsHelloForBusiness") || enrollmentType == "windowsHelloForBusiness":
		return "Windows Hello for Business"
	case strings.Contains(odataType, "EnrollmentCompletionPage") ||
		enrollmentType == "windows10EnrollmentCompletionPageConfiguration":
		return "Enrollment Status Page"
	case strings.Contains(odataType, "windowsRestore") || enrollmentType == "windowsRestore":
		return "Windows Restore"
	}
	return "Enrollment Configuration"
}

// scanAutopilotV2 enumerates device preparation profiles. Their regular
// assignments go through the candidate batch path; the enrollment-time
// device membership target is a separate plane checked here directly.
func scanAutopilotV2(ctx context.Context, c *graph.Client, groupID string) ([]candidate, []GroupAssignment) {
	profiles, _, err := graph.FetchAllPages[namedObject](ctx, c,
		c.Beta("/deviceManagement/configurationPolicies?$select=id,name&$filter="+graph.EscapeQuery(autopilotV2Filter)))
	if err != nil {
		slog.Warn("Autopilot device preparation profile fetch failed", "error", err)
		return nil, nil
	}

	var candidates []candidate
	var found []GroupAssignment
	for _, profile := range profiles {
		name := profile.name("Unknown Device Preparation Profile")
		candidates = append(candidates, candidate{
			ID:          profile.ID,
			DisplayName: name,
			Type:        "Autopilot Device Preparation",
			Endpoint:    "/deviceManagement/configurationPolicies('" + profile.ID + "')/assignments",
		})

		var membership struct {
			Statuses []struct {
				TargetID string `json:"targetId"`
			} `json:"enrollmentTimeDeviceMembershipTargetValidationStatuses"`
		}
		url := c.Beta("/deviceManagement/configurationPolicies('" + profile.ID + "')/retrieveEnrollmentTimeDeviceMembershipTarget")
		if err := c.GetJSON(ctx, url, &membership); err != nil {
			slog.Debug("device membership target fetch failed", "profile", profile.ID, "error", err)
			continue
		}
		for _, status := range membership.Statuses {
			if status.TargetID == groupID {
				found = append(found, GroupAssignment{
					ConfigName: name,
					ConfigType: "Autopilot Device Preparation (Device Group)",
					Intent:     "Included",
				})
			}
		}
	}
	return candidates, found
}

func scanAutopilotV1(ctx context.Context, c *graph.Client, groupID string) []GroupAssignment {
	profiles, _, err := graph.FetchAllPages[expandedConfig](ctx, c,
		c.Beta("/deviceManagement/windowsAutopilotDeploymentProfiles?$expand=assignments&$top=500"))
	if err != nil {
		slog.Warn("Autopilot deployment profile fetch failed", "error", err)
		return nil
	}

	var out []GroupAssignment
	for _, profile := range profiles {
		profileType := "Autopilot Deployment Profile"
		if strings.Contains(profile.ODataType, "activeDirectory") {
			profileType = "Autopilot Hybrid Join Profile"
		} else if strings.Contains(profile.ODataType, "azureAD") {
			profileType = "Autopilot Entra Join Profile"
		}
		for _, asg := range profile.Assignments {
			if asg.Target == nil || asg.Target.GroupID != groupID {
				continue
			}
			out = append(out, GroupAssignment{
				ConfigName: nameOr(profile.DisplayName, "Unknown"),
				ConfigType: profileType,
				Intent:     intentFor(asg, ""),
			})
		}
	}
	return out
}

// checkCandidates fetches each candidate's assignment list in $batch
// partitions of 20 and keeps the ones targeting the scanned group.
func checkCandidates(ctx context.Context, c *graph.Client, groupID string, candidates []candidate) []GroupAssignment {
	var out []GroupAssignment
	for start := 0; start < len(candidates); start += graph.BatchLimit {
		end := min(start+graph.BatchLimit, len(candidates))
		part := candidates[start:end]

		steps := make([]graph.BatchStep, len(part))
		for i, cand := range part {
			steps[i] = graph.BatchStep{Method: "GET", URL: cand.Endpoint}
		}

		responses, err := c.ExecuteBatchAt(ctx, c.Beta("/$batch"), steps)
		if err != nil {
			slog.Warn("candidate assignment batch failed", "offset", start, "error", err)
			continue
		}

		for i, cand := range part {
			resp, ok := responses[fmt.Sprintf("%d", i+1)]
			if !ok || !resp.OK() {
				continue
			}
			for _, asg := range decodeAssignments(resp.Body) {
				if asg.Target == nil || asg.Target.GroupID != groupID {
					continue
				}
				out = append(out, GroupAssignment{
					ConfigName: cand.DisplayName,
					ConfigType: cand.Type,
					Intent:     intentFor(asg, asg.Intent),
				})
			}
		}
	}
	return out
}

// decodeAssignments handles both response shapes candidates come back
// in: a collection body and an object with assignments expanded.
func decodeAssignments(body json.RawMessage) []assignment {
	var collection struct {
		Value       []assignment `json:"value"`
		Assignments []assignment `json:"assignments"`
	}
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil
	}
	if len(collection.Value) > 0 {
		return collection.Value
	}
	return collection.Assignments
}

func intentFor(asg assignment, rawIntent string) string {
	if asg.Target != nil && ClassifyTarget(asg.Target.ODataType) == TargetExclusion {
		return "Excluded"
	}
	if rawIntent != "" {
		return capitalizeFirst(rawIntent)
	}
	return "Included"
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
