// pkg/assignments/target.go
package assignments

import (
	"strings"

	"github.com/entrascope/entrascope/pkg/directory"
)

// TargetKind is the closed set of assignment target shapes Graph encodes
// in @odata.type strings.
type TargetKind int

const (
	TargetUnknown TargetKind = iota
	TargetGroup
	TargetAllDevices
	TargetAllUsers
	TargetExclusion
)

// ClassifyTarget maps an @odata.type string onto a TargetKind. Exclusion
// is checked first: exclusionGroupAssignmentTarget also contains the
// group target substring and must not classify as a group include.
func ClassifyTarget(odataType string) TargetKind {
	t := strings.ToLower(strings.TrimSpace(odataType))
	switch {
	case strings.Contains(t, "exclusion"):
		return TargetExclusion
	case strings.Contains(t, "groupassignmenttarget"):
		return TargetGroup
	case strings.Contains(t, "alldevicesassignmenttarget"):
		return TargetAllDevices
	case strings.Contains(t, "allusersassignmenttarget"),
		strings.Contains(t, "alllicensedusersassignmenttarget"):
		return TargetAllUsers
	}
	return TargetUnknown
}

// Target is one normalized assignment target attached to a subject.
type Target struct {
	GroupID        string
	GroupName      string
	MembershipType string
	TargetType     string
	Intent         string
}

// Record pairs a policy, app, or script with its applicable targets.
// State and Version carry the domain-specific extra columns: compliance
// status for compliance policies, install state and version for apps.
type Record struct {
	SubjectName string
	State       string
	Version     string
	Targets     []Target
}

// NoAssignments is the sentinel group name emitted when a subject has
// zero applicable targets in the domains that report coverage.
const NoAssignments = "No Assignments"

// Domain cache keys for the session record store.
const (
	DomainConfig     = "configAssignments"
	DomainCompliance = "complianceAssignments"
	DomainApps       = "appAssignments"
	DomainScripts    = "scriptAssignments"
	DomainGroupScan  = "groupAssignments"
	DomainMembers    = "groupMembers"
)

// allDomains lists every record-set cache key, for clearing siblings
// when one domain refreshes.
var allDomains = []string{
	DomainConfig, DomainCompliance, DomainApps,
	DomainScripts, DomainGroupScan, DomainMembers,
}

// CachedRecords returns the record set a reconciliation pass last stored
// on the session for a domain key. Rendering and export read from here
// so they always reflect the session state, not an intermediate slice.
func CachedRecords(session *directory.Session, domain string) ([]Record, bool) {
	v, ok := session.Cached(domain)
	if !ok {
		return nil, false
	}
	records, ok := v.([]Record)
	return records, ok
}

// siblingDomains returns every domain key except the one given.
func siblingDomains(keep string) []string {
	out := make([]string, 0, len(allDomains)-1)
	for _, d := range allDomains {
		if d != keep {
			out = append(out, d)
		}
	}
	return out
}

// targetTypeFor derives the Device/User column from the raw OData kind,
// matching on the user marker inside the type name.
func targetTypeFor(odataType string) string {
	if strings.Contains(strings.ToLower(odataType), "user") {
		return string(directory.KindUser)
	}
	return string(directory.KindDevice)
}
