// pkg/assignments/engine.go
package assignments

import (
	"context"
	"log/slog"

	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/graph"
)

// assignment is the wire shape Graph returns for every assignment
// collection across the device management domains.
type assignment struct {
	ID     string            `json:"id"`
	Intent string            `json:"intent"`
	Target *assignmentTarget `json:"target"`
}

type assignmentTarget struct {
	ODataType string `json:"@odata.type"`
	GroupID   string `json:"groupId"`
}

// Engine reconciles assignment data against the principal's group
// memberships. One Engine serves one principal pair for one pass; the
// membership index it builds is not reused across passes.
type Engine struct {
	client   *graph.Client
	session  *directory.Session
	device   directory.Principal
	user     *directory.Principal
	index    *directory.MembershipIndex
	resolver *directory.Resolver
	logger   *slog.Logger
}

// NewEngine resolves the device and user principals for an Intune
// managed device, builds the membership index, and returns an engine
// ready to reconcile any domain. Principal resolution failures are fatal
// to the whole operation.
func NewEngine(ctx context.Context, c *graph.Client, session *directory.Session, mdmDeviceID string) (*Engine, error) {
	device, user, err := directory.ResolvePrincipals(ctx, c, mdmDeviceID)
	if err != nil {
		return nil, err
	}

	userID := ""
	if user != nil {
		userID = user.DirectoryID
	}
	index, err := directory.BuildIndex(ctx, c, session, device.DirectoryID, userID)
	if err != nil {
		return nil, err
	}
	slog.Debug("membership index built",
		"device", device.DisplayName, "hasUser", user != nil, "groups", index.Len())

	return &Engine{
		client:   c,
		session:  session,
		device:   device,
		user:     user,
		index:    index,
		resolver: directory.NewResolver(c, session, device.DirectoryID, userID),
		logger:   slog.Default(),
	}, nil
}

// Device returns the device principal the engine reconciles for.
func (e *Engine) Device() directory.Principal { return e.device }

// User returns the user principal, nil for userless devices.
func (e *Engine) User() *directory.Principal { return e.user }

// HasUser reports whether a user principal was resolved.
func (e *Engine) HasUser() bool { return e.user != nil }

// resolveGroupTarget classifies the principal's membership in an
// assignment's group, consulting the resolver on an index miss. A false
// second return means the assignment does not apply and must be dropped.
func (e *Engine) resolveGroupTarget(ctx context.Context, tgt *assignmentTarget, intent string) (Target, bool) {
	if name, mt, ok := e.index.Classify(tgt.GroupID); ok {
		return Target{
			GroupID:        tgt.GroupID,
			GroupName:      name,
			MembershipType: string(mt),
			TargetType:     targetTypeFor(tgt.ODataType),
			Intent:         intent,
		}, true
	}

	res, err := e.resolver.Resolve(ctx, tgt.GroupID, e.index)
	if err != nil {
		e.logger.Debug("group resolution failed", "groupID", tgt.GroupID, "error", err)
		return Target{}, false
	}
	if res == nil {
		return Target{}, false
	}
	return Target{
		GroupID:        tgt.GroupID,
		GroupName:      res.GroupName,
		MembershipType: string(res.Membership),
		TargetType:     targetTypeFor(tgt.ODataType),
		Intent:         intent,
	}, true
}

// classifyAssignments normalizes an assignment list into targets that
// apply to the principal. Exclusion targets are always dropped; All
// Users targets are emitted only when allowUsers is true (a device with
// no resolvable user cannot be covered through a user plane); unknown
// kinds are dropped unless keepUnknown asks for the raw kind string to
// surface, which the apps domain does.
func (e *Engine) classifyAssignments(ctx context.Context, asgs []assignment, allowUsers, keepUnknown bool) []Target {
	var targets []Target
	for _, asg := range asgs {
		if asg.Target == nil {
			continue
		}
		intent := asg.Intent
		if intent == "" {
			intent = "Included"
		}
		switch ClassifyTarget(asg.Target.ODataType) {
		case TargetExclusion:
			continue
		case TargetGroup:
			if t, ok := e.resolveGroupTarget(ctx, asg.Target, intent); ok {
				targets = append(targets, t)
			}
		case TargetAllDevices:
			targets = append(targets, Target{
				GroupName:      "All Devices",
				MembershipType: string(directory.MembershipVirtual),
				TargetType:     string(directory.KindDevice),
				Intent:         intent,
			})
		case TargetAllUsers:
			if !allowUsers {
				continue
			}
			targets = append(targets, Target{
				GroupName:      "All Users",
				MembershipType: string(directory.MembershipVirtual),
				TargetType:     string(directory.KindUser),
				Intent:         intent,
			})
		case TargetUnknown:
			if keepUnknown {
				targets = append(targets, Target{
					GroupName:      asg.Target.ODataType,
					MembershipType: "-",
					TargetType:     "-",
					Intent:         intent,
				})
			}
		}
	}
	return targets
}
