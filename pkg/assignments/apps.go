// pkg/assignments/apps.go
package assignments

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// zeroGUID addresses the device plane of the app intent API: app
// intents targeted at the device rather than any user live under a
// null user.
const zeroGUID = "00000000-0000-0000-0000-000000000000"

type appIntent struct {
	ApplicationID   string `json:"applicationId"`
	DisplayName     string `json:"displayName"`
	MobileAppIntent string `json:"mobileAppIntent"`
	DisplayVersion  string `json:"displayVersion"`
	InstallState    string `json:"installState"`
	plane           string
}

// CheckApps reconciles app assignments for the engine's principal,
// covering both the device plane and, when a user exists, the user
// plane of the app intent API. Every reported app keeps its row: apps
// with no applicable assignment get the No Assignments sentinel so the
// install state stays visible. Unknown target kinds surface the raw
// kind string instead of being dropped.
func (e *Engine) CheckApps(ctx context.Context, mdmDeviceID string) ([]Record, error) {
	e.session.Reset(siblingDomains(DomainApps)...)

	apps, err := e.fetchAppIntents(ctx, mdmDeviceID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	records := make([]Record, 0, len(apps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, app := range apps {
		g.Go(func() error {
			rec := e.checkApp(gctx, app)
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	e.session.Store(DomainApps, records)
	return records, nil
}

func (e *Engine) fetchAppIntents(ctx context.Context, mdmDeviceID string) ([]appIntent, error) {
	fetch := func(userID, plane string) ([]appIntent, error) {
		var out struct {
			MobileAppList []appIntent `json:"mobileAppList"`
		}
		url := e.client.Beta(fmt.Sprintf("/users('%s')/mobileAppIntentAndStates('%s')", userID, mdmDeviceID))
		if err := e.client.GetJSON(ctx, url, &out); err != nil {
			return nil, err
		}
		for i := range out.MobileAppList {
			out.MobileAppList[i].plane = plane
			if out.MobileAppList[i].DisplayVersion == "" {
				out.MobileAppList[i].DisplayVersion = "N/A"
			}
		}
		return out.MobileAppList, nil
	}

	deviceApps, err := fetch(zeroGUID, string(e.device.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device app intents: %w", err)
	}

	apps := deviceApps
	if e.user != nil {
		userApps, err := fetch(e.user.DirectoryID, string(e.user.Kind))
		if err != nil {
			e.logger.Warn("user app intent fetch failed", "error", err)
		} else {
			apps = append(apps, userApps...)
		}
	}
	e.logger.Debug("app intents fetched", "apps", len(apps))
	return apps, nil
}

func (e *Engine) checkApp(ctx context.Context, app appIntent) Record {
	var page struct {
		Value []assignment `json:"value"`
	}
	url := e.client.Beta("/deviceAppManagement/mobileApps/" + app.ApplicationID + "/assignments")
	if err := e.client.GetJSON(ctx, url, &page); err != nil {
		e.logger.Warn("assignment fetch failed for app", "app", app.DisplayName, "error", err)
		page.Value = nil
	}

	// Assignment intent wins over the reported app intent when present.
	for i := range page.Value {
		if page.Value[i].Intent == "" {
			page.Value[i].Intent = app.MobileAppIntent
		}
	}

	targets := e.classifyAssignments(ctx, page.Value, e.HasUser(), true)
	if len(targets) == 0 {
		intent := app.MobileAppIntent
		if intent == "" {
			intent = "-"
		}
		targets = []Target{{
			GroupName:      NoAssignments,
			MembershipType: "-",
			TargetType:     app.plane,
			Intent:         intent,
		}}
	}
	return Record{
		SubjectName: app.DisplayName,
		State:       app.InstallState,
		Version:     app.DisplayVersion,
		Targets:     targets,
	}
}
