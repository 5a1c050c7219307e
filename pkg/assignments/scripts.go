// pkg/assignments/scripts.go
package assignments

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/entrascope/entrascope/pkg/graph"
)

type managementScript struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description"`
	Assignments []assignment `json:"assignments"`
}

// CheckScripts reconciles platform script assignments for the engine's
// principal. Scripts enumerate tenant-wide with assignments expanded in
// one listing; scripts whose targets do not apply to the principal are
// omitted entirely.
func (e *Engine) CheckScripts(ctx context.Context) ([]Record, error) {
	e.session.Reset(siblingDomains(DomainScripts)...)

	scripts, _, err := graph.FetchAllPages[managementScript](ctx, e.client,
		e.client.Beta("/deviceManagement/deviceManagementScripts?$expand=assignments"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch management scripts: %w", err)
	}

	var records []Record
	for _, script := range scripts {
		if len(script.Assignments) == 0 {
			continue
		}
		targets := e.classifyAssignments(ctx, script.Assignments, e.HasUser(), false)
		if len(targets) == 0 {
			continue
		}
		records = append(records, Record{SubjectName: script.DisplayName, Targets: targets})
	}
	e.logger.Debug("script assignments reconciled", "scripts", len(scripts), "matched", len(records))

	e.session.Store(DomainScripts, records)
	return records, nil
}

// Script is a downloadable platform script.
type Script struct {
	FileName string
	Content  []byte
}

// DownloadScript fetches a management script and decodes its payload.
func DownloadScript(ctx context.Context, c *graph.Client, scriptID string) (*Script, error) {
	var out struct {
		FileName      string `json:"fileName"`
		ScriptContent string `json:"scriptContent"`
	}
	url := c.Beta("/deviceManagement/deviceManagementScripts/" + scriptID)
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch script %s: %w", scriptID, err)
	}
	if out.ScriptContent == "" {
		return nil, fmt.Errorf("script %s has no content", scriptID)
	}

	content, err := base64.StdEncoding.DecodeString(out.ScriptContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode script content: %w", err)
	}
	name := out.FileName
	if name == "" {
		name = "IntuneScript.ps1"
	}
	return &Script{FileName: name, Content: content}, nil
}
