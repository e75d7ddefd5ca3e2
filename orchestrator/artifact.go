package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/run"
)

const maxSlugLen = 100

// slugify implements spec §6's slug rule: lowercase, [a-z0-9-], max 100
// chars. Runs of disallowed characters collapse to a single dash; leading
// and trailing dashes are trimmed.
func slugify(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxSlugLen {
		out = strings.Trim(out[:maxSlugLen], "-")
	}
	if out == "" {
		out = "artifact"
	}
	return out
}

// runIDPrefix is the short identifier spec §6's `{run_id_prefix}` filename
// component uses.
func runIDPrefix(runID string) string {
	if len(runID) <= 8 {
		return runID
	}
	return runID[:8]
}

// AddArtifact implements spec §4.7's artifact recording path for content
// the orchestrator itself produces (as opposed to artifacts extracted from
// the sandbox during cleanup, see writeArtifact/stop). kind and sourcePath
// select the frontmatter's type/source fields.
func (o *Orchestrator) AddArtifact(ctx context.Context, kind, sourcePath, mime string, data []byte, status run.ArtifactStatus) (*run.ArtifactManifest, error) {
	return o.writeArtifact(ctx, ArtifactBytes{ArtifactKind: kind, SourcePath: sourcePath, Mime: mime, Data: data})
}

// writeArtifact implements spec §6's artifact layout writer: it derives a
// collision-free `outputs/YYYY/MM/{run_id_prefix}_{slug}.md` path, prepends
// YAML frontmatter, hands the bytes to the Vault, and records the manifest
// on the run row before emitting artifact.created.
func (o *Orchestrator) writeArtifact(ctx context.Context, a ArtifactBytes) (*run.ArtifactManifest, error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	now := run.Now()
	base := a.SourcePath
	if base == "" {
		base = a.ArtifactKind
	}
	slug := slugify(strings.TrimSuffix(filepath.Base(base), filepath.Ext(base)))

	dir := fmt.Sprintf("%s/%04d/%02d", o.deps.OutputDir, now.Year(), now.Month())
	path, err := o.resolveArtifactPath(ctx, dir, runIDPrefix(runID), slug)
	if err != nil {
		return nil, err
	}

	content := renderArtifactFrontmatter(runID, a, now) + string(a.Data)
	if err := o.deps.Vault.Write(ctx, path, []byte(content)); err != nil {
		return nil, fmt.Errorf("orchestrator: vault write: %w", err)
	}

	sum := sha256.Sum256([]byte(content))
	manifest := run.ArtifactManifest{
		ArtifactID:      uuid.NewString(),
		RunID:           runID,
		ArtifactKind:    a.ArtifactKind,
		Mime:            a.Mime,
		DestinationPath: path,
		SHA256:          hex.EncodeToString(sum[:]),
		SizeBytes:       int64(len(content)),
		CreatedAt:       now,
		Status:          run.ArtifactFinal,
	}
	if err := o.deps.Runs.AddArtifact(ctx, runID, manifest); err != nil {
		return nil, fmt.Errorf("orchestrator: persist artifact: %w", err)
	}

	ev := eventlog.NewEvent(runID, "", eventlog.SeverityInfo, eventlog.ArtifactCreatedPayload{
		ArtifactID:      manifest.ArtifactID,
		ArtifactKind:    manifest.ArtifactKind,
		DestinationPath: manifest.DestinationPath,
		SizeBytes:       manifest.SizeBytes,
	})
	if _, err := o.deps.Events.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("orchestrator: append artifact.created: %w", err)
	}

	return &manifest, nil
}

// resolveArtifactPath implements spec §6's collision rule: suffix with
// -2, -3, … until an unoccupied path is found.
func (o *Orchestrator) resolveArtifactPath(ctx context.Context, dir, prefix, slug string) (string, error) {
	candidate := fmt.Sprintf("%s/%s_%s.md", dir, prefix, slug)
	for n := 2; ; n++ {
		exists, err := o.deps.Vault.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("orchestrator: vault exists: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s/%s_%s-%d.md", dir, prefix, slug, n)
	}
}

func renderArtifactFrontmatter(runID string, a ArtifactBytes, now time.Time) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "run_id: %s\n", runID)
	fmt.Fprintf(&b, "agent: sandbox\n")
	fmt.Fprintf(&b, "source: %s\n", a.SourcePath)
	fmt.Fprintf(&b, "created_at: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "status: final\n")
	fmt.Fprintf(&b, "type: %s\n", a.ArtifactKind)
	b.WriteString("---\n\n")
	return b.String()
}
