// Package reconcile walks the whole corpus in four phases: load and group,
// presence check against the document host, guarded legacy-format migration,
// cleanup and report. Each entity is handled independently, so a failure
// mid-run leaves everything already processed in a valid state and the next
// run simply finds less to do.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
	"github.com/contentforge/core/internal/modules/dochost"
	"github.com/contentforge/core/internal/modules/legacy"
	"github.com/contentforge/core/internal/modules/render"
	"github.com/contentforge/core/internal/modules/validate"
	"github.com/contentforge/core/internal/modules/versioning"
	"github.com/contentforge/core/internal/pkg/record"
	"github.com/contentforge/core/internal/pkg/taskqueue"
)

// ErrConversion marks a failed format migration. The affected Source is
// rolled back to its pre-conversion snapshot; other Sources proceed.
var ErrConversion = errors.New("format conversion failed")

// TaskType is the queue task type reconciliation jobs run under.
const TaskType = "reconcile"

const actor = "reconciler"

// Orphan reason codes.
const (
	ReasonDocumentNotFound = "document not found"
	ReasonAnchorNotFound   = "anchor not found"
	reasonFetchPrefix      = "fetch error: "
)

// OrphanFinding names one entity whose anchor no longer exists.
type OrphanFinding struct {
	EntityType models.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Reason     string            `json:"reason"`
}

// Report is the summary of one reconciliation run. Per-entity failures are
// always included, never collapsed into a single boolean.
type Report struct {
	DryRun               bool              `json:"dryRun"`
	ActiveCount          int               `json:"activeCount"`
	OrphanedCount        int               `json:"orphanedCount"`
	BrokenReferenceCount int               `json:"brokenReferenceCount"`
	StaleCount           int               `json:"staleCount"`
	ConversionsCount     int               `json:"conversionsCount"`
	ConversionFailures   map[string]string `json:"conversionFailures,omitempty"`
	Orphans              []OrphanFinding   `json:"orphans,omitempty"`
	BrokenReferences     []string          `json:"brokenReferences,omitempty"`
	StaleEmbeds          []string          `json:"staleEmbeds,omitempty"`
}

// CacheInvalidator drops derived render caches for an embed.
type CacheInvalidator func(ctx context.Context, localID string)

// Worker runs reconciliation jobs.
type Worker struct {
	store      record.Store
	host       dochost.Host
	versions   *versioning.Service
	logger     *zap.Logger
	invalidate CacheInvalidator
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l.Named("Reconcile")
		}
	}
}

// WithCacheInvalidator wires render-cache invalidation for cleaned embeds.
func WithCacheInvalidator(fn CacheInvalidator) Option {
	return func(w *Worker) { w.invalidate = fn }
}

func NewWorker(store record.Store, host dochost.Host, versions *versioning.Service, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		host:     host,
		versions: versions,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type jobPayload struct {
	DryRun bool `json:"dryRun"`
}

// Handler adapts the worker to the task queue. The task id doubles as the
// job id interactive callers poll progress under.
func (w *Worker) Handler() taskqueue.Handler {
	return func(ctx context.Context, task *taskqueue.Task) error {
		var p jobPayload
		if len(task.Payload) > 0 {
			if err := json.Unmarshal(task.Payload, &p); err != nil {
				return fmt.Errorf("decode reconcile payload: %w", err)
			}
		}
		_, err := w.Run(ctx, task.ID, p.DryRun)
		return err
	}
}

// Run executes one full reconciliation pass and returns its report. Progress
// is published to progress:<jobID> throughout; pass an empty job id to skip
// progress reporting (tests, synchronous callers).
func (w *Worker) Run(ctx context.Context, jobID string, dryRun bool) (*Report, error) {
	report := &Report{
		DryRun:             dryRun,
		ConversionFailures: make(map[string]string),
	}

	// Phase 1: load and group.
	w.progress(ctx, jobID, "load", 0, 0, 0, "loading corpus")
	sources, err := w.loadSources(ctx)
	if err != nil {
		return nil, err
	}
	embeds, err := w.loadEmbeds(ctx)
	if err != nil {
		return nil, err
	}

	sourcesByDoc := make(map[string][]*models.Source)
	for _, src := range sources {
		sourcesByDoc[src.SourceDocumentID] = append(sourcesByDoc[src.SourceDocumentID], src)
	}
	embedsByPage := make(map[string][]*models.Embed)
	for _, emb := range embeds {
		embedsByPage[emb.PageID] = append(embedsByPage[emb.PageID], emb)
	}
	total := len(sources) + len(embeds)
	w.progress(ctx, jobID, "load", 10, total, total, "")

	// Phase 2: presence check, one fetch per document.
	orphanSources := make(map[string]string)
	orphanEmbeds := make(map[string]string)

	docCount := len(sourcesByDoc) + len(embedsByPage)
	checked := 0
	for docID, docSources := range sourcesByDoc {
		text, fetchReason := w.fetchDocument(ctx, docID)
		for _, src := range docSources {
			if fetchReason != "" {
				orphanSources[src.ID] = fetchReason
			} else if !strings.Contains(text, src.SourceAnchorID) {
				orphanSources[src.ID] = ReasonAnchorNotFound
			}
		}
		checked++
		w.progress(ctx, jobID, "presence", 10+40*checked/max(docCount, 1), checked, docCount, "")
	}
	for pageID, pageEmbeds := range embedsByPage {
		text, fetchReason := w.fetchDocument(ctx, pageID)
		for _, emb := range pageEmbeds {
			if fetchReason != "" {
				orphanEmbeds[emb.LocalID] = fetchReason
			} else if !strings.Contains(text, emb.LocalID) {
				orphanEmbeds[emb.LocalID] = ReasonAnchorNotFound
			}
		}
		checked++
		w.progress(ctx, jobID, "presence", 10+40*checked/max(docCount, 1), checked, docCount, "")
	}

	for id, reason := range orphanSources {
		report.Orphans = append(report.Orphans, OrphanFinding{models.EntitySource, id, reason})
	}
	for id, reason := range orphanEmbeds {
		report.Orphans = append(report.Orphans, OrphanFinding{models.EntityEmbed, id, reason})
	}
	report.OrphanedCount = len(report.Orphans)

	for _, emb := range embeds {
		if _, gone := orphanEmbeds[emb.LocalID]; gone {
			continue
		}
		if _, ok := sources[emb.SourceID]; !ok {
			report.BrokenReferenceCount++
			report.BrokenReferences = append(report.BrokenReferences, emb.LocalID)
		}
	}

	// Phase 3: guarded format migration, present legacy Sources only.
	converted := 0
	for id, src := range sources {
		if _, gone := orphanSources[id]; gone || !src.IsLegacy() {
			continue
		}
		if err := w.convertSource(ctx, src); err != nil {
			report.ConversionFailures[id] = err.Error()
			w.logger.Warn("conversion failed", zap.String("source", id), zap.Error(err))
			continue
		}
		report.ConversionsCount++
		converted++
		w.progress(ctx, jobID, "migrate", 50+25*converted/max(len(sources), 1), converted, len(sources), "")
	}

	// Phase 4: staleness detection, cleanup, report.
	for _, emb := range embeds {
		if _, gone := orphanEmbeds[emb.LocalID]; gone {
			continue
		}
		src, ok := sources[emb.SourceID]
		if !ok || emb.SyncedContentHash == "" {
			continue
		}
		fresh, err := contenthash.StalenessDigest(src)
		if err != nil {
			w.logger.Warn("staleness digest failed", zap.String("source", src.ID), zap.Error(err))
			continue
		}
		if fresh != emb.SyncedContentHash {
			report.StaleCount++
			report.StaleEmbeds = append(report.StaleEmbeds, emb.LocalID)
		}
	}

	if !dryRun {
		w.progress(ctx, jobID, "cleanup", 80, 0, len(orphanEmbeds), "removing orphaned embeds")
		cleaned := 0
		for localID := range orphanEmbeds {
			if err := w.cleanupEmbed(ctx, embeds[localID]); err != nil {
				w.logger.Warn("cleanup failed", zap.String("embed", localID), zap.Error(err))
				continue
			}
			cleaned++
			w.progress(ctx, jobID, "cleanup", 80+15*cleaned/max(len(orphanEmbeds), 1), cleaned, len(orphanEmbeds), "")
		}
	}

	report.ActiveCount = (len(sources) - len(orphanSources)) + (len(embeds) - len(orphanEmbeds))
	w.complete(ctx, jobID, report)
	w.logger.Info("reconciliation finished",
		zap.Bool("dryRun", dryRun),
		zap.Int("active", report.ActiveCount),
		zap.Int("orphaned", report.OrphanedCount),
		zap.Int("stale", report.StaleCount),
		zap.Int("conversions", report.ConversionsCount),
		zap.Int("conversionFailures", len(report.ConversionFailures)))
	return report, nil
}

// fetchDocument returns the document text, or an orphan reason when the
// document itself cannot vouch for its anchors.
func (w *Worker) fetchDocument(ctx context.Context, docID string) (string, string) {
	text, err := w.host.FetchText(ctx, docID)
	switch {
	case err == nil:
		return text, ""
	case errors.Is(err, dochost.ErrNotFound):
		return "", ReasonDocumentNotFound
	default:
		return "", reasonFetchPrefix + err.Error()
	}
}

// convertSource migrates one legacy Source to the tree format. The
// pre-conversion snapshot is the safety net: if it cannot be written the
// conversion aborts, and any failure after the live write restores it.
func (w *Worker) convertSource(ctx context.Context, src *models.Source) error {
	pre, err := w.versions.Save(ctx, models.EntitySource, src.ID, src, models.VersionMetadata{
		ChangeType: models.ChangeFormatConversion,
		ChangedBy:  actor,
	})
	if err != nil {
		return fmt.Errorf("pre-conversion snapshot: %w", err)
	}

	tree, err := legacy.Convert(src.LegacyBody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}

	out := *src
	out.Content = tree
	out.LegacyBody = ""
	out.Toggles = render.ToggleNames(tree)
	out.Variables = mergeVariables(src.Variables, render.VariableNames(tree))
	hash, err := contenthash.StalenessDigest(&out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	out.ContentHash = hash
	out.UpdatedAt = time.Now()

	if err := validate.Source(&out); err != nil {
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}
	if err := validate.SafeWrite(ctx, w.store, record.SourceKey(src.ID), &out, nil, w.logger); err != nil {
		if pre.VersionID != "" {
			if _, rerr := w.versions.Restore(ctx, models.EntitySource, src.ID, pre.VersionID, actor); rerr != nil {
				w.logger.Error("rollback after failed conversion write failed",
					zap.String("source", src.ID), zap.Error(rerr))
			}
		}
		return fmt.Errorf("%w: %v", ErrConversion, err)
	}

	*src = out
	return nil
}

func mergeVariables(existing []models.SourceVariable, names []string) []models.SourceVariable {
	out := append([]models.SourceVariable(nil), existing...)
	have := make(map[string]bool, len(existing))
	for _, v := range existing {
		have[v.Name] = true
	}
	for _, name := range names {
		if !have[name] {
			out = append(out, models.SourceVariable{Name: name})
		}
	}
	return out
}

// cleanupEmbed removes an orphaned embed's record, render cache and usage
// index entry.
func (w *Worker) cleanupEmbed(ctx context.Context, emb *models.Embed) error {
	if emb == nil {
		return nil
	}
	if err := w.store.Delete(ctx, record.EmbedKey(emb.LocalID)); err != nil && !errors.Is(err, record.ErrNotFound) {
		return err
	}
	if w.invalidate != nil {
		w.invalidate(ctx, emb.LocalID)
	}
	return w.removeUsageRef(ctx, emb.SourceID, emb.LocalID)
}

func (w *Worker) removeUsageRef(ctx context.Context, sourceID, localID string) error {
	var idx models.UsageIndex
	err := record.GetJSON(ctx, w.store, record.UsageKey(sourceID), &idx)
	if errors.Is(err, record.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	kept := idx.References[:0:0]
	for _, ref := range idx.References {
		if ref.LocalID != localID {
			kept = append(kept, ref)
		}
	}
	if len(kept) == len(idx.References) {
		return nil
	}
	idx.References = kept
	idx.CachedAt = time.Now()
	return record.SetJSON(ctx, w.store, record.UsageKey(sourceID), &idx)
}

func (w *Worker) loadSources(ctx context.Context) (map[string]*models.Source, error) {
	keys, err := record.ScanAll(ctx, w.store, record.NSSource)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Source, len(keys))
	for _, key := range keys {
		var src models.Source
		if err := record.GetJSON(ctx, w.store, key, &src); err != nil {
			w.logger.Warn("unreadable source record", zap.String("key", key), zap.Error(err))
			continue
		}
		out[src.ID] = &src
	}
	return out, nil
}

func (w *Worker) loadEmbeds(ctx context.Context) (map[string]*models.Embed, error) {
	keys, err := record.ScanAll(ctx, w.store, record.NSEmbed)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Embed, len(keys))
	for _, key := range keys {
		var emb models.Embed
		if err := record.GetJSON(ctx, w.store, key, &emb); err != nil {
			w.logger.Warn("unreadable embed record", zap.String("key", key), zap.Error(err))
			continue
		}
		out[emb.LocalID] = &emb
	}
	return out, nil
}

func (w *Worker) progress(ctx context.Context, jobID, phase string, percent, processed, total int, status string) {
	if jobID == "" {
		return
	}
	p := models.Progress{
		JobID:     jobID,
		Phase:     phase,
		Percent:   percent,
		Processed: processed,
		Total:     total,
		Status:    status,
		UpdatedAt: time.Now(),
	}
	if err := record.SetJSON(ctx, w.store, record.ProgressKey(jobID), &p); err != nil {
		w.logger.Warn("progress update failed", zap.String("job", jobID), zap.Error(err))
	}
}

func (w *Worker) complete(ctx context.Context, jobID string, report *Report) {
	if jobID == "" {
		return
	}
	results, err := json.Marshal(report)
	if err != nil {
		w.logger.Warn("encode report failed", zap.String("job", jobID), zap.Error(err))
	}
	p := models.Progress{
		JobID:     jobID,
		Phase:     "done",
		Percent:   100,
		Done:      true,
		Results:   results,
		UpdatedAt: time.Now(),
	}
	if err := record.SetJSON(ctx, w.store, record.ProgressKey(jobID), &p); err != nil {
		w.logger.Warn("progress update failed", zap.String("job", jobID), zap.Error(err))
	}
}
