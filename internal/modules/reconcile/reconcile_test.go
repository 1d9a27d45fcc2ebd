package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
	"github.com/contentforge/core/internal/modules/dochost"
	"github.com/contentforge/core/internal/modules/document"
	"github.com/contentforge/core/internal/modules/versioning"
	"github.com/contentforge/core/internal/pkg/record"
)

type fakeHost struct {
	texts map[string]string
	down  map[string]bool
}

func (f *fakeHost) FetchText(_ context.Context, docID string) (string, error) {
	if f.down[docID] {
		return "", fmt.Errorf("%w: connection refused", dochost.ErrUnreachable)
	}
	text, ok := f.texts[docID]
	if !ok {
		return "", fmt.Errorf("%w: %s", dochost.ErrNotFound, docID)
	}
	return text, nil
}

func (f *fakeHost) FetchTree(_ context.Context, docID string) (*document.Node, error) {
	return nil, fmt.Errorf("%w: %s", dochost.ErrNotFound, docID)
}

type fixture struct {
	store    record.Store
	host     *fakeHost
	versions *versioning.Service
	worker   *Worker
	dropped  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		store: record.NewRedisStore(rdb),
		host:  &fakeHost{texts: map[string]string{}, down: map[string]bool{}},
	}
	f.versions = versioning.NewService(f.store)
	f.worker = NewWorker(f.store, f.host, f.versions,
		WithCacheInvalidator(func(_ context.Context, localID string) {
			f.dropped = append(f.dropped, localID)
		}))
	return f
}

func (f *fixture) putSource(t *testing.T, src *models.Source) {
	t.Helper()
	if src.ContentHash == "" && src.Content != nil {
		hash, err := contenthash.StalenessDigest(src)
		if err != nil {
			t.Fatalf("digest: %v", err)
		}
		src.ContentHash = hash
	}
	if err := record.SetJSON(context.Background(), f.store, record.SourceKey(src.ID), src); err != nil {
		t.Fatalf("seed source: %v", err)
	}
}

func (f *fixture) putEmbed(t *testing.T, emb *models.Embed) {
	t.Helper()
	if err := record.SetJSON(context.Background(), f.store, record.EmbedKey(emb.LocalID), emb); err != nil {
		t.Fatalf("seed embed: %v", err)
	}
}

func healthySource(id, docID string) *models.Source {
	return &models.Source{
		ID:               id,
		Name:             "Clause " + id,
		Content:          document.Doc(document.Paragraph(document.Text("Hello {{name}}"))),
		SourceDocumentID: docID,
		SourceAnchorID:   "anchor-" + id,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func TestOrphanDetectionDryRunThenLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	src := healthySource("src-1", "doc-1")
	f.putSource(t, src)
	f.host.texts["doc-1"] = "body with anchor-src-1 present"

	present := &models.Embed{LocalID: "emb-ok", SourceID: "src-1", PageID: "page-1"}
	gone := &models.Embed{LocalID: "emb-gone", SourceID: "src-1", PageID: "page-1"}
	f.putEmbed(t, present)
	f.putEmbed(t, gone)
	f.host.texts["page-1"] = "page containing emb-ok only"

	usage := &models.UsageIndex{SourceID: "src-1", References: []models.UsageRef{
		{LocalID: "emb-ok", PageID: "page-1"},
		{LocalID: "emb-gone", PageID: "page-1"},
	}}
	if err := record.SetJSON(ctx, f.store, record.UsageKey("src-1"), usage); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	// Dry run: detect but do not delete.
	report, err := f.worker.Run(ctx, "", true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if report.OrphanedCount != 1 {
		t.Fatalf("dry run orphanedCount = %d, want 1", report.OrphanedCount)
	}
	if report.Orphans[0].EntityID != "emb-gone" || report.Orphans[0].Reason != ReasonAnchorNotFound {
		t.Fatalf("orphan finding wrong: %+v", report.Orphans[0])
	}
	if _, err := f.store.Get(ctx, record.EmbedKey("emb-gone")); err != nil {
		t.Fatalf("dry run deleted the orphan record: %v", err)
	}
	if len(f.dropped) != 0 {
		t.Fatal("dry run invalidated caches")
	}

	// Live run removes the record, its cache and its usage entry.
	report, err = f.worker.Run(ctx, "", false)
	if err != nil {
		t.Fatalf("live run: %v", err)
	}
	if report.OrphanedCount != 1 {
		t.Fatalf("live orphanedCount = %d, want 1", report.OrphanedCount)
	}
	if _, err := f.store.Get(ctx, record.EmbedKey("emb-gone")); err == nil {
		t.Fatal("live run left the orphan record in place")
	}
	if len(f.dropped) != 1 || f.dropped[0] != "emb-gone" {
		t.Fatalf("cache invalidation wrong: %v", f.dropped)
	}
	var idx models.UsageIndex
	if err := record.GetJSON(ctx, f.store, record.UsageKey("src-1"), &idx); err != nil {
		t.Fatalf("read usage: %v", err)
	}
	if len(idx.References) != 1 || idx.References[0].LocalID != "emb-ok" {
		t.Fatalf("usage index not cleaned: %+v", idx.References)
	}
	if report.ActiveCount != 2 {
		t.Fatalf("activeCount = %d, want 2", report.ActiveCount)
	}
}

func TestOrphanReasonCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	missing := healthySource("src-missing", "doc-missing")
	unreachable := healthySource("src-unreach", "doc-down")
	f.putSource(t, missing)
	f.putSource(t, unreachable)
	f.host.down["doc-down"] = true

	report, err := f.worker.Run(ctx, "", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	reasons := make(map[string]string)
	for _, o := range report.Orphans {
		reasons[o.EntityID] = o.Reason
	}
	if reasons["src-missing"] != ReasonDocumentNotFound {
		t.Fatalf("missing doc reason = %q", reasons["src-missing"])
	}
	if got := reasons["src-unreach"]; got == "" || got[:len(reasonFetchPrefix)] != reasonFetchPrefix {
		t.Fatalf("unreachable reason = %q", got)
	}
}

func TestBrokenReferenceCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	emb := &models.Embed{LocalID: "emb-1", SourceID: "src-deleted", PageID: "page-1"}
	f.putEmbed(t, emb)
	f.host.texts["page-1"] = "page containing emb-1"

	report, err := f.worker.Run(ctx, "", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.BrokenReferenceCount != 1 || report.BrokenReferences[0] != "emb-1" {
		t.Fatalf("broken reference not reported: %+v", report)
	}
	if report.OrphanedCount != 0 {
		t.Fatal("dangling source reference is not an orphan")
	}
}

func TestStalenessDetection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	src := healthySource("src-1", "doc-1")
	f.putSource(t, src)
	f.host.texts["doc-1"] = "anchor-src-1"

	stale := &models.Embed{
		LocalID: "emb-stale", SourceID: "src-1", PageID: "page-1",
		SyncedContentHash: "outdated-digest",
	}
	fresh := &models.Embed{
		LocalID: "emb-fresh", SourceID: "src-1", PageID: "page-1",
	}
	freshHash, _ := contenthash.StalenessDigest(src)
	fresh.SyncedContentHash = freshHash
	f.putEmbed(t, stale)
	f.putEmbed(t, fresh)
	f.host.texts["page-1"] = "emb-stale emb-fresh"

	report, err := f.worker.Run(ctx, "", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.StaleCount != 1 || report.StaleEmbeds[0] != "emb-stale" {
		t.Fatalf("staleness wrong: %+v", report)
	}
}

func TestGuardedConversionSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	legacySrc := &models.Source{
		ID:               "src-legacy",
		Name:             "Legacy Clause",
		LegacyBody:       "Hello {{name}}\n\n{{toggle:extra}}More info{{/toggle:extra}}\n",
		SourceDocumentID: "doc-1",
		SourceAnchorID:   "anchor-src-legacy",
	}
	f.putSource(t, legacySrc)
	f.host.texts["doc-1"] = "anchor-src-legacy"

	report, err := f.worker.Run(ctx, "", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ConversionsCount != 1 || len(report.ConversionFailures) != 0 {
		t.Fatalf("conversion report wrong: %+v", report)
	}

	var converted models.Source
	if err := record.GetJSON(ctx, f.store, record.SourceKey("src-legacy"), &converted); err != nil {
		t.Fatalf("read converted: %v", err)
	}
	if converted.LegacyBody != "" || converted.Content == nil {
		t.Fatalf("source not converted: %+v", converted)
	}
	if len(converted.Toggles) != 1 || converted.Toggles[0] != "extra" {
		t.Fatalf("toggles not derived: %v", converted.Toggles)
	}
	if len(converted.Variables) != 1 || converted.Variables[0].Name != "name" {
		t.Fatalf("variables not derived: %v", converted.Variables)
	}
	if converted.ContentHash == "" {
		t.Fatal("content hash not recomputed")
	}

	history, err := f.versions.List(ctx, "src-legacy")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(history) != 1 || history[0].Metadata.ChangeType != models.ChangeFormatConversion {
		t.Fatalf("pre-conversion snapshot missing: %+v", history)
	}
}

func TestConversionFailureLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	badSrc := &models.Source{
		ID:               "src-bad",
		Name:             "Unparseable",
		LegacyBody:       "   \n",
		SourceDocumentID: "doc-1",
		SourceAnchorID:   "anchor-src-bad",
	}
	f.putSource(t, badSrc)
	f.host.texts["doc-1"] = "anchor-src-bad"

	before, err := f.store.Get(ctx, record.SourceKey("src-bad"))
	if err != nil {
		t.Fatalf("read before: %v", err)
	}

	report, err := f.worker.Run(ctx, "", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ConversionsCount != 0 {
		t.Fatalf("conversionsCount = %d", report.ConversionsCount)
	}
	if _, ok := report.ConversionFailures["src-bad"]; !ok {
		t.Fatalf("failure not reported: %+v", report.ConversionFailures)
	}

	after, err := f.store.Get(ctx, record.SourceKey("src-bad"))
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("failed conversion modified the stored record")
	}
}

func TestProgressRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	src := healthySource("src-1", "doc-1")
	f.putSource(t, src)
	f.host.texts["doc-1"] = "anchor-src-1"

	if _, err := f.worker.Run(ctx, "job-42", true); err != nil {
		t.Fatalf("run: %v", err)
	}

	var p models.Progress
	if err := record.GetJSON(ctx, f.store, record.ProgressKey("job-42"), &p); err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if !p.Done || p.Percent != 100 || p.Phase != "done" {
		t.Fatalf("final progress wrong: %+v", p)
	}
	var report Report
	if err := json.Unmarshal(p.Results, &report); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if !report.DryRun || report.ActiveCount != 1 {
		t.Fatalf("embedded report wrong: %+v", report)
	}
}
