// Package versioning keeps immutable pre-mutation snapshots of Sources and
// Embeds in the record store, with per-entity history indexes, restore with a
// safety backup, and retention-based pruning.
package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
	"github.com/contentforge/core/internal/modules/validate"
	"github.com/contentforge/core/internal/pkg/record"
)

// ErrCorruptSnapshot is returned when a stored snapshot can no longer be
// decoded into its entity type. Restore refuses to touch the live record in
// that case.
var ErrCorruptSnapshot = errors.New("corrupt version snapshot")

const (
	// DefaultRetention is how long snapshots are kept before pruning.
	DefaultRetention = 14 * 24 * time.Hour

	// pruneInterval throttles prune runs regardless of how often they are
	// requested.
	pruneInterval = 24 * time.Hour

	lastPruneKey = record.NSMeta + "last-prune"
)

// SaveResult reports what Save did. ContentHash is the version digest that
// drove the dedup decision, present whether or not a snapshot was written.
type SaveResult struct {
	VersionID   string `json:"versionId,omitempty"`
	ContentHash string `json:"contentHash"`
	Skipped     bool   `json:"skipped"`
}

// RestoreHook runs after a successful restore. The embed module uses it to
// drop stale render caches.
type RestoreHook func(ctx context.Context, entityType models.EntityType, entityID string)

// Service is the version store.
type Service struct {
	store     record.Store
	logger    *zap.Logger
	retention time.Duration
	locks     keyedMutex
	onRestore RestoreHook
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("Versioning")
		}
	}
}

// WithRetention overrides the snapshot retention window.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithRestoreHook registers a callback invoked after each restore.
func WithRestoreHook(h RestoreHook) Option {
	return func(s *Service) { s.onRestore = h }
}

func NewService(store record.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    zap.NewNop(),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save snapshots the entity's current state before a mutation. When the
// entity's version digest matches the most recent snapshot the save is
// skipped; DELETE and BACKUP_BEFORE_RESTORE snapshots are always written so
// the history never loses a destructive step.
func (s *Service) Save(ctx context.Context, entityType models.EntityType, entityID string, entity interface{}, meta models.VersionMetadata) (*SaveResult, error) {
	hash, err := contenthash.VersionDigest(entity)
	if err != nil {
		return nil, err
	}

	// A save landing more than a day after the last prune pays for the
	// sweep. Must run before the entity lock is taken: pruning locks the
	// same keys.
	s.maybePrune(ctx)

	unlock := s.locks.lock(entityID)
	defer unlock()

	index, err := s.loadIndex(ctx, entityID)
	if err != nil {
		return nil, err
	}

	force := meta.ChangeType == models.ChangeDelete || meta.ChangeType == models.ChangeBackupBeforeRestore
	if !force && len(index.Versions) > 0 {
		latest := index.Versions[len(index.Versions)-1]
		if latest.ContentHash == hash {
			return &SaveResult{ContentHash: hash, Skipped: true}, nil
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	now := time.Now()
	versionID := entityID + "@" + strconv.FormatInt(now.UnixMilli(), 10)
	// Two saves inside the same millisecond would collide; nudge forward.
	for len(index.Versions) > 0 && index.Versions[len(index.Versions)-1].VersionID == versionID {
		now = now.Add(time.Millisecond)
		versionID = entityID + "@" + strconv.FormatInt(now.UnixMilli(), 10)
	}

	snapshot := models.VersionSnapshot{
		VersionID:   versionID,
		EntityID:    entityID,
		EntityType:  entityType,
		StorageKey:  storageKey(entityType, entityID),
		Timestamp:   now,
		ContentHash: hash,
		Data:        data,
		Metadata:    meta,
	}
	if err := record.SetJSON(ctx, s.store, record.VersionKey(versionID), &snapshot); err != nil {
		return nil, err
	}

	index.Versions = append(index.Versions, models.VersionSummary{
		VersionID:   versionID,
		Timestamp:   now,
		ContentHash: hash,
		Metadata:    meta,
	})
	if err := record.SetJSON(ctx, s.store, record.VersionIndexKey(entityID), index); err != nil {
		return nil, err
	}

	s.logger.Debug("snapshot saved",
		zap.String("entity", entityID),
		zap.String("version", versionID),
		zap.String("change", string(meta.ChangeType)))
	return &SaveResult{VersionID: versionID, ContentHash: hash}, nil
}

// List returns an entity's version history, newest first.
func (s *Service) List(ctx context.Context, entityID string) ([]models.VersionSummary, error) {
	index, err := s.loadIndex(ctx, entityID)
	if err != nil {
		return nil, err
	}
	out := make([]models.VersionSummary, len(index.Versions))
	for i, v := range index.Versions {
		out[len(index.Versions)-1-i] = v
	}
	return out, nil
}

// Get loads one snapshot by version id.
func (s *Service) Get(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	var snapshot models.VersionSnapshot
	if err := record.GetJSON(ctx, s.store, record.VersionKey(versionID), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Restore writes a snapshot's data back over the live record. The current
// state is snapshotted first with change type BACKUP_BEFORE_RESTORE and the
// backup's version id is returned, so the restore can itself be undone by
// restoring that id; the id is empty when the entity had been deleted. A
// snapshot that no longer decodes refuses with ErrCorruptSnapshot and leaves
// the live record untouched.
func (s *Service) Restore(ctx context.Context, entityType models.EntityType, entityID, versionID, changedBy string) (string, error) {
	snapshot, err := s.Get(ctx, versionID)
	if err != nil {
		return "", err
	}
	if snapshot.EntityID != entityID || snapshot.EntityType != entityType {
		return "", fmt.Errorf("version %s does not belong to %s %s", versionID, entityType, entityID)
	}

	restored, err := decodeSnapshot(entityType, snapshot.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, versionID, err)
	}

	var backupID string
	key := storageKey(entityType, entityID)
	current, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		var live interface{}
		if jsonErr := json.Unmarshal(current, &live); jsonErr != nil {
			return "", fmt.Errorf("decode live record %s: %w", key, jsonErr)
		}
		backup, err := s.Save(ctx, entityType, entityID, live, models.VersionMetadata{
			ChangeType: models.ChangeBackupBeforeRestore,
			ChangedBy:  changedBy,
		})
		if err != nil {
			return "", err
		}
		backupID = backup.VersionID
	case errors.Is(err, record.ErrNotFound):
		// Entity was deleted; restore resurrects it without a backup.
	default:
		return "", err
	}

	touch(restored)
	if err := record.SetJSON(ctx, s.store, key, restored); err != nil {
		return "", err
	}

	if s.onRestore != nil {
		s.onRestore(ctx, entityType, entityID)
	}
	s.logger.Info("version restored",
		zap.String("entity", entityID),
		zap.String("version", versionID),
		zap.String("backup", backupID),
		zap.String("by", changedBy))
	return backupID, nil
}

// PruneReport summarizes one prune run.
type PruneReport struct {
	Ran     bool `json:"ran"`
	Deleted int  `json:"deleted"`
}

type pruneState struct {
	LastRun time.Time `json:"lastRun"`
}

// Prune deletes snapshots older than the retention window, always keeping an
// entity's most recent snapshot. Runs are throttled to once per day via a
// meta record, so callers can invoke it opportunistically.
func (s *Service) Prune(ctx context.Context) (*PruneReport, error) {
	var state pruneState
	err := record.GetJSON(ctx, s.store, lastPruneKey, &state)
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		return nil, err
	}
	if err == nil && time.Since(state.LastRun) < pruneInterval {
		return &PruneReport{Ran: false}, nil
	}

	cutoff := time.Now().Add(-s.retention)
	report := &PruneReport{Ran: true}

	indexKeys, err := record.ScanAll(ctx, s.store, record.NSVersionIndex)
	if err != nil {
		return nil, err
	}
	for _, key := range indexKeys {
		entityID := key[len(record.NSVersionIndex):]
		deleted, err := s.pruneEntity(ctx, entityID, cutoff)
		if err != nil {
			s.logger.Warn("prune failed for entity", zap.String("entity", entityID), zap.Error(err))
			continue
		}
		report.Deleted += deleted
	}

	state.LastRun = time.Now()
	if err := record.SetJSON(ctx, s.store, lastPruneKey, &state); err != nil {
		return nil, err
	}
	s.logger.Info("prune completed", zap.Int("deleted", report.Deleted))
	return report, nil
}

// maybePrune kicks a prune run when the last one is more than a day old.
// Best-effort: failures are logged and never reach the caller.
func (s *Service) maybePrune(ctx context.Context) {
	var state pruneState
	err := record.GetJSON(ctx, s.store, lastPruneKey, &state)
	if err == nil && time.Since(state.LastRun) < pruneInterval {
		return
	}
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		s.logger.Warn("prune freshness check failed", zap.Error(err))
		return
	}
	if _, err := s.Prune(ctx); err != nil {
		s.logger.Warn("opportunistic prune failed", zap.Error(err))
	}
}

func (s *Service) pruneEntity(ctx context.Context, entityID string, cutoff time.Time) (int, error) {
	unlock := s.locks.lock(entityID)
	defer unlock()

	index, err := s.loadIndex(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if len(index.Versions) <= 1 {
		return 0, nil
	}

	kept := index.Versions[:0:0]
	deleted := 0
	for i, v := range index.Versions {
		// The newest snapshot survives regardless of age.
		if i == len(index.Versions)-1 || v.Timestamp.After(cutoff) {
			kept = append(kept, v)
			continue
		}
		if err := s.store.Delete(ctx, record.VersionKey(v.VersionID)); err != nil && !errors.Is(err, record.ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	index.Versions = kept
	return deleted, record.SetJSON(ctx, s.store, record.VersionIndexKey(entityID), index)
}

func (s *Service) loadIndex(ctx context.Context, entityID string) (*models.VersionIndex, error) {
	var index models.VersionIndex
	err := record.GetJSON(ctx, s.store, record.VersionIndexKey(entityID), &index)
	if errors.Is(err, record.ErrNotFound) {
		return &models.VersionIndex{EntityID: entityID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &index, nil
}

func storageKey(entityType models.EntityType, entityID string) string {
	if entityType == models.EntityEmbed {
		return record.EmbedKey(entityID)
	}
	return record.SourceKey(entityID)
}

func decodeSnapshot(entityType models.EntityType, data json.RawMessage) (interface{}, error) {
	switch entityType {
	case models.EntitySource:
		var src models.Source
		if err := json.Unmarshal(data, &src); err != nil {
			return nil, err
		}
		if err := validate.Source(&src); err != nil {
			return nil, err
		}
		return &src, nil
	case models.EntityEmbed:
		var emb models.Embed
		if err := json.Unmarshal(data, &emb); err != nil {
			return nil, err
		}
		if err := validate.Embed(&emb); err != nil {
			return nil, err
		}
		return &emb, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
}

func touch(entity interface{}) {
	now := time.Now()
	switch e := entity.(type) {
	case *models.Source:
		e.UpdatedAt = now
	case *models.Embed:
		e.UpdatedAt = now
	}
}

// keyedMutex serializes index read-modify-write per entity.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
