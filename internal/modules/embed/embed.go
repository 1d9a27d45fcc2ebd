// Package embed manages Embed instances: per-instance configuration, the
// cached render surface, diffing against the synced template, re-sync and the
// redline review endpoints.
package embed

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
	"github.com/contentforge/core/internal/modules/document"
	"github.com/contentforge/core/internal/modules/redline"
	"github.com/contentforge/core/internal/modules/render"
	"github.com/contentforge/core/internal/modules/validate"
	"github.com/contentforge/core/internal/modules/versioning"
	"github.com/contentforge/core/internal/pkg/pagination"
	"github.com/contentforge/core/internal/pkg/record"
	redisc "github.com/contentforge/core/internal/pkg/redis"
	"github.com/contentforge/core/internal/pkg/response"
)

const renderCacheTTL = time.Hour

// RenderCacheKey is the redis key derived render output is cached under.
func RenderCacheKey(localID string) string { return "render:" + localID }

type CreateEmbedDTO struct {
	SourceID         string                 `json:"sourceId" binding:"required"`
	PageID           string                 `json:"pageId" binding:"required"`
	VariableValues   map[string]string      `json:"variableValues"`
	ToggleStates     map[string]bool        `json:"toggleStates"`
	CustomInsertions []models.TextInsertion `json:"customInsertions"`
	InternalNotes    []models.TextInsertion `json:"internalNotes"`
}

type UpdateEmbedDTO struct {
	VariableValues   map[string]string      `json:"variableValues"`
	ToggleStates     map[string]bool        `json:"toggleStates"`
	CustomInsertions []models.TextInsertion `json:"customInsertions"`
	InternalNotes    []models.TextInsertion `json:"internalNotes"`
}

type RedlineDTO struct {
	Status models.RedlineStatus `json:"status" binding:"required"`
	Reason string               `json:"reason"`
}

// DiffResult pairs ghost renders of the Source's current content and the
// content the Embed last synced to, for change review.
type DiffResult struct {
	Current     *document.Node `json:"current,omitempty"`
	Synced      *document.Node `json:"synced,omitempty"`
	CurrentText string         `json:"currentText"`
	SyncedText  string         `json:"syncedText"`
	Stale       bool           `json:"stale"`
}

type Service struct {
	store    record.Store
	versions *versioning.Service
	rc       *redisc.Client
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("Embed")
		}
	}
}

func NewService(store record.Store, versions *versioning.Service, rc *redisc.Client, opts ...Option) *Service {
	s := &Service{store: store, versions: versions, rc: rc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, dto *CreateEmbedDTO, actor string) (*models.Embed, error) {
	src, err := s.getSource(ctx, dto.SourceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	emb := &models.Embed{
		LocalID:          uuid.New().String(),
		SourceID:         dto.SourceID,
		PageID:           dto.PageID,
		VariableValues:   dto.VariableValues,
		ToggleStates:     dto.ToggleStates,
		CustomInsertions: dto.CustomInsertions,
		InternalNotes:    dto.InternalNotes,
		RedlineStatus:    models.RedlineReviewable,
		CreatedAt:        now,
	}
	if err := s.syncFrom(emb, src); err != nil {
		return nil, err
	}
	if err := s.save(ctx, emb, models.ChangeCreate, actor); err != nil {
		return nil, err
	}
	return emb, nil
}

func (s *Service) Update(ctx context.Context, localID string, dto *UpdateEmbedDTO, actor string) (*models.Embed, error) {
	emb, err := s.Get(ctx, localID)
	if err != nil {
		return nil, err
	}
	if dto.VariableValues != nil {
		emb.VariableValues = dto.VariableValues
	}
	if dto.ToggleStates != nil {
		emb.ToggleStates = dto.ToggleStates
	}
	if dto.CustomInsertions != nil {
		emb.CustomInsertions = dto.CustomInsertions
	}
	if dto.InternalNotes != nil {
		emb.InternalNotes = dto.InternalNotes
	}
	if err := s.save(ctx, emb, models.ChangeUpdate, actor); err != nil {
		return nil, err
	}
	return emb, nil
}

// save is the single write path: redline auto-check, version snapshot,
// validated write, render-cache invalidation, detached usage-index update.
func (s *Service) save(ctx context.Context, emb *models.Embed, change models.ChangeType, actor string) error {
	emb.UpdatedAt = time.Now()

	demoted, err := redline.CheckApproved(emb)
	if err != nil {
		return err
	}
	if demoted {
		s.logger.Info("approved embed auto-demoted", zap.String("embed", emb.LocalID))
	}

	if _, err := s.versions.Save(ctx, models.EntityEmbed, emb.LocalID, emb, models.VersionMetadata{
		ChangeType: change,
		ChangedBy:  actor,
	}); err != nil {
		return err
	}
	if err := validate.SafeWrite(ctx, s.store, record.EmbedKey(emb.LocalID), emb,
		func() error { return validate.Embed(emb) }, s.logger); err != nil {
		return err
	}
	s.InvalidateRenderCache(ctx, emb.LocalID)

	// Usage index maintenance is a detached continuation: the caller's success
	// does not wait for it, and its failure is logged, never propagated.
	snapshot := *emb
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.updateUsage(bg, &snapshot); err != nil {
			s.logger.Warn("usage index update failed",
				zap.String("embed", snapshot.LocalID), zap.Error(err))
		}
	}()
	return nil
}

func (s *Service) updateUsage(ctx context.Context, emb *models.Embed) error {
	var idx models.UsageIndex
	err := record.GetJSON(ctx, s.store, record.UsageKey(emb.SourceID), &idx)
	if errors.Is(err, record.ErrNotFound) {
		idx = models.UsageIndex{SourceID: emb.SourceID}
	} else if err != nil {
		return err
	}

	ref := models.UsageRef{
		LocalID:        emb.LocalID,
		PageID:         emb.PageID,
		VariableValues: emb.VariableValues,
		ToggleStates:   emb.ToggleStates,
		LastSynced:     emb.LastSynced,
	}
	replaced := false
	for i, existing := range idx.References {
		if existing.LocalID == emb.LocalID {
			idx.References[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		idx.References = append(idx.References, ref)
	}
	idx.CachedAt = time.Now()
	return record.SetJSON(ctx, s.store, record.UsageKey(emb.SourceID), &idx)
}

func (s *Service) Get(ctx context.Context, localID string) (*models.Embed, error) {
	var emb models.Embed
	if err := record.GetJSON(ctx, s.store, record.EmbedKey(localID), &emb); err != nil {
		return nil, err
	}
	return &emb, nil
}

// List loads embeds, optionally filtered by source or page, newest first.
func (s *Service) List(ctx context.Context, sourceID, pageID string) ([]*models.Embed, error) {
	keys, err := record.ScanAll(ctx, s.store, record.NSEmbed)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Embed, 0, len(keys))
	for _, key := range keys {
		var emb models.Embed
		if err := record.GetJSON(ctx, s.store, key, &emb); err != nil {
			s.logger.Warn("unreadable embed record", zap.String("key", key), zap.Error(err))
			continue
		}
		if sourceID != "" && emb.SourceID != sourceID {
			continue
		}
		if pageID != "" && emb.PageID != pageID {
			continue
		}
		out = append(out, &emb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Service) Delete(ctx context.Context, localID, actor string) error {
	emb, err := s.Get(ctx, localID)
	if err != nil {
		return err
	}
	if _, err := s.versions.Save(ctx, models.EntityEmbed, localID, emb, models.VersionMetadata{
		ChangeType: models.ChangeDelete,
		ChangedBy:  actor,
	}); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, record.EmbedKey(localID)); err != nil {
		return err
	}
	s.InvalidateRenderCache(ctx, localID)
	if err := s.removeUsageRef(ctx, emb.SourceID, localID); err != nil {
		s.logger.Warn("usage index cleanup failed", zap.String("embed", localID), zap.Error(err))
	}
	return nil
}

func (s *Service) removeUsageRef(ctx context.Context, sourceID, localID string) error {
	var idx models.UsageIndex
	err := record.GetJSON(ctx, s.store, record.UsageKey(sourceID), &idx)
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
	idx.References = kept
	idx.CachedAt = time.Now()
	return record.SetJSON(ctx, s.store, record.UsageKey(sourceID), &idx)
}

// Render produces the embed's display tree, served from the redis cache when
// warm. When the Source reference dangles the last synced content renders
// instead, so a deleted template never blanks existing instances.
func (s *Service) Render(ctx context.Context, localID string) (*document.Node, error) {
	if cached, err := s.rc.Get(ctx, RenderCacheKey(localID)); err == nil && cached != "" {
		var tree document.Node
		if err := json.Unmarshal([]byte(cached), &tree); err == nil {
			return &tree, nil
		}
	}

	emb, err := s.Get(ctx, localID)
	if err != nil {
		return nil, err
	}
	template := emb.SyncedContent
	if src, err := s.getSource(ctx, emb.SourceID); err == nil && src.Content != nil {
		template = src.Content
	}
	if template == nil {
		return nil, errors.New("embed has no renderable content")
	}

	rendered := render.Render(template, render.Options{
		ToggleStates:     emb.ToggleStates,
		VariableValues:   emb.VariableValues,
		CustomInsertions: emb.CustomInsertions,
		InternalNotes:    emb.InternalNotes,
	})

	if data, err := json.Marshal(rendered); err == nil {
		if err := s.rc.Set(ctx, RenderCacheKey(localID), data, renderCacheTTL); err != nil {
			s.logger.Warn("render cache write failed", zap.String("embed", localID), zap.Error(err))
		}
	}
	return rendered, nil
}

// InvalidateRenderCache drops the cached render for one embed.
func (s *Service) InvalidateRenderCache(ctx context.Context, localID string) {
	if err := s.rc.Del(ctx, RenderCacheKey(localID)); err != nil {
		s.logger.Warn("render cache invalidation failed", zap.String("embed", localID), zap.Error(err))
	}
}

// Diff ghost-renders the Source's current content against the embed's synced
// copy, plus plain-text projections for text diffing.
func (s *Service) Diff(ctx context.Context, localID string) (*DiffResult, error) {
	emb, err := s.Get(ctx, localID)
	if err != nil {
		return nil, err
	}

	out := &DiffResult{}
	if emb.SyncedContent != nil {
		out.Synced = render.Ghost(emb.SyncedContent, emb.ToggleStates, emb.VariableValues)
		out.SyncedText = render.GhostText(emb.SyncedContent, emb.ToggleStates, emb.VariableValues)
	}
	src, err := s.getSource(ctx, emb.SourceID)
	if err == nil && src.Content != nil {
		out.Current = render.Ghost(src.Content, emb.ToggleStates, emb.VariableValues)
		out.CurrentText = render.GhostText(src.Content, emb.ToggleStates, emb.VariableValues)
		if fresh, herr := contenthash.StalenessDigest(src); herr == nil {
			out.Stale = emb.SyncedContentHash != "" && emb.SyncedContentHash != fresh
		}
	}
	return out, nil
}

// Sync re-points the embed at its Source's latest content.
func (s *Service) Sync(ctx context.Context, localID, actor string) (*models.Embed, error) {
	emb, err := s.Get(ctx, localID)
	if err != nil {
		return nil, err
	}
	src, err := s.getSource(ctx, emb.SourceID)
	if err != nil {
		return nil, err
	}
	if err := s.syncFrom(emb, src); err != nil {
		return nil, err
	}
	if err := s.save(ctx, emb, models.ChangeUpdate, actor); err != nil {
		return nil, err
	}
	return emb, nil
}

func (s *Service) syncFrom(emb *models.Embed, src *models.Source) error {
	hash := src.ContentHash
	if hash == "" {
		computed, err := contenthash.StalenessDigest(src)
		if err != nil {
			return err
		}
		hash = computed
	}
	emb.SyncedContent = src.Content.Clone()
	emb.SyncedContentHash = hash
	emb.LastSynced = time.Now()
	return nil
}

// Redline applies a manual review transition and persists it.
func (s *Service) Redline(ctx context.Context, localID string, dto *RedlineDTO, actor string) (*models.Embed, error) {
	emb, err := s.Get(ctx, localID)
	if err != nil {
		return nil, err
	}
	if err := redline.Transition(emb, dto.Status, actor, dto.Reason); err != nil {
		return nil, err
	}
	if err := s.save(ctx, emb, models.ChangeUpdate, actor); err != nil {
		return nil, err
	}
	return emb, nil
}

func (s *Service) getSource(ctx context.Context, sourceID string) (*models.Source, error) {
	var src models.Source
	if err := record.GetJSON(ctx, s.store, record.SourceKey(sourceID), &src); err != nil {
		return nil, err
	}
	return &src, nil
}

type Handler struct {
	svc      *Service
	versions *versioning.Service
}

func NewHandler(svc *Service, versions *versioning.Service) *Handler {
	return &Handler{svc: svc, versions: versions}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/embeds", authMW)
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/render", h.render)
	g.GET("/:id/diff", h.diff)
	g.POST("/:id/sync", h.sync)
	g.POST("/:id/redline", h.redline)
	g.GET("/:id/versions", h.versionList)
	g.POST("/:id/versions/:versionId/restore", h.versionRestore)
}

func actorFrom(c *gin.Context) string {
	if actor := c.GetString("user"); actor != "" {
		return actor
	}
	return "admin"
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context(), c.Query("sourceId"), c.Query("pageId"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	page, pag := pagination.Slice(items, pagination.FromContext(c))
	response.Paged(c, page, pag)
}

func (h *Handler) get(c *gin.Context) {
	emb, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, emb)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateEmbedDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	emb, err := h.svc.Create(c.Request.Context(), &dto, actorFrom(c))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFoundMsg(c, "source not found")
		return
	}
	if errors.Is(err, validate.ErrValidation) {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, emb)
}

func (h *Handler) update(c *gin.Context) {
	var dto UpdateEmbedDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	emb, err := h.svc.Update(c.Request.Context(), c.Param("id"), &dto, actorFrom(c))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if errors.Is(err, validate.ErrValidation) {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, emb)
}

func (h *Handler) delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"), actorFrom(c))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) render(c *gin.Context) {
	tree, err := h.svc.Render(c.Request.Context(), c.Param("id"))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, tree)
}

func (h *Handler) diff(c *gin.Context) {
	diff, err := h.svc.Diff(c.Request.Context(), c.Param("id"))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, diff)
}

func (h *Handler) sync(c *gin.Context) {
	emb, err := h.svc.Sync(c.Request.Context(), c.Param("id"), actorFrom(c))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, emb)
}

func (h *Handler) redline(c *gin.Context) {
	var dto RedlineDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	emb, err := h.svc.Redline(c.Request.Context(), c.Param("id"), &dto, actorFrom(c))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if errors.Is(err, redline.ErrInvalidTransition) {
		response.Conflict(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, emb)
}

func (h *Handler) versionList(c *gin.Context) {
	history, err := h.versions.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, history)
}

func (h *Handler) versionRestore(c *gin.Context) {
	backupID, err := h.versions.Restore(c.Request.Context(), models.EntityEmbed,
		c.Param("id"), c.Param("versionId"), actorFrom(c))
	switch {
	case errors.Is(err, record.ErrNotFound):
		response.NotFound(c)
	case errors.Is(err, versioning.ErrCorruptSnapshot), errors.Is(err, validate.ErrValidation):
		response.UnprocessableEntity(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		// Restoring backupVersion undoes this restore.
		response.OK(c, gin.H{"restored": c.Param("versionId"), "backupVersion": backupID})
	}
}
