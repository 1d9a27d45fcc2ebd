// Package source manages template records: CRUD, derived-field maintenance
// (toggles, staleness hash, placeholder coverage checks) and the version
// history surface for Sources.
package source

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
	"github.com/contentforge/core/internal/modules/document"
	"github.com/contentforge/core/internal/modules/render"
	"github.com/contentforge/core/internal/modules/validate"
	"github.com/contentforge/core/internal/modules/versioning"
	"github.com/contentforge/core/internal/pkg/pagination"
	"github.com/contentforge/core/internal/pkg/record"
	"github.com/contentforge/core/internal/pkg/response"
)

type CreateSourceDTO struct {
	Name               string                  `json:"name" binding:"required"`
	Category           string                  `json:"category"`
	Content            *document.Node          `json:"content"`
	LegacyBody         string                  `json:"legacyBody"`
	Variables          []models.SourceVariable `json:"variables"`
	SourceDocumentID   string                  `json:"sourceDocumentId" binding:"required"`
	SourceAnchorID     string                  `json:"sourceAnchorId" binding:"required"`
	SupplementaryLinks []string                `json:"supplementaryLinks"`
}

type UpdateSourceDTO struct {
	Name               *string                 `json:"name"`
	Category           *string                 `json:"category"`
	Content            *document.Node          `json:"content"`
	Variables          []models.SourceVariable `json:"variables"`
	SourceDocumentID   *string                 `json:"sourceDocumentId"`
	SourceAnchorID     *string                 `json:"sourceAnchorId"`
	SupplementaryLinks []string                `json:"supplementaryLinks"`
}

type Service struct {
	store    record.Store
	versions *versioning.Service
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("Source")
		}
	}
}

func NewService(store record.Store, versions *versioning.Service, opts ...Option) *Service {
	s := &Service{store: store, versions: versions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, dto *CreateSourceDTO, actor string) (*models.Source, error) {
	now := time.Now()
	src := &models.Source{
		ID:                 uuid.New().String(),
		Name:               dto.Name,
		Category:           dto.Category,
		Content:            dto.Content,
		LegacyBody:         dto.LegacyBody,
		Variables:          dto.Variables,
		SourceDocumentID:   dto.SourceDocumentID,
		SourceAnchorID:     dto.SourceAnchorID,
		SupplementaryLinks: dto.SupplementaryLinks,
		CreatedAt:          now,
	}
	if err := s.save(ctx, src, models.ChangeCreate, actor); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Service) Update(ctx context.Context, id string, dto *UpdateSourceDTO, actor string) (*models.Source, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto.Name != nil {
		src.Name = *dto.Name
	}
	if dto.Category != nil {
		src.Category = *dto.Category
	}
	if dto.Content != nil {
		src.Content = dto.Content
		src.LegacyBody = ""
	}
	if dto.Variables != nil {
		src.Variables = dto.Variables
	}
	if dto.SourceDocumentID != nil {
		src.SourceDocumentID = *dto.SourceDocumentID
	}
	if dto.SourceAnchorID != nil {
		src.SourceAnchorID = *dto.SourceAnchorID
	}
	if dto.SupplementaryLinks != nil {
		src.SupplementaryLinks = dto.SupplementaryLinks
	}
	if err := s.save(ctx, src, models.ChangeUpdate, actor); err != nil {
		return nil, err
	}
	return src, nil
}

// save derives toggles and hash from content, snapshots the new state and
// writes through the validator.
func (s *Service) save(ctx context.Context, src *models.Source, change models.ChangeType, actor string) error {
	if src.Content != nil {
		src.Toggles = render.ToggleNames(src.Content)
		s.warnUndeclaredPlaceholders(src)
	}
	src.UpdatedAt = time.Now()
	if src.Content != nil {
		hash, err := contenthash.StalenessDigest(src)
		if err != nil {
			return err
		}
		src.ContentHash = hash
	}

	if _, err := s.versions.Save(ctx, models.EntitySource, src.ID, src, models.VersionMetadata{
		ChangeType: change,
		ChangedBy:  actor,
	}); err != nil {
		return err
	}
	return validate.SafeWrite(ctx, s.store, record.SourceKey(src.ID), src,
		func() error { return validate.Source(src) }, s.logger)
}

// Every {{name}} placeholder should have a variables entry. Violations are a
// data-quality finding, not a refusal.
func (s *Service) warnUndeclaredPlaceholders(src *models.Source) {
	declared := make(map[string]bool, len(src.Variables))
	for _, v := range src.Variables {
		declared[v.Name] = true
	}
	for _, name := range render.VariableNames(src.Content) {
		if !declared[name] {
			s.logger.Warn("placeholder without variable declaration",
				zap.String("source", src.ID),
				zap.String("placeholder", name))
		}
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	if err := record.GetJSON(ctx, s.store, record.SourceKey(id), &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// List loads all sources, optionally filtered by category, newest first.
func (s *Service) List(ctx context.Context, category string) ([]*models.Source, error) {
	keys, err := record.ScanAll(ctx, s.store, record.NSSource)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Source, 0, len(keys))
	for _, key := range keys {
		var src models.Source
		if err := record.GetJSON(ctx, s.store, key, &src); err != nil {
			s.logger.Warn("unreadable source record", zap.String("key", key), zap.Error(err))
			continue
		}
		if category != "" && src.Category != category {
			continue
		}
		out = append(out, &src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete snapshots the final state, then removes the record and its usage
// index. Embeds referencing it become broken references the worker reports.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	src, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.versions.Save(ctx, models.EntitySource, id, src, models.VersionMetadata{
		ChangeType: models.ChangeDelete,
		ChangedBy:  actor,
	}); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, record.SourceKey(id)); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, record.UsageKey(id)); err != nil && !errors.Is(err, record.ErrNotFound) {
		s.logger.Warn("usage index cleanup failed", zap.String("source", id), zap.Error(err))
	}
	return nil
}

func (s *Service) Usage(ctx context.Context, id string) (*models.UsageIndex, error) {
	var idx models.UsageIndex
	err := record.GetJSON(ctx, s.store, record.UsageKey(id), &idx)
	if errors.Is(err, record.ErrNotFound) {
		return &models.UsageIndex{SourceID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

type Handler struct {
	svc      *Service
	versions *versioning.Service
}

func NewHandler(svc *Service, versions *versioning.Service) *Handler {
	return &Handler{svc: svc, versions: versions}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/sources", authMW)
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/usage", h.usage)
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
	items, err := h.svc.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	page, pag := pagination.Slice(items, pagination.FromContext(c))
	response.Paged(c, page, pag)
}

func (h *Handler) get(c *gin.Context) {
	src, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, record.ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, src)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateSourceDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	src, err := h.svc.Create(c.Request.Context(), &dto, actorFrom(c))
	if errors.Is(err, validate.ErrValidation) {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, src)
}

func (h *Handler) update(c *gin.Context) {
	var dto UpdateSourceDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	src, err := h.svc.Update(c.Request.Context(), c.Param("id"), &dto, actorFrom(c))
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
	response.OK(c, src)
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

func (h *Handler) usage(c *gin.Context) {
	idx, err := h.svc.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, idx)
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
	backupID, err := h.versions.Restore(c.Request.Context(), models.EntitySource,
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
