// Package backup exports the full record corpus as a zip archive for
// offline safekeeping.
package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/contentforge/core/internal/pkg/record"
	"github.com/contentforge/core/internal/pkg/response"
)

const (
	archiveRootDir  = "contentforge"
	manifestFile    = archiveRootDir + "/manifest.json"
	archiveFormat   = "contentforge-records"
	formatVersion   = 1
	filenameTimeFmt = "20060102-150405"
	filenamePattern = "backup-%s.zip"
)

// Every namespace the engine persists. Progress records are deliberately
// included: they are cheap and make post-incident archives self-describing.
var namespaces = []string{
	record.NSSource,
	record.NSEmbed,
	record.NSUsage,
	record.NSVersion,
	record.NSVersionIndex,
	record.NSProgress,
	record.NSMeta,
}

type manifest struct {
	Format    string         `json:"format"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	Counts    map[string]int `json:"counts"`
}

type Service struct {
	store  record.Store
	logger *zap.Logger
}

func NewService(store record.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("Backup")}
}

// Export walks every namespace and writes one JSON file per record into a zip
// archive, plus a manifest with per-namespace counts.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	m := manifest{
		Format:    archiveFormat,
		Version:   formatVersion,
		CreatedAt: time.Now(),
		Counts:    make(map[string]int, len(namespaces)),
	}

	for _, ns := range namespaces {
		keys, err := record.ScanAll(ctx, s.store, ns)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		for _, key := range keys {
			data, err := s.store.Get(ctx, key)
			if err != nil {
				s.logger.Warn("record vanished during export", zap.String("key", key), zap.Error(err))
				continue
			}
			w, err := zw.Create(archiveRootDir + "/" + key + ".json")
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(data); err != nil {
				return nil, err
			}
			m.Counts[ns]++
		}
	}

	mw, err := zw.Create(manifestFile)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(mw).Encode(&m); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	s.logger.Info("backup exported", zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/backup", authMW)
	g.GET("", h.export)
}

func (h *Handler) export(c *gin.Context) {
	data, err := h.svc.Export(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	filename := fmt.Sprintf(filenamePattern, time.Now().Format(filenameTimeFmt))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/zip", data)
}
