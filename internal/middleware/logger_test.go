package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRecordsActorAndQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/sources", func(c *gin.Context) {
		c.Set(ContextKeyUser, "admin")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sources?page=2", nil))

	if logs.Len() != 1 {
		t.Fatalf("want 1 log entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Level != zap.InfoLevel {
		t.Fatalf("want info level, got %v", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["path"] != "/sources?page=2" {
		t.Fatalf("path = %v", fields["path"])
	}
	if fields["actor"] != "admin" {
		t.Fatalf("actor = %v", fields["actor"])
	}
}

func TestLoggerSkipsHealthProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if logs.Len() != 0 {
		t.Fatalf("health probe was logged: %v", logs.All())
	}
}

func TestLoggerEscalatesServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if logs.Len() != 1 {
		t.Fatalf("want 1 log entry, got %d", logs.Len())
	}
	if logs.All()[0].Level != zap.ErrorLevel {
		t.Fatalf("want error level for a 500, got %v", logs.All()[0].Level)
	}
}
