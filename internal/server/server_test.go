package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/blob/folder"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/credential"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/jsonstore"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T) Handlers {
	t.Helper()
	fs := afero.NewMemMapFs()
	meta, err := jsonstore.New(fs, "/meta", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := folder.New(fs, "/blobs", 1024, blob.NewGate(meta, 0, time.Now), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := credential.New(credential.Config{
		Secret: "secret", Issuer: "archive-module", Audience: "archive-download", Expiry: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	archive := service.NewArchiveService(meta, blobs, 0, testLogger())

	return Handlers{
		API:    handlers.NewAPIHandler(archive, tokens, meta, blobs, 0, testLogger()),
		Health: handlers.NewHealthHandler(),
		Auth:   middleware.NewHeaderAuthenticator(testLogger()).Middleware(),
	}
}

func TestRouter(t *testing.T) {
	router := NewRouter(newTestHandlers(t), middleware.RequestLogger(testLogger()))

	tests := []struct {
		name       string
		method     string
		path       string
		userID     string
		wantStatus int
	}{
		{"liveness", http.MethodGet, "/health/live", "", http.StatusOK},
		{"readiness", http.MethodGet, "/health/ready", "", http.StatusOK},
		{"метрики", http.MethodGet, "/metrics", "", http.StatusOK},
		{"скачивание без токена", http.MethodGet, "/api/FileArchive/DownloadFile", "", http.StatusBadRequest},
		{"список без пользователя", http.MethodGet, "/api/FileArchive/4711/files", "", http.StatusUnauthorized},
		{"список", http.MethodGet, "/api/FileArchive/4711/files", "8888", http.StatusOK},
		{"удаление", http.MethodDelete, "/api/FileArchive/4711", "8888", http.StatusOK},
		{"токен без пользователя", http.MethodPost, "/api/FileArchive/DownloadToken", "", http.StatusUnauthorized},
		{"неизвестный путь", http.MethodGet, "/api/unknown", "8888", http.StatusNotFound},
		{"неверный метод", http.MethodPut, "/api/FileArchive/4711", "8888", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.userID != "" {
				req.Header.Set(middleware.HeaderUserID, tt.userID)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s: статус = %d, ожидался %d (%s)", tt.method, tt.path, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestNew(t *testing.T) {
	cfg := &config.Config{
		Port:             8040,
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: time.Second,
		HTTPIdleTimeout:  time.Second,
		ShutdownTimeout:  time.Second,
	}
	srv := New(cfg, testLogger(), newTestHandlers(t))
	if srv.httpServer.Addr != ":8040" {
		t.Errorf("адрес = %q, ожидался :8040", srv.httpServer.Addr)
	}
	if srv.httpServer.ReadTimeout != time.Second {
		t.Errorf("ReadTimeout = %s", srv.httpServer.ReadTimeout)
	}
}
