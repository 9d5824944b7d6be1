package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// logEntry — поля JSON-записи RequestLogger.
type logEntry struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Method    string `json:"method"`
	Route     string `json:"route"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	UserID    string `json:"user_id"`
}

func captureLog(t *testing.T, handler http.Handler, req *http.Request) (logEntry, string) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	RequestLogger(logger)(handler).ServeHTTP(httptest.NewRecorder(), req)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("запись лога не разобрана: %v (%s)", err, buf.String())
	}
	return entry, buf.String()
}

func TestRequestLogger_UserAndRoute(t *testing.T) {
	handler := NewHeaderAuthenticator(testLogger()).Middleware()(echoUser)
	req := httptest.NewRequest(http.MethodGet, "/api/FileArchive/4711/files", nil)
	req.Header.Set(HeaderUserID, "8888")

	entry, _ := captureLog(t, handler, req)

	if entry.UserID != "8888" {
		t.Errorf("user_id = %q, ожидался 8888", entry.UserID)
	}
	if entry.Route != "/api/FileArchive/{parentKey}/files" {
		t.Errorf("route = %q", entry.Route)
	}
	if entry.Path != "/api/FileArchive/4711/files" || entry.Status != http.StatusOK {
		t.Errorf("path = %q, status = %d", entry.Path, entry.Status)
	}
	if entry.Component != "http" || entry.Level != "INFO" {
		t.Errorf("component = %q, level = %q", entry.Component, entry.Level)
	}
}

func TestRequestLogger_DownloadWithoutTokenAndUser(t *testing.T) {
	notReleased := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/FileArchive/DownloadFile?token=secret-credential", nil)

	entry, raw := captureLog(t, notReleased, req)

	if strings.Contains(raw, "secret-credential") {
		t.Errorf("токен скачивания попал в лог: %s", raw)
	}
	if entry.UserID != "" {
		t.Errorf("user_id = %q, ожидался пустой", entry.UserID)
	}
	if entry.Level != "WARN" || entry.Route != "/api/FileArchive/DownloadFile" {
		t.Errorf("level = %q, route = %q", entry.Level, entry.Route)
	}
}

func TestRequestLogger_RejectedUserNotLogged(t *testing.T) {
	handler := NewHeaderAuthenticator(testLogger()).Middleware()(echoUser)
	req := httptest.NewRequest(http.MethodDelete, "/api/FileArchive/4711", nil)
	req.Header.Set(HeaderUserID, strings.Repeat("9", 51))

	entry, _ := captureLog(t, handler, req)

	if entry.Status != http.StatusUnauthorized || entry.UserID != "" {
		t.Errorf("status = %d, user_id = %q", entry.Status, entry.UserID)
	}
}
