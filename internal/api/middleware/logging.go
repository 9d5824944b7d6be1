// logging.go — middleware логирования HTTP-запросов через slog.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// responseWriter — обёртка для перехвата статус-кода и размера ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestLog — сведения о запросе, которые заполняют вложенные middleware
// (аутентификация работает внутри группы маршрутов, глубже логгера).
type requestLog struct {
	userID string
}

const contextKeyRequestLog contextKey = "request_log"

// noteUserID сообщает логгеру запроса определённого пользователя.
func noteUserID(ctx context.Context, userID string) {
	if rl, ok := ctx.Value(contextKeyRequestLog).(*requestLog); ok {
		rl.userID = userID
	}
}

// RequestLogger логирует каждый запрос архива. Уровень по статусу:
// INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
// route — шаблон маршрута (как в метриках), user_id — пользователь API
// управления. Query string не пишется: в ней передаётся токен скачивания.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			rl := &requestLog{}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), contextKeyRequestLog, rl)))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", normalizePath(r.URL.Path)),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if rl.userID != "" {
				attrs = append(attrs, slog.String("user_id", rl.userID))
			}
			attrs = append(attrs, slog.String("remote_addr", r.RemoteAddr))
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
