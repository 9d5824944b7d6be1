// download.go — GET /api/FileArchive/DownloadFile?token=<credential>.
// Пользователь аутентифицируется токеном из query; проверка прав
// пользователя на файл не выполняется.
package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Сообщения эндпоинта скачивания.
const (
	MsgIDsNotPresent = "User id or File id not present in token"
	MsgGenericError  = "An error occurred."
)

const defaultContentType = "application/octet-stream"

var downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fa_downloads_total",
	Help: "Количество запросов на скачивание по итогу.",
}, []string{"outcome"})

// DownloadFile отдаёт содержимое файла по токену.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Паника при скачивании файла",
				slog.String("panic", fmt.Sprint(rec)),
			)
			downloadsTotal.WithLabelValues("error").Inc()
			apierrors.WriteResult(w, result.Fatal(MsgGenericError))
		}
	}()

	ctx := r.Context()

	subject := h.tokens.ReadUserIDAndFileID(ctx, r.URL.Query().Get("token"))
	if !subject.IsSuccess() {
		downloadsTotal.WithLabelValues("rejected").Inc()
		apierrors.WriteResult(w, subject.Result)
		return
	}
	if subject.Data.UserID == 0 || subject.Data.FileID == 0 {
		downloadsTotal.WithLabelValues("rejected").Inc()
		apierrors.WriteResult(w, result.BadRequestResult(MsgIDsNotPresent))
		return
	}
	fileID := subject.Data.FileID

	info := h.meta.GetFileInfoByID(ctx, fileID)
	if !info.IsSuccess() {
		downloadsTotal.WithLabelValues(outcomeOf(info.Status)).Inc()
		apierrors.WriteResult(w, info.Result)
		return
	}

	stream := h.blobs.OpenStoredFile(ctx, fileID)
	if !stream.IsSuccess() {
		downloadsTotal.WithLabelValues(outcomeOf(stream.Status)).Inc()
		if stream.Status == result.Forbidden {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, stream.FirstMessage())
			return
		}
		apierrors.WriteResult(w, stream.Result)
		return
	}
	defer func() { _ = stream.Data.Close() }()

	h.logger.Info("Скачивание файла",
		slog.Int64("file_id", fileID),
		slog.Int64("user_id", subject.Data.UserID),
	)
	downloadsTotal.WithLabelValues("served").Inc()
	h.serveStream(w, r, info.Data, stream.Data)
}

// serveStream пишет содержимое. Seekable-поток отдаётся через
// http.ServeContent (Range, If-Modified-Since), остальные копируются.
func (h *APIHandler) serveStream(w http.ResponseWriter, r *http.Request, rec model.FileRecord, body io.ReadCloser) {
	contentType := rec.MimeType
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(rec.Filename))

	if rs, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, rec.Filename, modTime(rec), rs)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Скачивание прервано",
			slog.Int64("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// contentDisposition формирует attachment с именем файла. Имена вне
// ASCII кодируются по RFC 2231.
func contentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func modTime(rec model.FileRecord) time.Time {
	if rec.LastModified != nil {
		return *rec.LastModified
	}
	return rec.Created
}

func outcomeOf(s result.Status) string {
	switch s {
	case result.Forbidden:
		return "not_released"
	case result.NotFound:
		return "not_found"
	default:
		return "error"
	}
}
