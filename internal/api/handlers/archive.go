// archive.go — управление архивом ключа и выдача токенов на скачивание.
// Пользователь определяется middleware аутентификации.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/credential"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

const (
	// DownloadPath — путь эндпоинта скачивания.
	DownloadPath = "/api/FileArchive/DownloadFile"

	// formOperations — поле multipart с JSON-массивом операций.
	formOperations = "operations"
	// filePartPrefix — префикс части с файлом операции: file-<index>.
	filePartPrefix = "file-"

	// multipartMemory — объём multipart, хранимый в памяти (остальное во временных файлах).
	multipartMemory = 32 << 20
)

// MsgUserIDNotNumeric — идентификатор пользователя не помещается в токен.
const MsgUserIDNotNumeric = credential.MsgUserIDNotNumeric

// downloadTokenRequest — тело POST /api/FileArchive/DownloadToken.
type downloadTokenRequest struct {
	FileID int64 `json:"fileId"`
}

// downloadTokenResponse — токен и готовая ссылка на скачивание.
type downloadTokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// ListFiles — GET /api/FileArchive/{parentKey}/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	parentKey, ok := parentKeyParam(w, r)
	if !ok {
		return
	}
	apierrors.WriteValue(w, h.archive.GetListOfFileInfoUIForArchive(r.Context(), parentKey))
}

// DeleteArchive — DELETE /api/FileArchive/{parentKey}.
func (h *APIHandler) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	parentKey, ok := parentKeyParam(w, r)
	if !ok {
		return
	}

	res := h.archive.DeleteArchiveByParentKey(r.Context(), parentKey)
	if res.IsSuccess() {
		h.logger.Info("Архив удалён по запросу",
			slog.String("parent_key", parentKey),
			slog.String("user_id", middleware.UserIDFromContext(r.Context())),
		)
	}
	apierrors.WriteResult(w, res)
}

// SaveChanges — POST /api/FileArchive/{parentKey}/changes.
// multipart/form-data: поле operations (JSON-массив UIFileOperation)
// и файлы вставок в частях file-<index операции>.
func (h *APIHandler) SaveChanges(w http.ResponseWriter, r *http.Request) {
	parentKey, ok := parentKeyParam(w, r)
	if !ok {
		return
	}

	if h.maxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Тело запроса больше %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	raw := r.FormValue(formOperations)
	if raw == "" {
		apierrors.ValidationError(w, "Отсутствует поле "+formOperations)
		return
	}
	var items []*model.UIFileOperation
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON операций: "+err.Error())
		return
	}

	for i, item := range items {
		if item == nil || !item.Insert {
			continue
		}
		headers := r.MultipartForm.File[filePartPrefix+strconv.Itoa(i)]
		if len(headers) == 0 {
			continue
		}
		payload, err := newMultipartPayload(headers[0])
		if err != nil {
			h.logger.Error("Ошибка чтения файла из запроса",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			apierrors.ValidationError(w, fmt.Sprintf("Не удалось прочитать файл операции %d", i))
			return
		}
		item.Payload = payload
	}

	ctx := r.Context()
	saved := h.archive.SaveChanges(ctx, middleware.UserIDFromContext(ctx), parentKey, items)
	if !saved.IsSuccess() {
		apierrors.WriteResult(w, saved.Result)
		return
	}
	apierrors.WriteValue(w, h.archive.GetListOfFileInfoUIForArchive(ctx, parentKey))
}

// IssueDownloadToken — POST /api/FileArchive/DownloadToken.
// Выдаёт токен текущему пользователю для существующего файла.
func (h *APIHandler) IssueDownloadToken(w http.ResponseWriter, r *http.Request) {
	var req downloadTokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.FileID <= 0 {
		apierrors.ValidationError(w, "fileId должен быть положительным")
		return
	}

	ctx := r.Context()
	userID := middleware.UserIDFromContext(ctx)
	if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
		apierrors.WriteResult(w, result.BadRequestResult(MsgUserIDNotNumeric))
		return
	}

	if info := h.meta.GetFileInfoByID(ctx, req.FileID); !info.IsSuccess() {
		apierrors.WriteResult(w, info.Result)
		return
	}

	token := h.tokens.BuildTokenForFileDownload(userID, req.FileID)
	if !token.IsSuccess() {
		apierrors.WriteResult(w, token.Result)
		return
	}

	apierrors.WriteValue(w, result.SuccessWith(downloadTokenResponse{
		Token: token.Data,
		URL:   DownloadPath + "?token=" + url.QueryEscape(token.Data),
	}))
}

// parentKeyParam извлекает {parentKey} из пути и проверяет длину.
func parentKeyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	parentKey := chi.URLParam(r, "parentKey")
	if parentKey == "" {
		apierrors.ValidationError(w, "parentKey не задан")
		return "", false
	}
	if len(parentKey) > model.MaxParentKeyLength {
		apierrors.ValidationError(w, fmt.Sprintf("parentKey длиннее %d символов", model.MaxParentKeyLength))
		return "", false
	}
	return parentKey, true
}

// multipartPayload — файл из multipart-запроса.
type multipartPayload struct {
	header      *multipart.FileHeader
	contentType string
}

// newMultipartPayload создаёт вложение. Без заявленного типа (или с
// application/octet-stream) тип определяется по содержимому.
func newMultipartPayload(header *multipart.FileHeader) (*multipartPayload, error) {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == defaultContentType {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("открытие части %q: %w", header.Filename, err)
		}
		defer f.Close()

		mt, err := mimetype.DetectReader(f)
		if err != nil {
			return nil, fmt.Errorf("определение типа %q: %w", header.Filename, err)
		}
		contentType = mt.String()
	}
	return &multipartPayload{header: header, contentType: contentType}, nil
}

func (p *multipartPayload) Name() string        { return filepath.Base(p.header.Filename) }
func (p *multipartPayload) ContentType() string { return p.contentType }
func (p *multipartPayload) Size() int64         { return p.header.Size }

func (p *multipartPayload) OpenReadStream(maxBytes int64) (io.ReadCloser, error) {
	if p.header.Size > maxBytes {
		return nil, model.ErrPayloadTooLarge
	}
	f, err := p.header.Open()
	if err != nil {
		return nil, fmt.Errorf("открытие части %q: %w", p.header.Filename, err)
	}
	return model.LimitReadCloser(f, maxBytes), nil
}
