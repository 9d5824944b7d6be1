// Пакет handlers — HTTP-обработчики архива файлов.
//
// Маршруты:
//   - GET    /api/FileArchive/DownloadFile?token= — скачивание по токену;
//   - POST   /api/FileArchive/DownloadToken       — выдача токена;
//   - GET    /api/FileArchive/{parentKey}/files   — список файлов ключа;
//   - POST   /api/FileArchive/{parentKey}/changes — пакет изменений;
//   - DELETE /api/FileArchive/{parentKey}         — удаление архива ключа;
//   - /health/live, /health/ready, /metrics.
package handlers

import (
	"context"
	"io"
	"log/slog"

	"github.com/bigkaa/goartstore/archive-module/internal/credential"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Archive — операции оркестратора архива.
type Archive interface {
	SaveChanges(ctx context.Context, userID, parentKey string, items []*model.UIFileOperation) result.Value[[]*model.UIFileOperation]
	DeleteArchiveByParentKey(ctx context.Context, parentKey string) result.Result
	GetListOfFileInfoUIForArchive(ctx context.Context, parentKey string) result.Value[[]*model.UIFileOperation]
}

// Credentials — выпуск и чтение токенов на скачивание.
type Credentials interface {
	BuildTokenForFileDownload(userID string, fileID int64) result.Value[string]
	ReadUserIDAndFileID(ctx context.Context, token string) result.Value[credential.Subject]
}

// FileInfoReader — чтение метаданных файла по ID.
type FileInfoReader interface {
	GetFileInfoByID(ctx context.Context, id int64) result.Value[model.FileRecord]
}

// BlobOpener — открытие содержимого файла с проверкой задержки выпуска.
type BlobOpener interface {
	OpenStoredFile(ctx context.Context, id int64) result.Value[io.ReadCloser]
}

// APIHandler — обработчики API архива.
type APIHandler struct {
	archive         Archive
	tokens          Credentials
	meta            FileInfoReader
	blobs           BlobOpener
	maxRequestBytes int64
	logger          *slog.Logger
}

// NewAPIHandler создаёт обработчики API архива.
// maxRequestBytes ограничивает тело пакета изменений (0 — без ограничения).
func NewAPIHandler(
	archive Archive,
	tokens Credentials,
	meta FileInfoReader,
	blobs BlobOpener,
	maxRequestBytes int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		archive:         archive,
		tokens:          tokens,
		meta:            meta,
		blobs:           blobs,
		maxRequestBytes: maxRequestBytes,
		logger:          logger.With(slog.String("component", "api")),
	}
}
