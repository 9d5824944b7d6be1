// Пакет blob — хранилище содержимого файлов архива.
// Содержимое адресуется только числовым ID записи метаданных.
// Две взаимозаменяемые реализации: локальная директория (folder)
// и объектное хранилище (s3store).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Store — хранение, открытие и удаление содержимого по ID.
type Store interface {
	// StoreFile записывает поток файла по ID, заменяя прежнее содержимое.
	// Поток больше лимита — BadRequest, по ключу ничего не остаётся.
	StoreFile(ctx context.Context, id int64, file model.Payload) result.Result
	// OpenStoredFile проверяет задержку выпуска и открывает поток с начала.
	// До выпуска возвращает Forbidden, при отсутствии блоба ServerError.
	OpenStoredFile(ctx context.Context, id int64) result.Value[io.ReadCloser]
	// DeleteStoredFile удаляет содержимое; отсутствие блоба не ошибка.
	DeleteStoredFile(ctx context.Context, id int64) result.Result
	// SetMaxFileSize меняет лимит размера; n <= 0 — паника.
	SetMaxFileSize(n int64)
}

// Lister — перечень ID сохранённых блобов (используется сверкой).
type Lister interface {
	ListStoredFileIDs(ctx context.Context) result.Value[[]int64]
}

// MsgGenericError — общее сообщение для непредвиденных ошибок.
const MsgGenericError = "An error occurred."

// Key возвращает имя блоба для ID: десятичная запись без расширения.
func Key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseKey разбирает имя блоба обратно в ID.
func ParseKey(name string) (int64, bool) {
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil || id <= 0 || Key(id) != name {
		return 0, false
	}
	return id, true
}

// SizeLimit — потокобезопасный лимит размера файла.
type SizeLimit struct {
	v atomic.Int64
}

// NewSizeLimit создаёт лимит; n <= 0 — паника.
func NewSizeLimit(n int64) *SizeLimit {
	l := &SizeLimit{}
	l.Set(n)
	return l
}

// Set меняет лимит. Неположительное значение — ошибка программиста.
func (l *SizeLimit) Set(n int64) {
	if n <= 0 {
		panic(fmt.Sprintf("blob: максимальный размер файла должен быть > 0, получено %d", n))
	}
	l.v.Store(n)
}

// Get возвращает текущий лимит.
func (l *SizeLimit) Get() int64 {
	return l.v.Load()
}

// TooLargeMessage — сообщение о превышении лимита.
func TooLargeMessage(name string, maxBytes int64) string {
	return fmt.Sprintf("The file %s exceeds the maximum file size of %s.", name, humanize.IBytes(uint64(maxBytes)))
}

// OpenPayload открывает поток вложения с учётом лимита.
// Превышение лимита даёт BadRequest, прочие ошибки ServerError.
func OpenPayload(file model.Payload, maxBytes int64, logger *slog.Logger) (io.ReadCloser, result.Result) {
	if file == nil {
		return nil, result.BadRequestResult("No file content was supplied.")
	}
	if file.Size() > maxBytes {
		return nil, result.BadRequestResult(TooLargeMessage(file.Name(), maxBytes))
	}

	rc, err := file.OpenReadStream(maxBytes)
	if err != nil {
		if errors.Is(err, model.ErrPayloadTooLarge) {
			return nil, result.BadRequestResult(TooLargeMessage(file.Name(), maxBytes))
		}
		logger.Error("Ошибка открытия потока вложения",
			slog.String("filename", file.Name()),
			slog.String("error", err.Error()),
		)
		return nil, result.Fatal(MsgGenericError)
	}
	// Лимит применяется и к потокам, не проверяющим его сами
	return model.LimitReadCloser(rc, maxBytes), result.Success()
}

// CopyFailed классифицирует ошибку копирования потока в хранилище.
func CopyFailed(file model.Payload, maxBytes int64, err error) result.Result {
	if errors.Is(err, model.ErrPayloadTooLarge) {
		return result.BadRequestResult(TooLargeMessage(file.Name(), maxBytes))
	}
	return result.Fatal(MsgGenericError)
}
