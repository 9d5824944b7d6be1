// Пакет metadata — хранилище метаданных файлов архива.
// Две взаимозаменяемые реализации выбираются при сборке приложения:
// плоский JSON-файл (jsonstore) и таблица (pgstore, sqlitestore).
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Store — CRUD над метаданными файлов по числовому ID.
// Все методы возвращают result.Result; ожидаемые отказы (NotFound,
// BadRequest) не являются error.
type Store interface {
	// CreateFileInfo проставляет Created/CreatedBy/LastModified/LastModifiedBy,
	// сохраняет запись и записывает назначенный ID в rec.
	CreateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result
	// UpdateFileInfo проставляет LastModified/LastModifiedBy и заменяет
	// запись с rec.ID, сохраняя Created/CreatedBy. NotFound, если записи нет.
	UpdateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result
	// DeleteFileInfo удаляет запись. NotFound, если записи нет.
	DeleteFileInfo(ctx context.Context, id int64) result.Result
	// GetListOfFileInfoByParentKey возвращает записи ключа (пустой список, если нет).
	GetListOfFileInfoByParentKey(ctx context.Context, parentKey string) result.Value[[]model.FileRecord]
	// GetFileInfoByID возвращает запись или NotFound.
	GetFileInfoByID(ctx context.Context, id int64) result.Value[model.FileRecord]
}

// Lister — полный перечень записей (используется сверкой).
type Lister interface {
	ListAllFileInfo(ctx context.Context) result.Value[[]model.FileRecord]
}

// Сообщения для пользователя. Подробности ошибок пишутся в лог.
const (
	MsgGenericError = "An error occurred."
)

// NotFoundMessage — сообщение об отсутствующей записи.
func NotFoundMessage(id int64) string {
	return fmt.Sprintf("File info with Id %d was not found.", id)
}

// StampCreate проставляет поля создания. Время усекается до микросекунд,
// чтобы значения совпадали после чтения из любой реализации.
func StampCreate(rec *model.FileRecord, userID string, now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	rec.Created = now
	rec.CreatedBy = userID
	rec.LastModified = &now
	rec.LastModifiedBy = userID
}

// StampUpdate проставляет поля изменения.
func StampUpdate(rec *model.FileRecord, userID string, now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	rec.LastModified = &now
	rec.LastModifiedBy = userID
}

// Validate проверяет запись перед сохранением.
func Validate(rec *model.FileRecord) result.Result {
	if msgs := model.ValidateFileRecord(rec); len(msgs) > 0 {
		return result.BadRequestResult(msgs...)
	}
	return result.Success()
}
