// Пакет pgstore — хранилище метаданных в таблице PostgreSQL file_info.
// Каждый вызов — отдельный SQL-оператор (неявная транзакция), изоляцию
// при нескольких процессах обеспечивает PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// fileInfoColumns — список столбцов таблицы file_info для SELECT-запросов.
const fileInfoColumns = `id, filename, mime_type, description, parent_key,
	created, created_by, last_modified, last_modified_by`

// Store — реализация metadata.Store через pgx.
type Store struct {
	db     DBTX
	now    func() time.Time
	logger *slog.Logger
}

// New создаёт хранилище поверх пула или транзакции.
func New(db DBTX, logger *slog.Logger) *Store {
	if db == nil {
		panic("pgstore: db не задан")
	}
	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With(slog.String("component", "metadata_pg")),
	}
}

// CreateFileInfo вставляет запись и получает ID из BIGSERIAL.
func (s *Store) CreateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	metadata.StampCreate(rec, userID, s.now())
	if r := metadata.Validate(rec); !r.IsSuccess() {
		return r
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO file_info (filename, mime_type, description, parent_key,
			created, created_by, last_modified, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.Filename, nullString(rec.MimeType), nullString(rec.Description), nullString(rec.ParentKey),
		rec.Created, rec.CreatedBy, rec.LastModified, nullString(rec.LastModifiedBy),
	).Scan(&rec.ID)
	if err != nil {
		return s.fail("create", fmt.Errorf("ошибка вставки file_info: %w", err))
	}
	return result.CreatedResult()
}

// UpdateFileInfo обновляет запись по ID; created/created_by не трогаются.
// Отсутствие строки: RETURNING не вернул ничего (pgx.ErrNoRows).
func (s *Store) UpdateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	metadata.StampUpdate(rec, userID, s.now())
	if r := metadata.Validate(rec); !r.IsSuccess() {
		return r
	}

	err := s.db.QueryRow(ctx,
		`UPDATE file_info
		SET filename = $2, mime_type = $3, description = $4, parent_key = $5,
			last_modified = $6, last_modified_by = $7
		WHERE id = $1
		RETURNING created, created_by`,
		rec.ID, rec.Filename, nullString(rec.MimeType), nullString(rec.Description), nullString(rec.ParentKey),
		rec.LastModified, nullString(rec.LastModifiedBy),
	).Scan(&rec.Created, &rec.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result.NotFoundResult(metadata.NotFoundMessage(rec.ID))
		}
		return s.fail("update", fmt.Errorf("ошибка обновления file_info: %w", err))
	}
	return result.Success()
}

// DeleteFileInfo удаляет запись по ID.
func (s *Store) DeleteFileInfo(ctx context.Context, id int64) result.Result {
	tag, err := s.db.Exec(ctx, `DELETE FROM file_info WHERE id = $1`, id)
	if err != nil {
		return s.fail("delete", fmt.Errorf("ошибка удаления file_info: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return result.NotFoundResult(metadata.NotFoundMessage(id))
	}
	return result.Success()
}

// GetListOfFileInfoByParentKey использует индекс (parent_key, filename).
func (s *Store) GetListOfFileInfoByParentKey(ctx context.Context, parentKey string) result.Value[[]model.FileRecord] {
	query := fmt.Sprintf(`SELECT %s FROM file_info WHERE parent_key = $1 ORDER BY filename, id`, fileInfoColumns)
	records, err := s.queryRecords(ctx, query, parentKey)
	if err != nil {
		return result.Fail[[]model.FileRecord](s.fail("list", err))
	}
	return result.SuccessWith(records)
}

// GetFileInfoByID возвращает запись или NotFound.
func (s *Store) GetFileInfoByID(ctx context.Context, id int64) result.Value[model.FileRecord] {
	query := fmt.Sprintf(`SELECT %s FROM file_info WHERE id = $1`, fileInfoColumns)
	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result.Fail[model.FileRecord](result.NotFoundResult(metadata.NotFoundMessage(id)))
		}
		return result.Fail[model.FileRecord](s.fail("get", fmt.Errorf("ошибка получения file_info: %w", err)))
	}
	return result.SuccessWith(rec)
}

// ListAllFileInfo возвращает все записи (для сверки).
func (s *Store) ListAllFileInfo(ctx context.Context) result.Value[[]model.FileRecord] {
	query := fmt.Sprintf(`SELECT %s FROM file_info ORDER BY id`, fileInfoColumns)
	records, err := s.queryRecords(ctx, query)
	if err != nil {
		return result.Fail[[]model.FileRecord](s.fail("list_all", err))
	}
	return result.SuccessWith(records)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]model.FileRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса file_info: %w", err)
	}
	defer rows.Close()

	records := make([]model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки file_info: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации file_info: %w", err)
	}
	return records, nil
}

// scanRecord читает одну строку в порядке fileInfoColumns.
func scanRecord(row pgx.Row) (model.FileRecord, error) {
	var (
		rec                                          model.FileRecord
		mimeType, description, parentKey, modifiedBy *string
	)
	err := row.Scan(
		&rec.ID, &rec.Filename, &mimeType, &description, &parentKey,
		&rec.Created, &rec.CreatedBy, &rec.LastModified, &modifiedBy,
	)
	if err != nil {
		return model.FileRecord{}, err
	}
	rec.MimeType = deref(mimeType)
	rec.Description = deref(description)
	rec.ParentKey = deref(parentKey)
	rec.LastModifiedBy = deref(modifiedBy)
	rec.Created = rec.Created.UTC()
	if rec.LastModified != nil {
		lm := rec.LastModified.UTC()
		rec.LastModified = &lm
	}
	return rec, nil
}

func (s *Store) fail(op string, err error) result.Result {
	s.logger.Error("Ошибка хранилища метаданных",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return result.Fatal(metadata.MsgGenericError)
}

// nullString — пустая строка сохраняется как NULL.
func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
