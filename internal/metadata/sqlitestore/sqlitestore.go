// Пакет sqlitestore — табличное хранилище метаданных во встроенной базе SQLite.
// Та же схема file_info, что и в PostgreSQL; подходит для одного узла,
// которому нужна транзакционная таблица без отдельного сервера БД.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // регистрация драйвера sqlite3

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_info (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	filename         VARCHAR(250) NOT NULL,
	mime_type        VARCHAR(128),
	description      VARCHAR(250),
	parent_key       VARCHAR(50),
	created          TIMESTAMP NOT NULL,
	created_by       VARCHAR(50) NOT NULL,
	last_modified    TIMESTAMP,
	last_modified_by VARCHAR(50)
);
CREATE INDEX IF NOT EXISTS idx_file_info_parent_key_filename ON file_info (parent_key, filename);
`

const fileInfoColumns = `id, filename, mime_type, description, parent_key,
	created, created_by, last_modified, last_modified_by`

// Store — реализация metadata.Store поверх SQLite.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open открывает (или создаёт) файл базы и применяет схему.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}
	// SQLite допускает одного писателя
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания схемы SQLite: %w", err)
	}

	logger.Info("SQLite хранилище метаданных открыто", slog.String("path", path))

	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With(slog.String("component", "metadata_sqlite")),
	}, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping проверяет доступность базы (readiness).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateFileInfo вставляет запись; ID назначает AUTOINCREMENT.
func (s *Store) CreateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	metadata.StampCreate(rec, userID, s.now())
	if r := metadata.Validate(rec); !r.IsSuccess() {
		return r
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO file_info (filename, mime_type, description, parent_key,
			created, created_by, last_modified, last_modified_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Filename, nullString(rec.MimeType), nullString(rec.Description), nullString(rec.ParentKey),
		rec.Created, rec.CreatedBy, nullTime(rec.LastModified), nullString(rec.LastModifiedBy),
	)
	if err != nil {
		return s.fail("create", fmt.Errorf("ошибка вставки file_info: %w", err))
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return s.fail("create", fmt.Errorf("ошибка получения ID: %w", err))
	}
	return result.CreatedResult()
}

// UpdateFileInfo обновляет запись в транзакции и возвращает сохранённые
// Created/CreatedBy в rec.
func (s *Store) UpdateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	metadata.StampUpdate(rec, userID, s.now())
	if r := metadata.Validate(rec); !r.IsSuccess() {
		return r
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("update", fmt.Errorf("ошибка начала транзакции: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // после Commit возвращает ErrTxDone

	res, err := tx.ExecContext(ctx,
		`UPDATE file_info
		SET filename = ?, mime_type = ?, description = ?, parent_key = ?,
			last_modified = ?, last_modified_by = ?
		WHERE id = ?`,
		rec.Filename, nullString(rec.MimeType), nullString(rec.Description), nullString(rec.ParentKey),
		nullTime(rec.LastModified), nullString(rec.LastModifiedBy), rec.ID,
	)
	if err != nil {
		return s.fail("update", fmt.Errorf("ошибка обновления file_info: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return result.NotFoundResult(metadata.NotFoundMessage(rec.ID))
	}

	err = tx.QueryRowContext(ctx, `SELECT created, created_by FROM file_info WHERE id = ?`, rec.ID).
		Scan(&rec.Created, &rec.CreatedBy)
	if err != nil {
		return s.fail("update", fmt.Errorf("ошибка чтения file_info: %w", err))
	}
	rec.Created = rec.Created.UTC()

	if err := tx.Commit(); err != nil {
		return s.fail("update", fmt.Errorf("ошибка фиксации транзакции: %w", err))
	}
	return result.Success()
}

// DeleteFileInfo удаляет запись по ID.
func (s *Store) DeleteFileInfo(ctx context.Context, id int64) result.Result {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_info WHERE id = ?`, id)
	if err != nil {
		return s.fail("delete", fmt.Errorf("ошибка удаления file_info: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return result.NotFoundResult(metadata.NotFoundMessage(id))
	}
	return result.Success()
}

// GetListOfFileInfoByParentKey возвращает записи ключа.
func (s *Store) GetListOfFileInfoByParentKey(ctx context.Context, parentKey string) result.Value[[]model.FileRecord] {
	query := fmt.Sprintf(`SELECT %s FROM file_info WHERE parent_key = ? ORDER BY filename, id`, fileInfoColumns)
	records, err := s.queryRecords(ctx, query, parentKey)
	if err != nil {
		return result.Fail[[]model.FileRecord](s.fail("list", err))
	}
	return result.SuccessWith(records)
}

// GetFileInfoByID возвращает запись или NotFound.
func (s *Store) GetFileInfoByID(ctx context.Context, id int64) result.Value[model.FileRecord] {
	query := fmt.Sprintf(`SELECT %s FROM file_info WHERE id = ?`, fileInfoColumns)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.FileRecord, error) {
	var (
		rec                                          model.FileRecord
		mimeType, description, parentKey, modifiedBy sql.NullString
		lastModified                                 sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.Filename, &mimeType, &description, &parentKey,
		&rec.Created, &rec.CreatedBy, &lastModified, &modifiedBy,
	)
	if err != nil {
		return model.FileRecord{}, err
	}
	rec.MimeType = mimeType.String
	rec.Description = description.String
	rec.ParentKey = parentKey.String
	rec.LastModifiedBy = modifiedBy.String
	rec.Created = rec.Created.UTC()
	if lastModified.Valid {
		lm := lastModified.Time.UTC()
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

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
