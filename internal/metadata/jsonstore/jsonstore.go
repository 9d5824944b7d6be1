// Пакет jsonstore — хранилище метаданных в одном JSON-файле.
//
// Каждый вызов читает весь файл, изменяет список и перезаписывает файл
// целиком. Блокировок нет: при нескольких писателях обновления теряются.
// Предназначено для разработки и однопроцессных стендов; в production
// используется табличное хранилище (pgstore).
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// FileName — имя файла со списком записей.
const FileName = "FileInfo.json"

// Store — реализация metadata.Store поверх JSON-файла.
type Store struct {
	fs     afero.Fs
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// Option — опция конструктора.
type Option func(*Store)

// WithClock подменяет источник текущего времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New создаёт хранилище в директории dir файловой системы fs.
// Директория создаётся при необходимости.
func New(fs afero.Fs, dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if fs == nil {
		panic("jsonstore: fs не задана")
	}
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", dir, err)
	}

	s := &Store{
		fs:     fs,
		path:   filepath.Join(dir, FileName),
		now:    time.Now,
		logger: logger.With(slog.String("component", "metadata_json")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path возвращает полный путь к JSON-файлу.
func (s *Store) Path() string {
	return s.path
}

// CreateFileInfo добавляет запись с ID = max+1.
func (s *Store) CreateFileInfo(_ context.Context, rec *model.FileRecord, userID string) result.Result {
	metadata.StampCreate(rec, userID, s.now())
	if r := metadata.Validate(rec); !r.IsSuccess() {
		return r
	}

	records, err := s.load()
	if err != nil {
		return s.fail("create", err)
	}

	var maxID int64
	for _, r := range records {
		if r.ID > maxID {
			maxID = r.ID
		}
	}
	rec.ID = maxID + 1
	records = append(records, *rec)

	if err := s.save(records); err != nil {
		return s.fail("create", err)
	}
	return result.CreatedResult()
}

// UpdateFileInfo заменяет запись с rec.ID. Created/CreatedBy сохраняются.
func (s *Store) UpdateFileInfo(_ context.Context, rec *model.FileRecord, userID string) result.Result {
	records, err := s.load()
	if err != nil {
		return s.fail("update", err)
	}

	idx := indexOf(records, rec.ID)
	if idx < 0 {
		return result.NotFoundResult(metadata.NotFoundMessage(rec.ID))
	}

	rec.Created = records[idx].Created
	rec.CreatedBy = records[idx].CreatedBy
	metadata.StampUpdate(rec, userID, s.now())
	if r := metadata.Validate(rec); !r.IsSuccess() {
		return r
	}

	records[idx] = *rec
	if err := s.save(records); err != nil {
		return s.fail("update", err)
	}
	return result.Success()
}

// DeleteFileInfo удаляет запись по ID.
func (s *Store) DeleteFileInfo(_ context.Context, id int64) result.Result {
	records, err := s.load()
	if err != nil {
		return s.fail("delete", err)
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return result.NotFoundResult(metadata.NotFoundMessage(id))
	}
	records = append(records[:idx], records[idx+1:]...)

	if err := s.save(records); err != nil {
		return s.fail("delete", err)
	}
	return result.Success()
}

// GetListOfFileInfoByParentKey возвращает записи с указанным ParentKey
// в порядке хранения в файле.
func (s *Store) GetListOfFileInfoByParentKey(_ context.Context, parentKey string) result.Value[[]model.FileRecord] {
	records, err := s.load()
	if err != nil {
		return result.Fail[[]model.FileRecord](s.fail("list", err))
	}

	list := make([]model.FileRecord, 0)
	for _, r := range records {
		if r.ParentKey == parentKey {
			list = append(list, r)
		}
	}
	return result.SuccessWith(list)
}

// GetFileInfoByID возвращает запись по ID.
func (s *Store) GetFileInfoByID(_ context.Context, id int64) result.Value[model.FileRecord] {
	records, err := s.load()
	if err != nil {
		return result.Fail[model.FileRecord](s.fail("get", err))
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return result.Fail[model.FileRecord](result.NotFoundResult(metadata.NotFoundMessage(id)))
	}
	return result.SuccessWith(records[idx])
}

// ListAllFileInfo возвращает все записи файла.
func (s *Store) ListAllFileInfo(_ context.Context) result.Value[[]model.FileRecord] {
	records, err := s.load()
	if err != nil {
		return result.Fail[[]model.FileRecord](s.fail("list_all", err))
	}
	return result.SuccessWith(records)
}

// load читает весь список. Отсутствующий или пустой файл — пустой список.
func (s *Store) load() ([]model.FileRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.FileRecord{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return []model.FileRecord{}, nil
	}

	var records []model.FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", s.path, err)
	}
	return records, nil
}

// save перезаписывает файл целиком.
func (s *Store) save(records []model.FileRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o640); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", s.path, err)
	}
	return nil
}

// fail логирует ошибку и возвращает ServerError с общим сообщением.
func (s *Store) fail(op string, err error) result.Result {
	s.logger.Error("Ошибка хранилища метаданных",
		slog.String("operation", op),
		slog.String("path", s.path),
		slog.String("error", err.Error()),
	)
	return result.Fatal(metadata.MsgGenericError)
}

func indexOf(records []model.FileRecord, id int64) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
