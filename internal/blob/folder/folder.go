// Пакет folder — хранилище содержимого файлов в локальной директории.
// Имя файла на диске — десятичный ID записи, без расширения.
//
// Паттерн записи: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется, прежнее содержимое не затрагивается.
package folder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

const tmpSuffix = ".tmp"

// Store — реализация blob.Store поверх директории.
type Store struct {
	fs      afero.Fs
	root    string
	maxSize *blob.SizeLimit
	gate    *blob.Gate
	logger  *slog.Logger
}

// New создаёт хранилище в root. Директория создаётся при необходимости.
func New(fs afero.Fs, root string, maxFileSize int64, gate *blob.Gate, logger *slog.Logger) (*Store, error) {
	if gate == nil {
		panic("folder: gate не задан")
	}
	if err := fs.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", root, err)
	}
	return &Store{
		fs:      fs,
		root:    root,
		maxSize: blob.NewSizeLimit(maxFileSize),
		gate:    gate,
		logger:  logger.With(slog.String("component", "blob_folder")),
	}, nil
}

// SetMaxFileSize меняет лимит размера.
func (s *Store) SetMaxFileSize(n int64) {
	s.maxSize.Set(n)
}

func (s *Store) path(id int64) string {
	return filepath.Join(s.root, blob.Key(id))
}

// StoreFile записывает содержимое по ID через временный файл.
func (s *Store) StoreFile(_ context.Context, id int64, file model.Payload) result.Result {
	maxBytes := s.maxSize.Get()
	src, r := blob.OpenPayload(file, maxBytes, s.logger)
	if !r.IsSuccess() {
		return r
	}
	defer src.Close()

	fullPath := s.path(id)
	tmpPath := fmt.Sprintf("%s.%s%s", fullPath, uuid.NewString(), tmpSuffix)

	f, err := s.fs.Create(tmpPath)
	if err != nil {
		return s.fail("store", id, fmt.Errorf("ошибка создания временного файла: %w", err))
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		if errors.Is(err, model.ErrPayloadTooLarge) {
			return blob.CopyFailed(file, maxBytes, err)
		}
		return s.fail("store", id, fmt.Errorf("ошибка записи данных: %w", err))
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return s.fail("store", id, fmt.Errorf("ошибка fsync: %w", err))
	}

	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return s.fail("store", id, fmt.Errorf("ошибка закрытия файла: %w", err))
	}

	if err := s.fs.Rename(tmpPath, fullPath); err != nil {
		s.fs.Remove(tmpPath)
		return s.fail("store", id, fmt.Errorf("ошибка атомарного переименования: %w", err))
	}

	s.logger.Debug("Файл сохранён", slog.Int64("id", id), slog.String("filename", file.Name()))
	return result.Success()
}

// OpenStoredFile открывает файл после проверки задержки выпуска.
// Возвращаемый поток реализует io.Seeker.
func (s *Store) OpenStoredFile(ctx context.Context, id int64) result.Value[io.ReadCloser] {
	if r := s.gate.Check(ctx, id); !r.IsSuccess() {
		return result.Fail[io.ReadCloser](r)
	}

	f, err := s.fs.Open(s.path(id))
	if err != nil {
		return result.Fail[io.ReadCloser](s.fail("open", id, fmt.Errorf("ошибка открытия файла: %w", err)))
	}
	return result.SuccessWith[io.ReadCloser](f)
}

// DeleteStoredFile удаляет файл; отсутствующий файл — успех.
func (s *Store) DeleteStoredFile(_ context.Context, id int64) result.Result {
	err := s.fs.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.fail("delete", id, fmt.Errorf("ошибка удаления файла: %w", err))
	}
	return result.Success()
}

// ListStoredFileIDs перечисляет ID файлов в корне; временные файлы пропускаются.
func (s *Store) ListStoredFileIDs(_ context.Context) result.Value[[]int64] {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return result.Fail[[]int64](s.fail("list", 0, fmt.Errorf("ошибка чтения директории: %w", err)))
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		if id, ok := blob.ParseKey(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return result.SuccessWith(ids)
}

// Ping проверяет доступность корневой директории (readiness).
func (s *Store) Ping(_ context.Context) error {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", s.root)
	}
	return nil
}

func (s *Store) fail(op string, id int64, err error) result.Result {
	s.logger.Error("Ошибка хранилища файлов",
		slog.String("operation", op),
		slog.Int64("id", id),
		slog.String("error", err.Error()),
	)
	return result.Fatal(blob.MsgGenericError)
}
