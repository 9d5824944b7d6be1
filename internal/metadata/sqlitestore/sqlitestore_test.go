package sqlitestore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"), logger)
	if err != nil {
		t.Fatalf("Ошибка открытия SQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return openTestStore(t)
		},
	}
	suite.Run(t)
}

// TestReopenKeepsRecords проверяет сохранность записей между открытиями файла.
func TestReopenKeepsRecords(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	s, err := Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("Ошибка открытия SQLite: %v", err)
	}
	rec := &model.FileRecord{Filename: "a.txt", ParentKey: "k"}
	if r := s.CreateFileInfo(ctx, rec, "u"); !r.IsSuccess() {
		t.Fatalf("CreateFileInfo: %v", r.Messages)
	}
	s.Close()

	s2, err := Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("Ошибка повторного открытия: %v", err)
	}
	defer s2.Close()

	got := s2.GetFileInfoByID(ctx, rec.ID)
	if !got.IsSuccess() {
		t.Fatalf("GetFileInfoByID: %v", got.Messages)
	}
	if got.Data.Filename != "a.txt" {
		t.Errorf("Filename = %q", got.Data.Filename)
	}

	all := s2.ListAllFileInfo(ctx)
	if !all.IsSuccess() || len(all.Data) != 1 {
		t.Errorf("ListAllFileInfo = %v (%d)", all.Messages, len(all.Data))
	}
}
