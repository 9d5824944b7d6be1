package cached

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/jsonstore"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/storetest"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// countingStore считает обращения к GetFileInfoByID.
type countingStore struct {
	metadata.Store
	gets int
}

func (c *countingStore) GetFileInfoByID(ctx context.Context, id int64) result.Value[model.FileRecord] {
	c.gets++
	return c.Store.GetFileInfoByID(ctx, id)
}

// interleavingStore читает запись через кэш, пока изменение ещё не
// применено, как это сделал бы параллельный запрос скачивания.
type interleavingStore struct {
	metadata.Store
	reader *Store
}

func (i *interleavingStore) UpdateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	i.reader.GetFileInfoByID(ctx, rec.ID)
	return i.Store.UpdateFileInfo(ctx, rec, userID)
}

func (i *interleavingStore) DeleteFileInfo(ctx context.Context, id int64) result.Result {
	i.reader.GetFileInfoByID(ctx, id)
	return i.Store.DeleteFileInfo(ctx, id)
}

func newBacking(t *testing.T) *jsonstore.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := jsonstore.New(afero.NewMemMapFs(), "/meta", logger)
	if err != nil {
		t.Fatalf("Ошибка создания хранилища: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return New(newBacking(t), 100, time.Minute)
		},
	}
	suite.Run(t)
}

func TestGetFileInfoByID_CacheHit(t *testing.T) {
	backing := &countingStore{Store: newBacking(t)}
	s := New(backing, 100, time.Minute)
	ctx := context.Background()

	rec := &model.FileRecord{Filename: "a.txt"}
	s.CreateFileInfo(ctx, rec, "u")

	for i := 0; i < 3; i++ {
		if got := s.GetFileInfoByID(ctx, rec.ID); !got.IsSuccess() {
			t.Fatalf("GetFileInfoByID: %v", got.Messages)
		}
	}
	if backing.gets != 1 {
		t.Errorf("обращений к хранилищу = %d, ожидалось 1", backing.gets)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, ожидался 1", s.Len())
	}
}

// TestInvalidation проверяет, что изменение и удаление сбрасывают кэш.
func TestInvalidation(t *testing.T) {
	s := New(newBacking(t), 100, time.Minute)
	ctx := context.Background()

	rec := &model.FileRecord{Filename: "a.txt"}
	s.CreateFileInfo(ctx, rec, "u")
	s.GetFileInfoByID(ctx, rec.ID)

	upd := *rec
	upd.Description = "новое"
	if r := s.UpdateFileInfo(ctx, &upd, "u"); !r.IsSuccess() {
		t.Fatalf("UpdateFileInfo: %v", r.Messages)
	}
	got := s.GetFileInfoByID(ctx, rec.ID)
	if got.Data.Description != "новое" {
		t.Errorf("Description = %q, кэш не инвалидирован", got.Data.Description)
	}

	s.DeleteFileInfo(ctx, rec.ID)
	if got := s.GetFileInfoByID(ctx, rec.ID); got.Status != result.NotFound {
		t.Errorf("Status = %s, ожидался NotFound после удаления", got.Status)
	}
}

func TestNotFoundIsNotCached(t *testing.T) {
	backing := &countingStore{Store: newBacking(t)}
	s := New(backing, 100, time.Minute)

	s.GetFileInfoByID(context.Background(), 5)
	s.GetFileInfoByID(context.Background(), 5)
	if backing.gets != 2 {
		t.Errorf("обращений = %d, NotFound не должен кэшироваться", backing.gets)
	}
}

// TestInvalidation_ReadDuringWrite — чтение между сбросом кэша и записью
// не оставляет в кэше устаревшую версию.
func TestInvalidation_ReadDuringWrite(t *testing.T) {
	backing := &interleavingStore{Store: newBacking(t)}
	s := New(backing, 100, time.Minute)
	backing.reader = s
	ctx := context.Background()

	rec := &model.FileRecord{Filename: "a.txt", Description: "старое"}
	s.CreateFileInfo(ctx, rec, "u")
	s.GetFileInfoByID(ctx, rec.ID)

	upd := *rec
	upd.Description = "новое"
	if r := s.UpdateFileInfo(ctx, &upd, "u"); !r.IsSuccess() {
		t.Fatalf("UpdateFileInfo: %v", r.Messages)
	}
	if got := s.GetFileInfoByID(ctx, rec.ID); got.Data.Description != "новое" {
		t.Errorf("Description = %q, в кэше осталась версия до изменения", got.Data.Description)
	}

	if r := s.DeleteFileInfo(ctx, rec.ID); !r.IsSuccess() {
		t.Fatalf("DeleteFileInfo: %v", r.Messages)
	}
	if got := s.GetFileInfoByID(ctx, rec.ID); got.Status != result.NotFound {
		t.Errorf("Status = %s, удалённая запись осталась в кэше", got.Status)
	}
}
