// Пакет storetest — общий набор тестов контракта metadata.Store.
// Каждая реализация запускает его из своих _test.go файлов.
package storetest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// StoreTestSuite — тесты контракта хранилища метаданных.
type StoreTestSuite struct {
	// NewStore создаёт пустое хранилище для каждого подтеста.
	NewStore func(t *testing.T) metadata.Store
}

// Run выполняет все тесты набора.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("CreateAndGet", suite.testCreateAndGet)
	t.Run("CreateAssignsDistinctIDs", suite.testCreateAssignsDistinctIDs)
	t.Run("CreateRejectsInvalid", suite.testCreateRejectsInvalid)
	t.Run("ListIdempotent", suite.testListIdempotent)
	t.Run("ParentKeyPartition", suite.testParentKeyPartition)
	t.Run("ListEmpty", suite.testListEmpty)
	t.Run("Update", suite.testUpdate)
	t.Run("UpdateMissing", suite.testUpdateMissing)
	t.Run("DeleteThenGet", suite.testDeleteThenGet)
	t.Run("DeleteMissing", suite.testDeleteMissing)
	t.Run("DeleteMiddleOfThree", suite.testDeleteMiddleOfThree)
}

func create(t *testing.T, s metadata.Store, filename, parentKey, userID string) model.FileRecord {
	t.Helper()
	rec := &model.FileRecord{Filename: filename, ParentKey: parentKey, MimeType: "image/jpeg"}
	r := s.CreateFileInfo(context.Background(), rec, userID)
	require.True(t, r.IsSuccess(), "CreateFileInfo: %v", r.Messages)
	require.NotZero(t, rec.ID)
	return *rec
}

func (suite *StoreTestSuite) testCreateAndGet(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()

	rec := &model.FileRecord{Filename: "MyFile.jpg", ParentKey: "4711", Description: "фото"}
	r := s.CreateFileInfo(ctx, rec, "8888-9999")
	require.True(t, r.IsSuccess(), "CreateFileInfo: %v", r.Messages)
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.Created.IsZero(), "Created не проставлено")
	assert.Equal(t, "8888-9999", rec.CreatedBy)
	require.NotNil(t, rec.LastModified)
	assert.Equal(t, "8888-9999", rec.LastModifiedBy)

	got := s.GetFileInfoByID(ctx, rec.ID)
	require.True(t, got.IsSuccess(), "GetFileInfoByID: %v", got.Messages)
	assert.Equal(t, rec.ID, got.Data.ID)
	assert.Equal(t, "MyFile.jpg", got.Data.Filename)
	assert.Equal(t, "4711", got.Data.ParentKey)
	assert.Equal(t, "фото", got.Data.Description)
	assert.True(t, rec.Created.Equal(got.Data.Created), "Created = %v, ожидалось %v", got.Data.Created, rec.Created)
	assert.Equal(t, rec.CreatedBy, got.Data.CreatedBy)

	list := s.GetListOfFileInfoByParentKey(ctx, "4711")
	require.True(t, list.IsSuccess())
	assert.Len(t, list.Data, 1)
}

func (suite *StoreTestSuite) testCreateAssignsDistinctIDs(t *testing.T) {
	s := suite.NewStore(t)

	a := create(t, s, "a.txt", "k", "u")
	b := create(t, s, "b.txt", "k", "u")
	assert.NotEqual(t, a.ID, b.ID)
}

func (suite *StoreTestSuite) testCreateRejectsInvalid(t *testing.T) {
	s := suite.NewStore(t)

	rec := &model.FileRecord{Filename: "", ParentKey: strings.Repeat("x", 60)}
	r := s.CreateFileInfo(context.Background(), rec, "u")
	assert.False(t, r.IsSuccess())
	assert.Equal(t, result.BadRequest, r.Status)
}

func (suite *StoreTestSuite) testListIdempotent(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	create(t, s, "a.txt", "k1", "u")
	create(t, s, "b.txt", "k1", "u")

	first := s.GetListOfFileInfoByParentKey(ctx, "k1")
	second := s.GetListOfFileInfoByParentKey(ctx, "k1")
	require.True(t, first.IsSuccess())
	require.True(t, second.IsSuccess())
	assert.ElementsMatch(t, ids(first.Data), ids(second.Data))
}

func (suite *StoreTestSuite) testParentKeyPartition(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	create(t, s, "a.txt", "k1", "u")
	create(t, s, "b.txt", "k2", "u")
	create(t, s, "c.txt", "k1", "u")

	list := s.GetListOfFileInfoByParentKey(ctx, "k1")
	require.True(t, list.IsSuccess())
	assert.Len(t, list.Data, 2)
	for _, r := range list.Data {
		assert.Equal(t, "k1", r.ParentKey)
	}
}

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	s := suite.NewStore(t)

	list := s.GetListOfFileInfoByParentKey(context.Background(), "нет-такого")
	require.True(t, list.IsSuccess(), "пустой список не является отказом")
	assert.Empty(t, list.Data)
}

func (suite *StoreTestSuite) testUpdate(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	orig := create(t, s, "a.txt", "k", "creator")

	upd := orig
	upd.Description = "новое описание"
	upd.CreatedBy = "подмена"
	r := s.UpdateFileInfo(ctx, &upd, "editor")
	require.True(t, r.IsSuccess(), "UpdateFileInfo: %v", r.Messages)

	got := s.GetFileInfoByID(ctx, orig.ID)
	require.True(t, got.IsSuccess())
	assert.Equal(t, "новое описание", got.Data.Description)
	assert.Equal(t, "creator", got.Data.CreatedBy, "CreatedBy не должен перезаписываться")
	assert.True(t, orig.Created.Equal(got.Data.Created), "Created не должен перезаписываться")
	assert.Equal(t, "editor", got.Data.LastModifiedBy)
}

func (suite *StoreTestSuite) testUpdateMissing(t *testing.T) {
	s := suite.NewStore(t)

	rec := &model.FileRecord{ID: 424242, Filename: "ghost.txt"}
	r := s.UpdateFileInfo(context.Background(), rec, "u")
	assert.Equal(t, result.NotFound, r.Status)
}

func (suite *StoreTestSuite) testDeleteThenGet(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	rec := create(t, s, "a.txt", "k", "u")

	r := s.DeleteFileInfo(ctx, rec.ID)
	require.True(t, r.IsSuccess(), "DeleteFileInfo: %v", r.Messages)

	got := s.GetFileInfoByID(ctx, rec.ID)
	assert.Equal(t, result.NotFound, got.Status)
}

func (suite *StoreTestSuite) testDeleteMissing(t *testing.T) {
	s := suite.NewStore(t)

	r := s.DeleteFileInfo(context.Background(), 999)
	assert.Equal(t, result.NotFound, r.Status)
}

// testDeleteMiddleOfThree: три записи ключа 4711, удаление второй оставляет первую и третью.
func (suite *StoreTestSuite) testDeleteMiddleOfThree(t *testing.T) {
	s := suite.NewStore(t)
	ctx := context.Background()
	first := create(t, s, "1.jpg", "4711", "8888-9999")
	second := create(t, s, "2.jpg", "4711", "8888-9999")
	third := create(t, s, "3.jpg", "4711", "8888-9999")

	r := s.DeleteFileInfo(ctx, second.ID)
	require.True(t, r.IsSuccess())

	list := s.GetListOfFileInfoByParentKey(ctx, "4711")
	require.True(t, list.IsSuccess())
	assert.ElementsMatch(t, []int64{first.ID, third.ID}, ids(list.Data))
}

func ids(records []model.FileRecord) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
