// Пакет cached — LRU-кэш метаданных файлов с TTL поверх любого metadata.Store.
// Кэшируются только успешные GetFileInfoByID; изменение и удаление
// записи инвалидируют её. Кэш локален для экземпляра процесса.
package cached

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_metadata_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_metadata_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// Store — декоратор metadata.Store с кэшем записей по ID.
type Store struct {
	next  metadata.Store
	cache *expirable.LRU[int64, model.FileRecord]
}

// New оборачивает next кэшем на maxSize записей с временем жизни ttl.
func New(next metadata.Store, maxSize int, ttl time.Duration) *Store {
	return &Store{
		next:  next,
		cache: expirable.NewLRU[int64, model.FileRecord](maxSize, nil, ttl),
	}
}

// Len возвращает количество записей в кэше.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) CreateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	return s.next.CreateFileInfo(ctx, rec, userID)
}

// UpdateFileInfo сбрасывает запись до и после изменения: параллельное
// чтение во время записи могло снова положить в кэш старую версию.
func (s *Store) UpdateFileInfo(ctx context.Context, rec *model.FileRecord, userID string) result.Result {
	s.cache.Remove(rec.ID)
	defer s.cache.Remove(rec.ID)
	return s.next.UpdateFileInfo(ctx, rec, userID)
}

func (s *Store) DeleteFileInfo(ctx context.Context, id int64) result.Result {
	s.cache.Remove(id)
	defer s.cache.Remove(id)
	return s.next.DeleteFileInfo(ctx, id)
}

func (s *Store) GetListOfFileInfoByParentKey(ctx context.Context, parentKey string) result.Value[[]model.FileRecord] {
	return s.next.GetListOfFileInfoByParentKey(ctx, parentKey)
}

// GetFileInfoByID отдаёт запись из кэша или загружает её из next.
func (s *Store) GetFileInfoByID(ctx context.Context, id int64) result.Value[model.FileRecord] {
	if rec, ok := s.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return result.SuccessWith(rec)
	}
	cacheMissesTotal.Inc()

	res := s.next.GetFileInfoByID(ctx, id)
	if res.IsSuccess() {
		s.cache.Add(id, res.Data)
	}
	return res
}

// ListAllFileInfo пробрасывает вызов, если next его поддерживает.
func (s *Store) ListAllFileInfo(ctx context.Context) result.Value[[]model.FileRecord] {
	if lister, ok := s.next.(metadata.Lister); ok {
		return lister.ListAllFileInfo(ctx)
	}
	return result.Fail[[]model.FileRecord](result.Fatal("Listing all file info is not supported by the metadata backend."))
}
