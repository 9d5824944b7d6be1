// archive.go — оркестратор архива: применяет пакет отложенных операций UI
// (вставка, изменение, удаление) к хранилищам метаданных и содержимого.
//
// Порядок шагов внутри операции фиксирован:
//   - вставка: метаданные → содержимое (ID нужен до записи содержимого);
//   - удаление: содержимое → метаданные (при сбое остаётся запись без
//     содержимого, а не содержимое без записи);
//   - изменение затрагивает только метаданные.
//
// Пакет обрабатывается по порядку и останавливается на первом отказе.
// Уже применённые операции не откатываются.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Prometheus метрики оркестратора
var (
	// archiveOperationsTotal — операции пакета по виду и исходу.
	archiveOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fa_archive_operations_total",
		Help: "Общее количество операций над файлами архива",
	}, []string{"operation", "outcome"})

	// archiveBatchDuration — длительность применения пакета.
	archiveBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fa_archive_batch_duration_seconds",
		Help:    "Длительность применения пакета операций в секундах",
		Buckets: prometheus.DefBuckets,
	})
)

// Limits — ограничения, проверяемые до применения пакета.
// Нулевые значения отключают проверку.
type Limits struct {
	// AcceptedFileTypes — допустимые расширения (".pdf", "docx").
	AcceptedFileTypes []string
	// MaxFileSize — максимальный размер вложения в байтах.
	MaxFileSize int64
	// MaxFilesPerParent — максимум файлов у одного ключа.
	MaxFilesPerParent int
}

// RefreshFunc вызывается после успешного применения пакета.
type RefreshFunc func(ctx context.Context, parentKey string)

// ArchiveService — оркестратор архива.
type ArchiveService struct {
	meta         metadata.Store
	blobs        blob.Store
	releaseDelay time.Duration
	limits       Limits
	refresh      RefreshFunc
	now          func() time.Time
	logger       *slog.Logger
}

// ArchiveOption — опция ArchiveService.
type ArchiveOption func(*ArchiveService)

// WithLimits включает предварительные проверки пакета.
func WithLimits(l Limits) ArchiveOption {
	return func(s *ArchiveService) { s.limits = l }
}

// WithRefreshHook задаёт обработчик успешного применения пакета.
func WithRefreshHook(fn RefreshFunc) ArchiveOption {
	return func(s *ArchiveService) { s.refresh = fn }
}

// WithArchiveClock подменяет источник времени (тесты).
func WithArchiveClock(now func() time.Time) ArchiveOption {
	return func(s *ArchiveService) { s.now = now }
}

// NewArchiveService создаёт оркестратор.
func NewArchiveService(
	meta metadata.Store,
	blobs blob.Store,
	releaseDelay time.Duration,
	logger *slog.Logger,
	opts ...ArchiveOption,
) *ArchiveService {
	s := &ArchiveService{
		meta:         meta,
		blobs:        blobs,
		releaseDelay: releaseDelay,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "archive")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveChanges применяет отложенные операции UI для parentKey.
// При полном успехе возвращает список без удалённых записей; флаги
// применённых операций сброшены, новым записям проставлен ID.
// При отказе возвращается результат первой неуспешной операции.
func (s *ArchiveService) SaveChanges(
	ctx context.Context,
	userID string,
	parentKey string,
	items []*model.UIFileOperation,
) result.Value[[]*model.UIFileOperation] {
	start := time.Now()
	defer func() {
		archiveBatchDuration.Observe(time.Since(start).Seconds())
	}()

	if r := s.precheck(ctx, parentKey, items); !r.IsSuccess() {
		return result.Fail[[]*model.UIFileOperation](r)
	}

	for i, item := range items {
		if item == nil {
			continue
		}

		var (
			op string
			r  result.Result
		)
		switch {
		case item.Insert:
			op, r = "insert", s.insert(ctx, userID, parentKey, item)
		case item.Delete:
			op, r = "delete", s.delete(ctx, item)
		case item.Update:
			op, r = "update", s.update(ctx, userID, parentKey, item)
		default:
			continue
		}

		if !r.IsSuccess() {
			archiveOperationsTotal.WithLabelValues(op, "failure").Inc()
			s.logger.Warn("Операция пакета не выполнена, пакет остановлен",
				slog.String("parent_key", parentKey),
				slog.String("operation", op),
				slog.Int("index", i),
				slog.String("status", r.Status.String()),
				slog.String("message", r.FirstMessage()),
			)
			return result.Fail[[]*model.UIFileOperation](r)
		}
		archiveOperationsTotal.WithLabelValues(op, "success").Inc()
	}

	remaining := make([]*model.UIFileOperation, 0, len(items))
	for _, item := range items {
		if item != nil && !item.Delete {
			remaining = append(remaining, item)
		}
	}

	if s.refresh != nil {
		s.refresh(ctx, parentKey)
	}

	s.logger.Info("Пакет операций применён",
		slog.String("parent_key", parentKey),
		slog.Int("items", len(items)),
		slog.Int("remaining", len(remaining)),
	)
	return result.SuccessWith(remaining)
}

// insert: метаданные, затем содержимое. Если запись содержимого не
// удалась, созданная запись метаданных остаётся (сверка её обнаружит).
func (s *ArchiveService) insert(ctx context.Context, userID, parentKey string, item *model.UIFileOperation) result.Result {
	rec := &model.FileRecord{
		Filename:    item.Filename,
		MimeType:    item.MimeType,
		Description: item.Description,
		ParentKey:   parentKey,
	}
	if item.Payload != nil {
		if ct := item.Payload.ContentType(); ct != "" {
			rec.MimeType = ct
		}
		if rec.Filename == "" {
			rec.Filename = item.Payload.Name()
		}
	}

	if r := s.meta.CreateFileInfo(ctx, rec, userID); !r.IsSuccess() {
		return r
	}

	if item.Payload != nil {
		if r := s.blobs.StoreFile(ctx, rec.ID, item.Payload); !r.IsSuccess() {
			s.logger.Error("Содержимое не сохранено, запись метаданных осталась без файла",
				slog.Int64("id", rec.ID),
				slog.String("filename", rec.Filename),
			)
			return r
		}
	}

	id := rec.ID
	item.ID = &id
	item.MimeType = rec.MimeType
	created := rec.Created
	item.Created = &created
	item.CreatedBy = rec.CreatedBy
	item.ParentKey = parentKey
	item.Insert = false
	item.Update = false
	return result.Success()
}

// delete: содержимое, затем метаданные; оба отказа попадают в результат.
// Операция без ID ничего не делает.
func (s *ArchiveService) delete(ctx context.Context, item *model.UIFileOperation) result.Result {
	if item.ID == nil {
		return result.Success()
	}
	return s.deleteFile(ctx, *item.ID)
}

func (s *ArchiveService) deleteFile(ctx context.Context, id int64) result.Result {
	blobResult := s.blobs.DeleteStoredFile(ctx, id)
	metaResult := s.meta.DeleteFileInfo(ctx, id)
	return blobResult.And(metaResult)
}

// update меняет только метаданные. Отсутствующие Created/CreatedBy
// заменяются текущим временем и пустой строкой.
func (s *ArchiveService) update(ctx context.Context, userID, parentKey string, item *model.UIFileOperation) result.Result {
	if item.ID == nil {
		return result.Success()
	}

	rec := &model.FileRecord{
		ID:          *item.ID,
		Filename:    item.Filename,
		MimeType:    item.MimeType,
		Description: item.Description,
		ParentKey:   parentKey,
		Created:     s.now().UTC(),
		CreatedBy:   item.CreatedBy,
	}
	if item.Created != nil {
		rec.Created = *item.Created
	}

	if r := s.meta.UpdateFileInfo(ctx, rec, userID); !r.IsSuccess() {
		return r
	}

	item.LastModified = rec.LastModified
	item.LastModifiedBy = rec.LastModifiedBy
	item.Update = false
	return result.Success()
}

// DeleteArchiveByParentKey удаляет все файлы ключа. Останавливается на
// первом отказе, оставшиеся файлы не трогаются.
func (s *ArchiveService) DeleteArchiveByParentKey(ctx context.Context, parentKey string) result.Result {
	list := s.meta.GetListOfFileInfoByParentKey(ctx, parentKey)
	if !list.IsSuccess() {
		return list.Result
	}

	for _, rec := range list.Data {
		if r := s.deleteFile(ctx, rec.ID); !r.IsSuccess() {
			archiveOperationsTotal.WithLabelValues("delete", "failure").Inc()
			s.logger.Warn("Удаление архива остановлено",
				slog.String("parent_key", parentKey),
				slog.Int64("id", rec.ID),
				slog.String("message", r.FirstMessage()),
			)
			return r
		}
		archiveOperationsTotal.WithLabelValues("delete", "success").Inc()
	}

	s.logger.Info("Архив удалён",
		slog.String("parent_key", parentKey),
		slog.Int("files", len(list.Data)),
	)
	return result.Success()
}

// GetListOfFileInfoUIForArchive возвращает снимок файлов ключа для UI:
// флаги сброшены, вложений нет, EarliestRelease заполнен.
func (s *ArchiveService) GetListOfFileInfoUIForArchive(ctx context.Context, parentKey string) result.Value[[]*model.UIFileOperation] {
	list := s.meta.GetListOfFileInfoByParentKey(ctx, parentKey)
	if !list.IsSuccess() {
		return result.CopyFailure[[]model.FileRecord, []*model.UIFileOperation](list)
	}

	ops := make([]*model.UIFileOperation, 0, len(list.Data))
	for _, rec := range list.Data {
		ops = append(ops, model.FileOperationFromRecord(rec, s.releaseDelay))
	}
	return result.SuccessWith(ops)
}

// ReleaseDelay возвращает задержку выпуска файлов.
func (s *ArchiveService) ReleaseDelay() time.Duration {
	return s.releaseDelay
}

// precheck проверяет ограничения до применения первой операции.
// Все нарушения собираются в один BadRequest.
func (s *ArchiveService) precheck(ctx context.Context, parentKey string, items []*model.UIFileOperation) result.Result {
	var messages []string
	inserts, deletes := 0, 0

	for _, item := range items {
		if item == nil {
			continue
		}
		switch {
		case item.Insert:
			inserts++
			name := item.Filename
			if item.Payload != nil && name == "" {
				name = item.Payload.Name()
			}
			if !s.acceptedType(name) {
				messages = append(messages, fmt.Sprintf(
					"The file %s has an invalid extension (allowed file extensions are '%s').",
					name, strings.Join(s.limits.AcceptedFileTypes, ", ")))
			}
			if s.limits.MaxFileSize > 0 && item.Payload != nil && item.Payload.Size() > s.limits.MaxFileSize {
				messages = append(messages, blob.TooLargeMessage(name, s.limits.MaxFileSize))
			}
		case item.Delete:
			if item.ID != nil {
				deletes++
			}
		}
	}

	if s.limits.MaxFilesPerParent > 0 && inserts > 0 {
		existing := s.meta.GetListOfFileInfoByParentKey(ctx, parentKey)
		if !existing.IsSuccess() {
			return existing.Result
		}
		if total := len(existing.Data) - deletes + inserts; total > s.limits.MaxFilesPerParent {
			messages = append(messages, fmt.Sprintf(
				"A maximum of %d files can be attached, the change would result in %d files.",
				s.limits.MaxFilesPerParent, total))
		}
	}

	if len(messages) > 0 {
		return result.BadRequestResult(messages...)
	}
	return result.Success()
}

// acceptedType сравнивает расширение без учёта регистра и ведущей точки.
func (s *ArchiveService) acceptedType(name string) bool {
	if len(s.limits.AcceptedFileTypes) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, accepted := range s.limits.AcceptedFileTypes {
		if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(accepted)), ".") == ext {
			return true
		}
	}
	return false
}
