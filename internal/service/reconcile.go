// reconcile.go — фоновая сверка метаданных и хранилища содержимого.
//
// Обнаруживает:
//   - missing_blob: запись метаданных без содержимого (вставка без
//     вложения допустима, поэтому только отчёт);
//   - orphaned_blob: содержимое без записи метаданных.
//
// В режиме repair сирота удаляется, если она обнаружена в двух запусках
// подряд. Запускается как горутина с периодическим тикером
// (FA_RECONCILE_INTERVAL) или однократно из CLI.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fa_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fa_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип расхождения.
type IssueType string

const (
	IssueMissingBlob  IssueType = "missing_blob"
	IssueOrphanedBlob IssueType = "orphaned_blob"
)

// ReconcileIssue — одно расхождение.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	FileID      int64     `json:"fileId"`
	Description string    `json:"description"`
	Repaired    bool      `json:"repaired"`
}

// ReconcileReport — результат одного запуска.
type ReconcileReport struct {
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
	RecordsChecked int              `json:"recordsChecked"`
	BlobsChecked   int              `json:"blobsChecked"`
	Issues         []ReconcileIssue `json:"issues"`
}

// ReconcileService — сервис сверки.
type ReconcileService struct {
	meta     metadata.Lister
	blobs    blob.Lister
	deleter  blob.Store
	interval time.Duration
	repair   bool
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	// suspects — сироты предыдущего запуска
	suspects map[int64]struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReconcileService создаёт сервис сверки. deleter нужен только при repair.
func NewReconcileService(
	meta metadata.Lister,
	blobs blob.Lister,
	deleter blob.Store,
	interval time.Duration,
	repair bool,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		meta:     meta,
		blobs:    blobs,
		deleter:  deleter,
		interval: interval,
		repair:   repair && deleter != nil,
		suspects: make(map[int64]struct{}),
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.Bool("repair", rs.repair),
	)
}

// Stop останавливает фоновую сверку и дожидается завершения цикла.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := rs.RunOnce(ctx); err != nil {
				rs.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true, nil.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: time.Now().UTC(), Issues: []ReconcileIssue{}}

	records := rs.meta.ListAllFileInfo(ctx)
	if !records.IsSuccess() {
		return nil, false, fmt.Errorf("ошибка чтения метаданных: %s", records.FirstMessage())
	}
	stored := rs.blobs.ListStoredFileIDs(ctx)
	if !stored.IsSuccess() {
		return nil, false, fmt.Errorf("ошибка листинга хранилища: %s", stored.FirstMessage())
	}

	report.RecordsChecked = len(records.Data)
	report.BlobsChecked = len(stored.Data)

	known := make(map[int64]struct{}, len(records.Data))
	for _, rec := range records.Data {
		known[rec.ID] = struct{}{}
	}
	present := make(map[int64]struct{}, len(stored.Data))
	for _, id := range stored.Data {
		present[id] = struct{}{}
	}

	for _, rec := range records.Data {
		if _, ok := present[rec.ID]; !ok {
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:        IssueMissingBlob,
				FileID:      rec.ID,
				Description: "Запись метаданных без содержимого",
			})
		}
	}

	suspects := make(map[int64]struct{})
	for _, id := range stored.Data {
		if _, ok := known[id]; ok {
			continue
		}
		issue := ReconcileIssue{
			Type:        IssueOrphanedBlob,
			FileID:      id,
			Description: "Содержимое без записи метаданных",
		}
		_, seenBefore := rs.suspects[id]
		if rs.repair && seenBefore {
			if r := rs.deleter.DeleteStoredFile(ctx, id); r.IsSuccess() {
				issue.Repaired = true
				rs.logger.Info("Удалено содержимое без метаданных", slog.Int64("id", id))
			}
		}
		if !issue.Repaired {
			suspects[id] = struct{}{}
		}
		report.Issues = append(report.Issues, issue)
	}
	rs.suspects = suspects

	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Type != report.Issues[j].Type {
			return report.Issues[i].Type < report.Issues[j].Type
		}
		return report.Issues[i].FileID < report.Issues[j].FileID
	})

	report.CompletedAt = time.Now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.Int("records_checked", report.RecordsChecked),
		slog.Int("blobs_checked", report.BlobsChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Duration("duration", duration),
	)
	return report, false, nil
}
