// release.go — задержка выпуска файла после создания.
// Файл недоступен для скачивания, пока не пройдёт заданное время
// (за это время внешний антивирус успевает проверить содержимое).
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// ReleaseAt возвращает момент выпуска файла.
func ReleaseAt(created time.Time, delay time.Duration) time.Time {
	return created.Add(delay)
}

// IsReleased — файл доступен, если now >= created + delay.
func IsReleased(now, created time.Time, delay time.Duration) bool {
	return !now.Before(ReleaseAt(created, delay))
}

// NotReleasedMessage — сообщение для пользователя о ещё не выпущенном файле.
func NotReleasedMessage(id int64, releaseAt time.Time) string {
	return fmt.Sprintf("The file with Id %d, has not yet been released. It will be released at %s.",
		id, releaseAt.UTC().Format("2006-01-02 15:04:05 UTC"))
}

// Gate проверяет задержку выпуска по записи метаданных.
// Условие вычисляется заново при каждом вызове, состояния нет.
type Gate struct {
	meta  metadata.Store
	delay time.Duration
	now   func() time.Time
}

// NewGate создаёт проверку выпуска. now == nil — time.Now.
func NewGate(meta metadata.Store, delay time.Duration, now func() time.Time) *Gate {
	if meta == nil {
		panic("blob: хранилище метаданных не задано")
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{meta: meta, delay: delay, now: now}
}

// Delay возвращает настроенную задержку.
func (g *Gate) Delay() time.Duration {
	return g.delay
}

// Check возвращает Forbidden до момента выпуска; отказ чтения
// метаданных пробрасывается без изменений.
func (g *Gate) Check(ctx context.Context, id int64) result.Result {
	rec := g.meta.GetFileInfoByID(ctx, id)
	if !rec.IsSuccess() {
		return rec.Result
	}
	if !IsReleased(g.now(), rec.Data.Created, g.delay) {
		return result.ForbiddenResult(NotReleasedMessage(id, ReleaseAt(rec.Data.Created, g.delay)))
	}
	return result.Success()
}
