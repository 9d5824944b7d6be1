package blob

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

func TestKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{"1", 1, true},
		{"4711", 4711, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"007", 0, false},
		{"12.tmp", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseKey(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseKey(%q) = (%d, %v), ожидалось (%d, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
	if Key(4711) != "4711" {
		t.Errorf("Key(4711) = %q", Key(4711))
	}
}

func TestSizeLimit(t *testing.T) {
	l := NewSizeLimit(10)
	l.Set(20)
	if l.Get() != 20 {
		t.Errorf("Get = %d, ожидалось 20", l.Get())
	}

	for _, n := range []int64{0, -1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("ожидалась паника для Set(%d)", n)
				}
			}()
			l.Set(n)
		}()
	}
}

func TestIsReleased(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	delay := time.Minute

	if IsReleased(created.Add(59*time.Second), created, delay) {
		t.Error("файл не должен быть выпущен до истечения задержки")
	}
	if !IsReleased(created.Add(time.Minute), created, delay) {
		t.Error("файл должен быть выпущен ровно в момент выпуска")
	}
	if !IsReleased(created, created, 0) {
		t.Error("нулевая задержка — файл доступен сразу")
	}
}

func TestNotReleasedMessage(t *testing.T) {
	msg := NotReleasedMessage(7, time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC))
	want := "The file with Id 7, has not yet been released. It will be released at 2026-05-01 12:01:00 UTC."
	if msg != want {
		t.Errorf("сообщение = %q, ожидалось %q", msg, want)
	}
}

// stubMeta возвращает заданный ответ на GetFileInfoByID.
type stubMeta struct {
	metadata.Store
	res result.Value[model.FileRecord]
}

func (s stubMeta) GetFileInfoByID(context.Context, int64) result.Value[model.FileRecord] {
	return s.res
}

func TestGateCheck(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := stubMeta{res: result.SuccessWith(model.FileRecord{ID: 1, Created: created})}
	now := created.Add(5 * time.Second)
	gate := NewGate(meta, 60*time.Second, func() time.Time { return now })

	r := gate.Check(context.Background(), 1)
	if r.Status != result.Forbidden {
		t.Fatalf("Status = %s, ожидался Forbidden", r.Status)
	}
	if !strings.Contains(r.FirstMessage(), "12:01:00") {
		t.Errorf("сообщение %q не содержит время выпуска", r.FirstMessage())
	}

	now = created.Add(2 * time.Minute)
	if r := gate.Check(context.Background(), 1); !r.IsSuccess() {
		t.Errorf("после выпуска ожидался успех, получено %s", r.Status)
	}
}

func TestGateCheck_PropagatesMetadataFailure(t *testing.T) {
	meta := stubMeta{res: result.Fail[model.FileRecord](result.NotFoundResult("File info with Id 9 was not found."))}
	gate := NewGate(meta, 0, nil)

	r := gate.Check(context.Background(), 9)
	if r.Status != result.NotFound || r.FirstMessage() != "File info with Id 9 was not found." {
		t.Errorf("ожидался проброс NotFound, получено %s %v", r.Status, r.Messages)
	}
}

func TestOpenPayload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if _, r := OpenPayload(nil, 10, logger); r.Status != result.BadRequest {
		t.Errorf("nil: Status = %s, ожидался BadRequest", r.Status)
	}

	_, r := OpenPayload(model.NewBytesPayload("big.bin", "", make([]byte, 2048)), 1024, logger)
	if r.Status != result.BadRequest {
		t.Errorf("Status = %s, ожидался BadRequest", r.Status)
	}
	if !strings.Contains(r.FirstMessage(), "1.0 KiB") {
		t.Errorf("сообщение %q не содержит лимит", r.FirstMessage())
	}

	rc, r := OpenPayload(model.NewBytesPayload("ok.txt", "", []byte("abc")), 1024, logger)
	if !r.IsSuccess() {
		t.Fatalf("Status = %s", r.Status)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "abc" {
		t.Errorf("данные = %q", data)
	}
}
