// payload.go — абстракция прикреплённого к операции файла.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrPayloadTooLarge — поток превысил допустимый размер.
var ErrPayloadTooLarge = errors.New("размер файла превышает допустимый лимит")

// Payload — файл, выбранный пользователем в UI.
// Ядро не зависит от конкретного типа файла среды выполнения.
type Payload interface {
	// Name — имя файла, заявленное клиентом.
	Name() string
	// ContentType — MIME-тип, заявленный клиентом (может быть пустым).
	ContentType() string
	// Size — заявленный размер в байтах.
	Size() int64
	// OpenReadStream открывает поток содержимого. Чтение больше maxBytes
	// завершается ErrPayloadTooLarge. Вызывающий код закрывает поток.
	OpenReadStream(maxBytes int64) (io.ReadCloser, error)
}

// LimitReadCloser оборачивает поток, возвращая ErrPayloadTooLarge
// при попытке прочитать больше limit байт (без молчаливого усечения).
func LimitReadCloser(rc io.ReadCloser, limit int64) io.ReadCloser {
	return &limitedReadCloser{rc: rc, remaining: limit}
}

type limitedReadCloser struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrPayloadTooLarge
	}
	// Читаем на один байт больше лимита, чтобы обнаружить превышение
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), ErrPayloadTooLarge
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.rc.Close()
}

// BytesPayload — Payload поверх среза байт в памяти.
type BytesPayload struct {
	FileName string
	Type     string
	Data     []byte
}

// NewBytesPayload создаёт Payload из среза байт.
func NewBytesPayload(name, contentType string, data []byte) *BytesPayload {
	return &BytesPayload{FileName: name, Type: contentType, Data: data}
}

func (p *BytesPayload) Name() string        { return p.FileName }
func (p *BytesPayload) ContentType() string { return p.Type }
func (p *BytesPayload) Size() int64         { return int64(len(p.Data)) }

// OpenReadStream отклоняет данные больше maxBytes сразу по заявленному размеру.
func (p *BytesPayload) OpenReadStream(maxBytes int64) (io.ReadCloser, error) {
	if p.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, p.Size(), maxBytes)
	}
	return LimitReadCloser(io.NopCloser(bytes.NewReader(p.Data)), maxBytes), nil
}
