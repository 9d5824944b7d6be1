// Пакет model — доменные модели архива файлов.
// FileRecord — метаданные файла, UIFileOperation — отложенная операция UI.
package model

import "time"

// Ограничения длины полей FileRecord.
const (
	MaxFilenameLength    = 250
	MaxMimeTypeLength    = 128
	MaxDescriptionLength = 250
	MaxParentKeyLength   = 50
	MaxUserIDLength      = 50
)

// FileRecord — метаданные файла архива.
// ID назначается хранилищем метаданных при создании и не меняется.
// Тот же ID адресует содержимое файла в хранилище блобов.
type FileRecord struct {
	// ID — числовой идентификатор (автоинкремент или max+1)
	ID int64 `json:"id"`
	// Filename — имя файла
	Filename string `json:"filename" validate:"required,max=250"`
	// MimeType — MIME-тип (опционально)
	MimeType string `json:"mimeType,omitempty" validate:"max=128"`
	// Description — описание (опционально)
	Description string `json:"description,omitempty" validate:"max=250"`
	// ParentKey — ключ бизнес-сущности, к которой относится файл
	ParentKey string `json:"parentKey,omitempty" validate:"max=50"`
	// Created — время создания, выставляется один раз
	Created time.Time `json:"created"`
	// CreatedBy — создатель, выставляется один раз
	CreatedBy string `json:"createdBy" validate:"max=50"`
	// LastModified — время последнего изменения
	LastModified *time.Time `json:"lastModified,omitempty"`
	// LastModifiedBy — автор последнего изменения
	LastModifiedBy string `json:"lastModifiedBy,omitempty" validate:"max=50"`
}

// UIFileOperation — отложенная операция над файлом со стороны UI.
// Флаги Insert/Update/Delete взаимоисключающие; без флагов запись инертна.
// Payload присутствует только у вставок.
type UIFileOperation struct {
	ID             *int64     `json:"id,omitempty"`
	Filename       string     `json:"filename"`
	MimeType       string     `json:"mimeType,omitempty"`
	Description    string     `json:"description,omitempty"`
	ParentKey      string     `json:"parentKey,omitempty"`
	Created        *time.Time `json:"created,omitempty"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	LastModified   *time.Time `json:"lastModified,omitempty"`
	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`

	Insert bool `json:"insert"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`

	// EarliestRelease — момент, с которого файл доступен для скачивания
	// (Created + задержка выпуска). Только для чтения.
	EarliestRelease *time.Time `json:"earliestRelease,omitempty"`

	// Payload — прикреплённый файл (только для Insert)
	Payload Payload `json:"-"`
}

// HasPendingChange сообщает, установлен ли хотя бы один флаг операции.
func (op *UIFileOperation) HasPendingChange() bool {
	return op.Insert || op.Update || op.Delete
}

// FileOperationFromRecord проецирует запись метаданных в DTO для UI
// со сброшенными флагами и без вложения.
func FileOperationFromRecord(rec FileRecord, releaseDelay time.Duration) *UIFileOperation {
	id := rec.ID
	created := rec.Created
	release := rec.Created.Add(releaseDelay)

	op := &UIFileOperation{
		ID:              &id,
		Filename:        rec.Filename,
		MimeType:        rec.MimeType,
		Description:     rec.Description,
		ParentKey:       rec.ParentKey,
		Created:         &created,
		CreatedBy:       rec.CreatedBy,
		LastModifiedBy:  rec.LastModifiedBy,
		EarliestRelease: &release,
	}
	if rec.LastModified != nil {
		lm := *rec.LastModified
		op.LastModified = &lm
	}
	return op
}
