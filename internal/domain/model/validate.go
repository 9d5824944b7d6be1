// validate.go — проверка ограничений полей FileRecord через validator/v10.
package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// recordValidator возвращает общий экземпляр validator с именами полей из json-тегов.
func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateFileRecord проверяет длины полей записи.
// Возвращает сообщения для пользователя; пустой срез — запись корректна.
func ValidateFileRecord(rec *FileRecord) []string {
	err := recordValidator().Struct(rec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("The field %s is required.", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("The field %s must be at most %s characters long.", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("The field %s is invalid.", fe.Field()))
		}
	}
	return msgs
}
