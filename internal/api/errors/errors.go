// Пакет errors — ответы с ошибками HTTP API архива.
//
// Два формата:
//   - конверт Result {"resultCode","isSuccess","messages"[,"data"]} для
//     ответов операций архива (WriteResult, WriteValue);
//   - {"error": {"code","message"}} для ошибок вне потока Result
//     (аутентификация, разбор запроса).
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeInternalError   = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в формате {"error": {...}}.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// PayloadTooLarge — 413 тело запроса больше допустимого.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// WriteResult записывает конверт Result с HTTP статусом его классификации.
func WriteResult(w http.ResponseWriter, r result.Result) {
	writeJSON(w, r.Status.HTTPStatus(), r)
}

// WriteValue записывает конверт Result с данными (data только при успехе).
func WriteValue[T any](w http.ResponseWriter, v result.Value[T]) {
	writeJSON(w, v.Status.HTTPStatus(), v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
