// Пакет result — единый тип результата операции архива.
// Ожидаемые отказы (не найдено, запрещено, некорректный запрос) передаются
// между слоями как значения Result, а не как error.
package result

import (
	"encoding/json"
	"net/http"
)

// Status — классификация результата.
type Status int

const (
	Ok Status = iota
	Created
	BadRequest
	Unauthorized
	Forbidden
	NotFound
	Conflict
	ServerError
)

var statusNames = map[Status]string{
	Ok:           "Ok",
	Created:      "Created",
	BadRequest:   "BadRequest",
	Unauthorized: "Unauthorized",
	Forbidden:    "Forbidden",
	NotFound:     "NotFound",
	Conflict:     "Conflict",
	ServerError:  "ServerError",
}

// String возвращает имя классификации (используется в JSON-конверте).
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "ServerError"
}

// HTTPStatus возвращает HTTP-код, соответствующий классификации.
func (s Status) HTTPStatus() int {
	switch s {
	case Ok:
		return http.StatusOK
	case Created:
		return http.StatusCreated
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MarshalJSON сериализует статус его именем.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON разбирает статус по имени.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	*s = ServerError
	return nil
}

// Result — результат операции без полезной нагрузки.
type Result struct {
	Status   Status
	Messages []string
}

// IsSuccess — true только для Ok и Created.
func (r Result) IsSuccess() bool {
	return r.Status == Ok || r.Status == Created
}

// FirstMessage возвращает первое сообщение или пустую строку.
func (r Result) FirstMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0]
}

// And объединяет два результата двухшаговой операции.
// Успех — только если успешны оба; сообщения склеиваются в порядке вызова,
// классификация берётся от первого неуспешного результата.
func (r Result) And(other Result) Result {
	merged := Result{Status: r.Status}
	merged.Messages = make([]string, 0, len(r.Messages)+len(other.Messages))
	merged.Messages = append(merged.Messages, r.Messages...)
	merged.Messages = append(merged.Messages, other.Messages...)

	switch {
	case !r.IsSuccess():
		merged.Status = r.Status
	case !other.IsSuccess():
		merged.Status = other.Status
	case r.Status == Created || other.Status == Created:
		merged.Status = Created
	default:
		merged.Status = Ok
	}
	return merged
}

// envelope — JSON-представление результата.
type envelope struct {
	ResultCode Status   `json:"resultCode"`
	IsSuccess  bool     `json:"isSuccess"`
	Messages   []string `json:"messages"`
	Data       any      `json:"data,omitempty"`
}

// MarshalJSON формирует конверт {resultCode, isSuccess, messages}.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{
		ResultCode: r.Status,
		IsSuccess:  r.IsSuccess(),
		Messages:   nonNil(r.Messages),
	})
}

func nonNil(msgs []string) []string {
	if msgs == nil {
		return []string{}
	}
	return msgs
}

// --- Конструкторы ---

// Success — успешный результат (Ok).
func Success(messages ...string) Result {
	return Result{Status: Ok, Messages: messages}
}

// CreatedResult — успешный результат создания (Created).
func CreatedResult(messages ...string) Result {
	return Result{Status: Created, Messages: messages}
}

// Failure — неуспешный результат с произвольной классификацией.
func Failure(status Status, messages ...string) Result {
	return Result{Status: status, Messages: messages}
}

// BadRequestResult — некорректный запрос.
func BadRequestResult(messages ...string) Result {
	return Failure(BadRequest, messages...)
}

// UnauthorizedResult — субъект не аутентифицирован.
func UnauthorizedResult(messages ...string) Result {
	return Failure(Unauthorized, messages...)
}

// ForbiddenResult — запрос корректен, но запрещён политикой.
func ForbiddenResult(messages ...string) Result {
	return Failure(Forbidden, messages...)
}

// NotFoundResult — запись не найдена.
func NotFoundResult(messages ...string) Result {
	return Failure(NotFound, messages...)
}

// ConflictResult — конфликт состояния.
func ConflictResult(messages ...string) Result {
	return Failure(Conflict, messages...)
}

// Fatal — непредвиденная ошибка. Сообщение должно быть общим,
// подробности пишутся в лог вызывающей стороной.
func Fatal(messages ...string) Result {
	return Failure(ServerError, messages...)
}
