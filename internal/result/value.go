// value.go — результат с полезной нагрузкой.
package result

import "encoding/json"

// Value — Result с данными. Data заполнено только при успехе.
type Value[T any] struct {
	Result
	Data T
}

// SuccessWith — успешный результат с данными.
func SuccessWith[T any](data T, messages ...string) Value[T] {
	return Value[T]{Result: Success(messages...), Data: data}
}

// CreatedWith — результат создания с данными.
func CreatedWith[T any](data T, messages ...string) Value[T] {
	return Value[T]{Result: CreatedResult(messages...), Data: data}
}

// Fail оборачивает неуспешный Result в Value без данных.
func Fail[T any](r Result) Value[T] {
	return Value[T]{Result: r}
}

// CopyFailure переносит классификацию и сообщения результата одного типа
// в результат другого типа, отбрасывая данные. Используется для проброса
// отказа нижнего слоя наверх.
func CopyFailure[A, B any](from Value[A]) Value[B] {
	msgs := make([]string, len(from.Messages))
	copy(msgs, from.Messages)
	return Value[B]{Result: Result{Status: from.Status, Messages: msgs}}
}

// MarshalJSON формирует конверт с полем data для успешного результата.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	env := envelope{
		ResultCode: v.Status,
		IsSuccess:  v.IsSuccess(),
		Messages:   nonNil(v.Messages),
	}
	if v.IsSuccess() {
		env.Data = v.Data
	}
	return json.Marshal(env)
}
