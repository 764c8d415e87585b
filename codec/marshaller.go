package codec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONMarshaller encodes messages of type T as JSON. T is usually a pointer to a struct.
type JSONMarshaller[T any] struct{}

// NewJSONMarshaller returns a JSON marshaller for T.
func NewJSONMarshaller[T any]() JSONMarshaller[T] {
	return JSONMarshaller[T]{}
}

// Marshal implements rpc.Marshaller.
func (JSONMarshaller[T]) Marshal(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.WithStack(err)
}

// Unmarshal implements rpc.Marshaller.
func (JSONMarshaller[T]) Unmarshal(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, errors.WithStack(err)
	}
	return v, nil
}
