package veil

import "fmt"

// Envelope is any wrapper that carries a payload next to metadata the walker
// must not disturb. The walker transforms EnvelopePayload and stores the
// result of Rewrap in place of the original wrapper.
//
// Rewrap must return a fresh wrapper whose metadata equals the receiver's.
type Envelope interface {
	EnvelopePayload() any
	Rewrap(payload any) (any, error)
}

// ResultStatus is the status block of a service response.
type ResultStatus struct {
	Code    string `json:"code" yaml:"code" xml:"code" bson:"code" msgpack:"code"`
	Message string `json:"message,omitempty" yaml:"message,omitempty" xml:"message,omitempty" bson:"message,omitempty" msgpack:"message,omitempty"`
}

// Status codes used by the helpers below.
var (
	StatusOK   = ResultStatus{Code: "2000", Message: "The request was successfully processed."}
	StatusFail = ResultStatus{Code: "4000", Message: "Failed to process request."}
)

// Result wraps a single payload.
type Result[T any] struct {
	Status ResultStatus `json:"resultStatus" yaml:"resultStatus" xml:"resultStatus" bson:"resultStatus" msgpack:"resultStatus"`
	Data   T            `json:"resultData" yaml:"resultData" xml:"resultData" bson:"resultData" msgpack:"resultData"`
}

// OK wraps data with StatusOK.
func OK[T any](data T) Result[T] {
	return Result[T]{Status: StatusOK, Data: data}
}

// EnvelopePayload returns Data.
func (r Result[T]) EnvelopePayload() any { return r.Data }

// Rewrap returns a copy of r carrying payload as Data.
func (r Result[T]) Rewrap(payload any) (any, error) {
	data, err := payloadAs[T](payload)
	if err != nil {
		return nil, err
	}
	return Result[T]{Status: r.Status, Data: data}, nil
}

// PagedResult wraps one page of rows and the total row count of the query.
type PagedResult[T any] struct {
	Status ResultStatus `json:"resultStatus" yaml:"resultStatus" xml:"resultStatus" bson:"resultStatus" msgpack:"resultStatus"`
	Data   []T          `json:"resultData" yaml:"resultData" xml:"resultData" bson:"resultData" msgpack:"resultData"`
	Total  int64        `json:"total" yaml:"total" xml:"total" bson:"total" msgpack:"total"`
}

// Paged wraps rows with StatusOK.
func Paged[T any](rows []T, total int64) PagedResult[T] {
	return PagedResult[T]{Status: StatusOK, Data: rows, Total: total}
}

// EnvelopePayload returns the rows.
func (r PagedResult[T]) EnvelopePayload() any { return r.Data }

// Rewrap returns a copy of r carrying payload as its rows. Status and
// Total are kept.
func (r PagedResult[T]) Rewrap(payload any) (any, error) {
	rows, err := payloadAs[[]T](payload)
	if err != nil {
		return nil, err
	}
	return PagedResult[T]{Status: r.Status, Data: rows, Total: r.Total}, nil
}

// PageRequest describes the requested window of a Page.
type PageRequest struct {
	Page int    `json:"page" yaml:"page" xml:"page" bson:"page" msgpack:"page"`
	Size int    `json:"size" yaml:"size" xml:"size" bson:"size" msgpack:"size"`
	Sort string `json:"sort,omitempty" yaml:"sort,omitempty" xml:"sort,omitempty" bson:"sort,omitempty" msgpack:"sort,omitempty"`
}

// Page is a list payload with its paging descriptor.
type Page[T any] struct {
	Content       []T         `json:"content" yaml:"content" xml:"content" bson:"content" msgpack:"content"`
	Pageable      PageRequest `json:"pageable" yaml:"pageable" xml:"pageable" bson:"pageable" msgpack:"pageable"`
	TotalElements int64       `json:"totalElements" yaml:"totalElements" xml:"totalElements" bson:"totalElements" msgpack:"totalElements"`
}

// EnvelopePayload returns Content.
func (p Page[T]) EnvelopePayload() any { return p.Content }

// Rewrap returns a copy of p carrying payload as Content. Paging metadata
// is kept.
func (p Page[T]) Rewrap(payload any) (any, error) {
	content, err := payloadAs[[]T](payload)
	if err != nil {
		return nil, err
	}
	return Page[T]{Content: content, Pageable: p.Pageable, TotalElements: p.TotalElements}, nil
}

func payloadAs[T any](payload any) (T, error) {
	var zero T
	if payload == nil {
		return zero, nil
	}
	v, ok := payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: envelope payload %T is not %T", ErrIntrospection, payload, zero)
	}
	return v, nil
}
