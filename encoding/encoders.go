/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package encoding

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/pickme-go/errors"
)

type StringEncoder struct{}

func (StringEncoder) Encode(v interface{}) ([]byte, error) {
	str, ok := v.(string)
	if !ok {
		return nil, errors.New(fmt.Sprintf(`invalid type [%+v] expected string`, reflect.TypeOf(v)))
	}

	return []byte(str), nil
}

func (StringEncoder) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}

type IntEncoder struct{}

func (IntEncoder) Encode(v interface{}) ([]byte, error) {
	i, ok := v.(int)
	if !ok {
		return nil, errors.New(fmt.Sprintf(`invalid type [%+v] expected int`, reflect.TypeOf(v)))
	}

	return []byte(strconv.Itoa(i)), nil
}

func (IntEncoder) Decode(data []byte) (interface{}, error) {
	i, err := strconv.Atoi(string(data))
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot decode data`)
	}

	return i, nil
}

type typedCodec[T any] struct {
	encoder Encoder
}

// Typed adapts an untyped Encoder to a Codec. Decoded values that are not a T fail.
func Typed[T any](encoder Encoder) Codec[T] {
	return typedCodec[T]{encoder: encoder}
}

func (c typedCodec[T]) Encode(v T) ([]byte, error) {
	return c.encoder.Encode(v)
}

func (c typedCodec[T]) Decode(data []byte) (T, error) {
	var zero T
	v, err := c.encoder.Decode(data)
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, errors.New(fmt.Sprintf(`decoded value [%+v] is not a %T`, reflect.TypeOf(v), zero))
	}

	return t, nil
}

type jsonCodec[T any] struct{}

// Json serializes with encoding/json. Map keys are emitted sorted, which keeps the
// encoding deterministic for map valued keys and values.
func Json[T any]() Codec[T] {
	return jsonCodec[T]{}
}

func (jsonCodec[T]) Encode(v T) ([]byte, error) {
	byt, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithPrevious(err, `json encode failed`)
	}

	return byt, nil
}

func (jsonCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.WithPrevious(err, `json decode failed`)
	}

	return v, nil
}
