package core

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// NewProtoMessage returns a fresh instance of the protobuf message type T.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	reflected := zero.ProtoReflect()
	if reflected == nil {
		return zero, fmt.Errorf("%w: %T has no proto reflection", cerrors.ErrInvalidArgument, zero)
	}
	created, ok := reflected.Type().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: could not instantiate proto message %T", cerrors.ErrInvalidArgument, zero)
	}
	return created, nil
}

// MustProtoMessage is NewProtoMessage that panics on failure.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
