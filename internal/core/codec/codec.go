// Package codec centralizes payload serialization.
//
// All JSON in chassis goes through sonic in std-compatible mode. Protobuf
// messages are detected and encoded with protojson so proto payloads stay
// interoperable with non-Go consumers.
package codec

import (
	"io"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var api = sonic.ConfigStd

var (
	protoMarshalOptions   = protojson.MarshalOptions{EmitUnpopulated: true}
	protoUnmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// Serializer converts values to and from a byte representation. Repositories
// and the relay accept any Serializer, JSON{} is the default.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// JSON is the default Serializer.
type JSON struct{}

// Default returns the Serializer used when none is configured.
func Default() Serializer {
	return JSON{}
}

func (JSON) Serialize(v any) ([]byte, error) {
	return Marshal(v)
}

func (JSON) Deserialize(data []byte, v any) error {
	return Unmarshal(data, v)
}

// Marshal encodes v as JSON. Proto messages use protojson with unpopulated
// fields emitted.
func Marshal(v any) ([]byte, error) {
	if pm, ok := v.(proto.Message); ok {
		return protoMarshalOptions.Marshal(pm)
	}
	return api.Marshal(v)
}

// Unmarshal decodes JSON into v. Proto messages use protojson with unknown
// fields discarded.
func Unmarshal(data []byte, v any) error {
	if pm, ok := v.(proto.Message); ok {
		return protoUnmarshalOptions.Unmarshal(data, pm)
	}
	return api.Unmarshal(data, v)
}

// Encode writes v to w as JSON.
func Encode(w io.Writer, v any) error {
	if pm, ok := v.(proto.Message); ok {
		data, err := protoMarshalOptions.Marshal(pm)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return api.NewEncoder(w).Encode(v)
}

// Decode reads JSON from r into v.
func Decode(r io.Reader, v any) error {
	if pm, ok := v.(proto.Message); ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return protoUnmarshalOptions.Unmarshal(data, pm)
	}
	return api.NewDecoder(r).Decode(v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
