package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns messages into datagram payloads and back. Numbers in command
// params and response payloads are carried as float64: Encode rewrites them
// in place and Decode returns them that way.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

var (
	// JSON is the default text encoding understood by field agents.
	JSON Codec = jsonCodec{}
	// CBOR is a compact binary encoding for agents that opt in.
	CBOR Codec = cborCodec{}
)

// CodecByName resolves "json" or "cbor".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

// Sniff picks the codec a datagram was encoded with: JSON documents start
// with '{' (after optional whitespace), anything else is treated as CBOR.
func Sniff(b []byte) Codec {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return JSON
		}
		return CBOR
	}
	return JSON
}

// DecodeAny decodes b with the codec Sniff selects.
func DecodeAny(b []byte) (Message, Codec, error) {
	c := Sniff(b)
	m, err := c.Decode(b)
	return m, c, err
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(m Message) ([]byte, error) {
	f, err := frame(m)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, &EncodeError{Reason: "json", Err: err}
	}
	return b, nil
}

func (jsonCodec) Decode(b []byte) (Message, error) {
	return decodeWith(b, json.Unmarshal, "json")
}

// cborEnc keeps struct field order so "type" stays the first key;
// cborDec decodes nested maps as map[string]any so payloads look the
// same as after JSON decoding.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloat16,
		TextMarshaler: cbor.TextMarshalerTextString,
	}.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Encode(m Message) ([]byte, error) {
	f, err := frame(m)
	if err != nil {
		return nil, err
	}
	b, err := cborEnc.Marshal(f)
	if err != nil {
		return nil, &EncodeError{Reason: "cbor", Err: err}
	}
	return b, nil
}

func (cborCodec) Decode(b []byte) (Message, error) {
	return decodeWith(b, cborDec.Unmarshal, "cbor")
}

func decodeWith(b []byte, unmarshal func([]byte, any) error, format string) (Message, error) {
	if len(b) == 0 {
		return nil, &DecodeError{Reason: "empty datagram"}
	}
	var h header
	if err := unmarshal(b, &h); err != nil {
		return nil, &DecodeError{Reason: "malformed " + format, Err: err}
	}
	m, err := target(h.Type)
	if err != nil {
		return nil, err
	}
	if err := unmarshal(b, m); err != nil {
		return nil, &DecodeError{Kind: string(h.Type), Reason: "malformed " + format, Err: err}
	}
	if err := validate(m); err != nil {
		return nil, err
	}
	canonicalize(m)
	return m, nil
}
