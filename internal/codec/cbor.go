// Package codec provides the deterministic CBOR encoding used for entity
// modifications and binary upstream frames.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): map keys are
// sorted and integers take their shortest form, so equal values produce
// equal bytes on every host.
package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor decoder: %v", err))
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR into v. Untyped maps decode as map[string]any and
// bignums as *big.Int.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose renders CBOR in diagnostic notation for debugging output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// Decoder reads a CBOR sequence.
type Decoder struct {
	dec *cbor.Decoder
}

// NewDecoder returns a decoder reading consecutive items from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decMode.NewDecoder(r)}
}

// Decode reads the next item into v. It returns io.EOF at the end.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}
