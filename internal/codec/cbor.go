// Package codec is the CBOR encoding shared by the directory wire format
// and local cache files. Encoding is Core Deterministic (RFC 8949 §4.2),
// so equal values always produce equal bytes, which signed envelopes rely
// on.
package codec

import (
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
		panic("codec: CBOR encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }
