//go:build !parcelstub

package parcel

import "encoding"

// PayloadEnabled reports whether payloads are really serialized. It is false
// only in the parcelstub build.
const PayloadEnabled = true

func marshalPayload(m encoding.BinaryMarshaler) ([]byte, error) {
	return m.MarshalBinary()
}

func unmarshalPayload(b []byte, m encoding.BinaryUnmarshaler) error {
	return m.UnmarshalBinary(b)
}
