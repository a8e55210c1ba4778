package parcel

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayloadSize bounds a single framed payload.
const MaxPayloadSize = 16 << 20

// lengthSize is the width of the signed length prefix.
const lengthSize = 4

var (
	// ErrFraming reports a truncated buffer or an invalid length prefix.
	ErrFraming = errors.New("parcel: framing error")
	// ErrMalformedPayload reports a payload that failed schema parsing.
	ErrMalformedPayload = errors.New("parcel: malformed payload")
)

// Encode frames m as a 4-byte signed length followed by exactly that many
// bytes of m's canonical encoding.
func Encode(m encoding.BinaryMarshaler) ([]byte, error) {
	payload, err := marshalPayload(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload too large: %d", ErrFraming, len(payload))
	}
	out := make([]byte, lengthSize, lengthSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(int32(len(payload))))
	return append(out, payload...), nil
}

// Decode reads a frame produced by Encode into m. A short buffer or a bad
// length is ErrFraming; a payload m cannot parse is ErrMalformedPayload.
func Decode(b []byte, m encoding.BinaryUnmarshaler) error {
	p := FromBytes(b)
	payload, err := readFrame(p)
	if err != nil {
		return err
	}
	if p.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrFraming, p.Remaining())
	}
	return unmarshalFrame(payload, m)
}

// WriteParcelable appends m to p using the same framing as Encode.
func WriteParcelable(p *Parcel, m encoding.BinaryMarshaler) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	p.buf = append(p.buf, b...)
	return nil
}

// ReadParcelable reads the next framed value from p into m.
func ReadParcelable(p *Parcel, m encoding.BinaryUnmarshaler) error {
	payload, err := readFrame(p)
	if err != nil {
		return err
	}
	return unmarshalFrame(payload, m)
}

func readFrame(p *Parcel) ([]byte, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("%w: missing length prefix", ErrFraming)
	}
	if n < 0 || n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: invalid length %d", ErrFraming, n)
	}
	payload, err := p.next(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrFraming, n, p.Remaining())
	}
	return payload, nil
}

func unmarshalFrame(payload []byte, m encoding.BinaryUnmarshaler) error {
	if err := unmarshalPayload(payload, m); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}
