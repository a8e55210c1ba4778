// Package parcel implements the typed byte stream carried by one IPC
// transaction, and the length-prefixed framing used for structured messages
// inside it.
//
// Values are written and read in strict order; a reader must consume them in
// exactly the order the writer produced them. All integers are little-endian.
package parcel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortRead is returned when a read needs more bytes than remain.
var ErrShortRead = errors.New("parcel: not enough data")

// ErrBadInterface is returned by EnforceInterface on a descriptor mismatch.
var ErrBadInterface = errors.New("parcel: interface token mismatch")

// Parcel is a growable write buffer with an independent read cursor.
type Parcel struct {
	buf []byte
	pos int
}

// New returns an empty parcel ready for writing.
func New() *Parcel { return &Parcel{} }

// FromBytes wraps b for reading. The parcel does not copy b.
func FromBytes(b []byte) *Parcel { return &Parcel{buf: b} }

// Bytes returns the written contents.
func (p *Parcel) Bytes() []byte { return p.buf }

// Len is the total number of bytes in the parcel.
func (p *Parcel) Len() int { return len(p.buf) }

// Remaining is the number of unread bytes.
func (p *Parcel) Remaining() int { return len(p.buf) - p.pos }

// Rewind moves the read cursor back to the start.
func (p *Parcel) Rewind() { p.pos = 0 }

// Reset empties the parcel.
func (p *Parcel) Reset() {
	p.buf = p.buf[:0]
	p.pos = 0
}

// Append writes raw bytes with no length prefix.
func (p *Parcel) Append(b []byte) { p.buf = append(p.buf, b...) }

func (p *Parcel) WriteInt32(v int32) { p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v)) }

func (p *Parcel) WriteUint32(v uint32) { p.buf = binary.LittleEndian.AppendUint32(p.buf, v) }

func (p *Parcel) WriteInt64(v int64) { p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(v)) }

func (p *Parcel) WriteUint64(v uint64) { p.buf = binary.LittleEndian.AppendUint64(p.buf, v) }

func (p *Parcel) WriteBool(v bool) {
	if v {
		p.WriteInt32(1)
		return
	}
	p.WriteInt32(0)
}

// WriteByteArray writes an int32 length followed by b. A nil slice is
// written as length -1 so readers can tell it apart from an empty one.
func (p *Parcel) WriteByteArray(b []byte) error {
	if b == nil {
		p.WriteInt32(-1)
		return nil
	}
	if len(b) > math.MaxInt32 {
		return fmt.Errorf("parcel: byte array too large: %d", len(b))
	}
	p.WriteInt32(int32(len(b)))
	p.buf = append(p.buf, b...)
	return nil
}

// WriteString writes s as a UTF-8 byte array.
func (p *Parcel) WriteString(s string) error {
	if len(s) > math.MaxInt32 {
		return fmt.Errorf("parcel: string too large: %d", len(s))
	}
	p.WriteInt32(int32(len(s)))
	p.buf = append(p.buf, s...)
	return nil
}

// WriteInterfaceToken writes the interface descriptor that prefixes every
// transaction's arguments.
func (p *Parcel) WriteInterfaceToken(descriptor string) error {
	return p.WriteString(descriptor)
}

func (p *Parcel) next(n int) ([]byte, error) {
	if n < 0 || p.Remaining() < n {
		return nil, ErrShortRead
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

func (p *Parcel) ReadInt32() (int32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (p *Parcel) ReadUint32() (uint32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *Parcel) ReadInt64() (int64, error) {
	b, err := p.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (p *Parcel) ReadUint64() (uint64, error) {
	b, err := p.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (p *Parcel) ReadBool() (bool, error) {
	v, err := p.ReadInt32()
	return v != 0, err
}

// ReadByteArray reads a slice written by WriteByteArray. The result is a copy.
func (p *Parcel) ReadByteArray() ([]byte, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	b, err := p.next(int(n))
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 0, len(b)), b...), nil
}

func (p *Parcel) ReadString() (string, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return "", err
	}
	b, err := p.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EnforceInterface reads the interface token and checks it against descriptor.
func (p *Parcel) EnforceInterface(descriptor string) error {
	got, err := p.ReadString()
	if err != nil {
		return err
	}
	if got != descriptor {
		return fmt.Errorf("%w: got %q, want %q", ErrBadInterface, got, descriptor)
	}
	return nil
}
