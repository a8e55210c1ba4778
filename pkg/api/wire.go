package api

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// The binary forms below are protobuf-compatible so the host side can parse
// them with generated classes. Fields are written in field-number order and
// zero values are omitted, which keeps the encoding deterministic.

var ErrWireType = errors.New("unexpected wire type")

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendEnum[E ~int32](b []byte, num protowire.Number, v E) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendFixed64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// appendMessage writes sub as a nested message unless it is empty.
func appendMessage(b []byte, num protowire.Number, sub []byte) []byte {
	return appendBytes(b, num, sub)
}

// fieldFunc consumes the value of one field and reports how many bytes it used.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFixed64(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, ErrWireType
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, ErrWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	v, n, err := consumeBytes(typ, b)
	return string(v), n, err
}

func consumeUint32(typ protowire.Type, b []byte) (uint32, int, error) {
	v, n, err := consumeVarint(typ, b)
	return uint32(v), n, err
}

func consumeEnum(typ protowire.Type, b []byte) (int32, int, error) {
	v, n, err := consumeVarint(typ, b)
	return int32(int64(v)), n, err
}

// ---- URI ----

func (a Authority) appendTo(b []byte) []byte {
	b = appendString(b, 1, a.Name)
	b = appendString(b, 2, a.IP)
	return appendString(b, 3, a.ID)
}

func (a *Authority) unmarshal(b []byte) error {
	*a = Authority{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			a.Name, n, err = consumeString(typ, b)
		case 2:
			a.IP, n, err = consumeString(typ, b)
		case 3:
			a.ID, n, err = consumeString(typ, b)
		default:
			n, err = skipField(num, typ, b)
		}
		return n, err
	})
}

func (e Entity) appendTo(b []byte) []byte {
	b = appendString(b, 1, e.Name)
	b = appendVarint(b, 2, uint64(e.ID))
	b = appendVarint(b, 3, uint64(e.VersionMajor))
	return appendVarint(b, 4, uint64(e.VersionMinor))
}

func (e *Entity) unmarshal(b []byte) error {
	*e = Entity{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			e.Name, n, err = consumeString(typ, b)
		case 2:
			e.ID, n, err = consumeUint32(typ, b)
		case 3:
			e.VersionMajor, n, err = consumeUint32(typ, b)
		case 4:
			e.VersionMinor, n, err = consumeUint32(typ, b)
		default:
			n, err = skipField(num, typ, b)
		}
		return n, err
	})
}

// MarshalBinary returns the canonical encoding of e.
func (e Entity) MarshalBinary() ([]byte, error) { return e.appendTo(nil), nil }

func (e *Entity) UnmarshalBinary(b []byte) error { return e.unmarshal(b) }

func (r Resource) appendTo(b []byte) []byte {
	b = appendString(b, 1, r.Name)
	b = appendString(b, 2, r.Instance)
	b = appendString(b, 3, r.Message)
	return appendVarint(b, 4, uint64(r.ID))
}

func (r *Resource) unmarshal(b []byte) error {
	*r = Resource{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			r.Name, n, err = consumeString(typ, b)
		case 2:
			r.Instance, n, err = consumeString(typ, b)
		case 3:
			r.Message, n, err = consumeString(typ, b)
		case 4:
			r.ID, n, err = consumeUint32(typ, b)
		default:
			n, err = skipField(num, typ, b)
		}
		return n, err
	})
}

func (u URI) appendTo(b []byte) []byte {
	b = appendMessage(b, 1, u.Authority.appendTo(nil))
	b = appendMessage(b, 2, u.Entity.appendTo(nil))
	return appendMessage(b, 3, u.Resource.appendTo(nil))
}

// MarshalBinary returns the canonical encoding of u.
func (u URI) MarshalBinary() ([]byte, error) { return u.appendTo(nil), nil }

func (u *URI) UnmarshalBinary(b []byte) error {
	*u = URI{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var sub func([]byte) error
		switch num {
		case 1:
			sub = u.Authority.unmarshal
		case 2:
			sub = u.Entity.unmarshal
		case 3:
			sub = u.Resource.unmarshal
		default:
			return skipField(num, typ, b)
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		return n, sub(v)
	})
}

// ---- UUID ----

func appendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	if id == uuid.Nil {
		return b
	}
	var sub []byte
	sub = appendFixed64(sub, 1, binary.BigEndian.Uint64(id[:8]))
	sub = appendFixed64(sub, 2, binary.BigEndian.Uint64(id[8:]))
	return appendMessage(b, num, sub)
}

func unmarshalUUID(b []byte, id *uuid.UUID) error {
	*id = uuid.Nil
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			v, n, err := consumeFixed64(typ, b)
			if err != nil {
				return 0, err
			}
			off := 0
			if num == 2 {
				off = 8
			}
			binary.BigEndian.PutUint64(id[off:off+8], v)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
}

// ---- Message ----

func (a Attributes) appendTo(b []byte) []byte {
	b = appendUUID(b, 1, a.ID)
	b = appendEnum(b, 2, a.Type)
	b = appendMessage(b, 3, a.Source.appendTo(nil))
	b = appendMessage(b, 4, a.Sink.appendTo(nil))
	b = appendEnum(b, 5, a.Priority)
	b = appendVarint(b, 6, uint64(a.TTL))
	b = appendString(b, 7, a.Token)
	b = appendString(b, 8, a.Traceparent)
	return appendUUID(b, 9, a.ReqID)
}

func (a *Attributes) unmarshal(b []byte) error {
	*a = Attributes{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var v int32
		switch num {
		case 1, 3, 4, 9:
			var sub []byte
			sub, n, err = consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			switch num {
			case 1:
				err = unmarshalUUID(sub, &a.ID)
			case 3:
				err = a.Source.UnmarshalBinary(sub)
			case 4:
				err = a.Sink.UnmarshalBinary(sub)
			case 9:
				err = unmarshalUUID(sub, &a.ReqID)
			}
		case 2:
			v, n, err = consumeEnum(typ, b)
			a.Type = MessageType(v)
		case 5:
			v, n, err = consumeEnum(typ, b)
			a.Priority = Priority(v)
		case 6:
			a.TTL, n, err = consumeUint32(typ, b)
		case 7:
			a.Token, n, err = consumeString(typ, b)
		case 8:
			a.Traceparent, n, err = consumeString(typ, b)
		default:
			n, err = skipField(num, typ, b)
		}
		return n, err
	})
}

// MarshalBinary returns the canonical encoding of m. An empty payload is
// omitted and decodes as nil.
func (m Message) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendMessage(b, 1, m.Attributes.appendTo(nil))
	b = appendBytes(b, 2, m.Payload)
	b = appendEnum(b, 3, m.Format)
	return b, nil
}

func (m *Message) UnmarshalBinary(b []byte) error {
	*m = Message{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			var sub []byte
			sub, n, err = consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			err = m.Attributes.unmarshal(sub)
		case 2:
			var v []byte
			v, n, err = consumeBytes(typ, b)
			if len(v) > 0 {
				m.Payload = append([]byte(nil), v...)
			}
		case 3:
			var v int32
			v, n, err = consumeEnum(typ, b)
			m.Format = PayloadFormat(v)
		default:
			n, err = skipField(num, typ, b)
		}
		return n, err
	})
}

// ---- Status ----

// MarshalBinary returns the canonical encoding of s.
func (s Status) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendEnum(b, 1, s.Code)
	b = appendString(b, 2, s.Message)
	return b, nil
}

func (s *Status) UnmarshalBinary(b []byte) error {
	*s = Status{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			var v int32
			v, n, err = consumeEnum(typ, b)
			s.Code = Code(v)
		case 2:
			s.Message, n, err = consumeString(typ, b)
		default:
			n, err = skipField(num, typ, b)
		}
		return n, err
	})
}
