package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mithrel/upbridge/internal/binder"
)

// maxFrame bounds a single frame on the wire.
const maxFrame = 16 << 20 // 16MB safety

var errBadFrame = errors.New("transport: malformed frame")

// request is one transaction as it travels over a stream.
//
//	1: code varint, 2: flags varint, 3: data bytes
type request struct {
	Code  binder.TransactionCode
	Flags binder.Flags
	Data  []byte
}

// reply carries the transaction status and, on success, the reply parcel.
//
//	1: status varint (int32), 2: data bytes
type reply struct {
	Status binder.StatusCode
	Data   []byte
}

func (r request) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Code))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Flags))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

func (r *request) unmarshal(b []byte) error {
	return consume(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Code = binder.TransactionCode(v)
			return n
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Flags = binder.Flags(v)
			return n
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			r.Data = append([]byte(nil), v...)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (r reply) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(r.Status)))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

func (r *reply) unmarshal(b []byte) error {
	return consume(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Status = binder.StatusCode(int32(int64(v)))
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			r.Data = append([]byte(nil), v...)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func consume(b []byte, fn func(protowire.Number, protowire.Type, []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", errBadFrame, protowire.ParseError(n))
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: %w", errBadFrame, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// WriteFrame writes a uvarint length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrame {
		return fmt.Errorf("frame too large: %d", len(payload))
	}
	var lenbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(payload)))
	if _, err := w.Write(lenbuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// FrameReader is what ReadFrame needs; *bufio.Reader satisfies it.
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// ReadFrame reads a single frame written by WriteFrame.
func ReadFrame(r FrameReader) ([]byte, error) {
	ln, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if ln > maxFrame {
		return nil, fmt.Errorf("frame too large: %d", ln)
	}
	buf := make([]byte, ln)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeRequest(w io.Writer, req request) error { return WriteFrame(w, req.marshal()) }

func readRequest(r FrameReader) (request, error) {
	var req request
	b, err := ReadFrame(r)
	if err != nil {
		return req, err
	}
	return req, req.unmarshal(b)
}

func writeReply(w io.Writer, rep reply) error { return WriteFrame(w, rep.marshal()) }

func readReply(r FrameReader) (reply, error) {
	var rep reply
	b, err := ReadFrame(r)
	if err != nil {
		return rep, err
	}
	return rep, rep.unmarshal(b)
}
