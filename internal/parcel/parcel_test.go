package parcel

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mithrel/upbridge/pkg/api"
)

func TestParcelOrderedValues(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInterfaceToken("org.example.IFoo"))
	p.WriteInt32(-7)
	p.WriteUint64(1 << 63)
	p.WriteBool(true)
	require.NoError(t, p.WriteByteArray([]byte{9, 8}))
	require.NoError(t, p.WriteByteArray(nil))
	require.NoError(t, p.WriteString("héllo"))

	r := FromBytes(p.Bytes())
	require.NoError(t, r.EnforceInterface("org.example.IFoo"))
	i, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i)
	u, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), u)
	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
	arr, err := r.ReadByteArray()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, arr)
	arr, err = r.ReadByteArray()
	require.NoError(t, err)
	assert.Nil(t, arr)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)
	assert.Zero(t, r.Remaining())

	_, err = r.ReadInt64()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestEnforceInterfaceMismatch(t *testing.T) {
	p := New()
	require.NoError(t, p.WriteInterfaceToken("a.B"))
	err := FromBytes(p.Bytes()).EnforceInterface("a.C")
	assert.ErrorIs(t, err, ErrBadInterface)
}

func TestReadByteArrayHugeLength(t *testing.T) {
	p := New()
	p.WriteInt32(1 << 30)
	_, err := FromBytes(p.Bytes()).ReadByteArray()
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestCodecRoundTrip(t *testing.T) {
	if !PayloadEnabled {
		t.Skip("payload serialization disabled in this build")
	}
	want := api.Message{
		Attributes: api.Attributes{ID: api.NewMessageID(), Token: "x", Source: api.MustParseURI("/ent/1/topic")},
		Payload:    []byte{1, 2, 3},
	}
	b, err := Encode(want)
	require.NoError(t, err)
	assert.Equal(t, int32(len(b)-4), int32(binary.LittleEndian.Uint32(b)))

	var got api.Message
	require.NoError(t, Decode(b, &got))
	assert.Equal(t, want, got)
}

func TestDecodeFramingErrors(t *testing.T) {
	good, err := Encode(api.MustParseURI("/ent/1/topic"))
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":          nil,
		"partial prefix": good[:2],
		"short payload":  good[:len(good)-1],
		"trailing bytes": append(append([]byte(nil), good...), 0),
		"negative":       {0xff, 0xff, 0xff, 0xff},
		"oversized":      binary.LittleEndian.AppendUint32(nil, MaxPayloadSize+1),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			var u api.URI
			err := Decode(b, &u)
			assert.ErrorIs(t, err, ErrFraming)
			assert.False(t, errors.Is(err, ErrMalformedPayload))
		})
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	if !PayloadEnabled {
		t.Skip("payload serialization disabled in this build")
	}
	// A well-framed payload holding a tag with reserved wire type 7.
	b := binary.LittleEndian.AppendUint32(nil, 2)
	b = append(b, 0x0f, 0x00)
	var m api.Message
	err := Decode(b, &m)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.False(t, errors.Is(err, ErrFraming))
}

func TestParcelableInsideParcel(t *testing.T) {
	if !PayloadEnabled {
		t.Skip("payload serialization disabled in this build")
	}
	topic := api.MustParseURI("//auth/ent/2/res.i#M")
	st := api.NewStatus(api.CodeNotFound, "nope")

	p := New()
	p.WriteInt64(42)
	require.NoError(t, WriteParcelable(p, topic))
	require.NoError(t, WriteParcelable(p, st))

	r := FromBytes(p.Bytes())
	h, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), h)
	var gotTopic api.URI
	require.NoError(t, ReadParcelable(r, &gotTopic))
	var gotStatus api.Status
	require.NoError(t, ReadParcelable(r, &gotStatus))
	assert.Equal(t, topic, gotTopic)
	assert.Equal(t, st, gotStatus)

	var extra api.Status
	assert.ErrorIs(t, ReadParcelable(r, &extra), ErrFraming)
}
