package api

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleMessage() Message {
	return Message{
		Attributes: Attributes{
			ID:          uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057"),
			Type:        MessageTypePublish,
			Source:      MustParseURI("//vehicle/body.access/1/door.front_left#Door"),
			Sink:        MustParseURI("/hvac/2/rpc.setTemp"),
			Priority:    PriorityCS4,
			TTL:         1500,
			Token:       "x",
			Traceparent: "00-abc-def-01",
			ReqID:       uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8058"),
		},
		Payload: []byte{1, 2, 3},
		Format:  PayloadFormatRaw,
	}
}

func TestMessageBinaryRoundTrip(t *testing.T) {
	want := sampleMessage()
	b, err := want.MarshalBinary()
	require.NoError(t, err)

	var got Message
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, want, got)
}

func TestEmptyPayloadDecodesAsNil(t *testing.T) {
	m := sampleMessage()
	m.Payload = []byte{}
	b, err := m.MarshalBinary()
	require.NoError(t, err)

	var got Message
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Nil(t, got.Payload)
	m.Payload = nil
	assert.Equal(t, m, got)

	nilBytes, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, nilBytes, b, "empty and nil payloads encode the same")
}

func TestMessageEncodingIsDeterministic(t *testing.T) {
	m := sampleMessage()
	b1, _ := m.MarshalBinary()
	b2, _ := m.MarshalBinary()
	assert.Equal(t, b1, b2)
}

func TestURIBinaryRoundTrip(t *testing.T) {
	uris := []URI{
		{},
		MustParseURI("/ent"),
		MustParseURI("//auth/ent/3/res.inst#Msg"),
		{Authority: Authority{Name: "a", IP: "10.0.0.1", ID: "dev-1"}, Entity: Entity{Name: "e", ID: 7, VersionMajor: 1, VersionMinor: 4}, Resource: Resource{ID: 0x8001}},
	}
	for _, want := range uris {
		b, err := want.MarshalBinary()
		require.NoError(t, err)
		var got URI
		require.NoError(t, got.UnmarshalBinary(b))
		assert.Equal(t, want, got)
	}
}

func TestStatusBinaryRoundTrip(t *testing.T) {
	want := NewStatus(CodeNotFound, "no listener for %s", "/ent")
	b, err := want.MarshalBinary()
	require.NoError(t, err)
	var got Status
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, want, got)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b, _ := sampleMessage().MarshalBinary()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	var got Message
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, sampleMessage(), got)
}

func TestUnmarshalRejectsMalformedInput(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		b, _ := sampleMessage().MarshalBinary()
		var m Message
		assert.Error(t, m.UnmarshalBinary(b[:10]))
	})

	t.Run("reserved wire type", func(t *testing.T) {
		// field 1, wire type 7
		var m Message
		assert.Error(t, m.UnmarshalBinary([]byte{0x0f, 0x00}))
	})

	t.Run("wire type mismatch on known field", func(t *testing.T) {
		b := protowire.AppendTag(nil, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 5)
		var m Message
		assert.ErrorIs(t, m.UnmarshalBinary(b), ErrWireType)
	})

	t.Run("field number zero", func(t *testing.T) {
		var u URI
		assert.Error(t, u.UnmarshalBinary([]byte{0x02, 0x00}))
	})
}
