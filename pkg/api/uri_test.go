package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	cases := []struct {
		in   string
		want URI
	}{
		{"/ent", URI{Entity: Entity{Name: "ent"}}},
		{"/ent/2", URI{Entity: Entity{Name: "ent", VersionMajor: 2}}},
		{"/ent/1/res", URI{Entity: Entity{Name: "ent", VersionMajor: 1}, Resource: Resource{Name: "res"}}},
		{"//vehicle/body.access/1/door.front_left#Door", URI{
			Authority: Authority{Name: "vehicle"},
			Entity:    Entity{Name: "body.access", VersionMajor: 1},
			Resource:  Resource{Name: "door", Instance: "front_left", Message: "Door"},
		}},
		{"/ent//res", URI{Entity: Entity{Name: "ent"}, Resource: Resource{Name: "res"}}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseURI(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.in, got.String())
		})
	}
}

func TestParseURIErrors(t *testing.T) {
	for _, in := range []string{"", "ent", "///ent", "/ent/x", "/a/1/b/c"} {
		_, err := ParseURI(in)
		assert.Truef(t, errors.Is(err, ErrInvalidURI), "input %q: %v", in, err)
	}
}

func TestURIComparable(t *testing.T) {
	a := MustParseURI("/ent/1/res.a")
	b := MustParseURI("/ent/1/res.a")
	m := map[URI]int{a: 1}
	assert.Equal(t, 1, m[b])
	assert.True(t, a == b)
	assert.False(t, a.IsEmpty())
	assert.True(t, URI{}.IsEmpty())
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, OK.Err())
	err := NewStatus(CodeUnavailable, "host gone").Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, &StatusError{Status: Status{Code: CodeUnavailable}})
	assert.Equal(t, CodeUnavailable, StatusFromError(err).Code)
	assert.Equal(t, CodeInternal, StatusFromError(errors.New("boom")).Code)
	assert.Equal(t, "UNAVAILABLE: host gone", StatusFromError(err).String())
}
