package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURI_Hash(t *testing.T) {
	base := URI{
		Authority: Authority{Name: "vehicle"},
		Entity:    Entity{Name: "body.access", VersionMajor: 1},
		Resource:  Resource{Name: "door", Instance: "front_left", Message: "Door"},
	}

	t.Run("identical topics produce identical hashes", func(t *testing.T) {
		u1 := base
		u2 := base
		assert.Equal(t, u1.Hash(), u2.Hash())
	})

	t.Run("hash is stable across calls", func(t *testing.T) {
		assert.Equal(t, base.Hash(), base.Hash())
	})

	t.Run("different topics produce different hashes", func(t *testing.T) {
		u2 := base
		u2.Resource.Instance = "front_right"

		u3 := base
		u3.Entity.VersionMajor = 2

		u4 := base
		u4.Authority.Name = ""

		assert.NotEqual(t, base.Hash(), u2.Hash())
		assert.NotEqual(t, base.Hash(), u3.Hash())
		assert.NotEqual(t, base.Hash(), u4.Hash())
	})

	t.Run("field boundaries are not ambiguous", func(t *testing.T) {
		u1 := URI{Resource: Resource{Name: "ab", Instance: "c"}}
		u2 := URI{Resource: Resource{Name: "a", Instance: "bc"}}
		assert.NotEqual(t, u1.Hash(), u2.Hash())
	})

	t.Run("empty topic hashes", func(t *testing.T) {
		assert.NotZero(t, URI{}.Hash())
	})
}
