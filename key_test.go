package zenq_test

import (
	"testing"

	"zenq"

	"github.com/stretchr/testify/assert"
)

func TestK_Canonicalization(t *testing.T) {
	// Different primitive representations of the same logical value must
	// produce identical keys.
	assert.Equal(t, zenq.K("user", 1), zenq.K("user", int64(1)))
	assert.Equal(t, zenq.K("user", 2), zenq.K("user", 2.0))
	assert.Equal(t, zenq.K("user", uint(7)), zenq.K("user", int32(7)))

	// Distinct values stay distinct.
	assert.NotEqual(t, zenq.K("user", 1), zenq.K("user", 2))
	assert.NotEqual(t, zenq.K("user", 1), zenq.K("post", 1))
}

func TestK_String(t *testing.T) {
	assert.Equal(t, "user:1", zenq.K("user", 1).String())
	assert.Equal(t, "todos:done:true", zenq.K("todos", "done", true).String())
	assert.Equal(t, "p:2", zenq.K("p", 2.0).String())
	assert.Equal(t, "p:2.5", zenq.K("p", 2.5).String())
}

func TestK_Zero(t *testing.T) {
	assert.True(t, zenq.K().IsZero())
	assert.False(t, zenq.K("user").IsZero())
}

func TestKey_HasPrefix(t *testing.T) {
	key := zenq.K("user", 1, "posts")
	assert.True(t, key.HasPrefix("user"))
	assert.True(t, key.HasPrefix("user:1"))
	assert.False(t, key.HasPrefix("post"))
}
