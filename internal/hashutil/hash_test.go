package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContent_Stable(t *testing.T) {
	a := Content("hello")
	b := Content("hello")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContent_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, Content("hello"), Content("hello "))
}

func TestContent_Empty(t *testing.T) {
	assert.Equal(t, "", Content(""))
}

func TestContentWithContext_OrderIndependent(t *testing.T) {
	ctx1 := map[string]string{"locale": "en_US", "model": "hero"}
	ctx2 := map[string]string{"model": "hero", "locale": "en_US"}
	assert.Equal(t, ContentWithContext("text", ctx1), ContentWithContext("text", ctx2))
}

func TestContentWithContext_ContextSensitive(t *testing.T) {
	base := ContentWithContext("text", nil)
	withCtx := ContentWithContext("text", map[string]string{"locale": "en_US"})
	assert.NotEqual(t, base, withCtx)
	assert.Equal(t, Content("text"), base)
}
