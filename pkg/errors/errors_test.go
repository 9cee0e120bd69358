package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
}

func TestErrorSentinelUnchanged(t *testing.T) {
	sentinel := New("boom")
	wrapped := sentinel.Wrap(fmt.Errorf("details"))

	// the package level sentinel must not accumulate causes
	assert.Nil(t, sentinel.Unwrap())
	assert.True(t, Is(wrapped, sentinel))
	assert.Equal(t, "boom: details", wrapped.Error())
	assert.Equal(t, "boom", sentinel.Error())
}

func TestErrorWrapMessage(t *testing.T) {
	sentinel := New("not found")
	wrapped := sentinel.WrapMessage("looking for %q", "thing")
	assert.True(t, Is(wrapped, sentinel))
	assert.Contains(t, wrapped.Error(), `"thing"`)
}

func TestErrorChain(t *testing.T) {
	sentinel := New("timeout")
	inner := sentinel.Wrap(fmt.Errorf("after 30s"))
	outer := fmt.Errorf("running lfs: %w", inner)
	assert.True(t, Is(outer, sentinel))
}
