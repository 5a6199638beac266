package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKeyIsHexDigest(t *testing.T) {
	k := NewKey("file:///data/a.fits", "full_size", "fits")
	assert.Len(t, k.Key(), 64)
	assert.Equal(t, k, NewKey("file:///data/a.fits", "full_size", "fits"))
}

func TestNewKeyChangesWithEveryArgument(t *testing.T) {
	base := []string{"file:///data/a.fits", "obs-1", "12.5", "-3.25", "1deg", "jpeg"}
	want := NewKey(base...)
	for i := range base {
		args := append([]string(nil), base...)
		args[i] = args[i] + "x"
		assert.NotEqual(t, want, NewKey(args...), "argument %d", i)
	}
}

func TestNewKeyIsOrderSensitive(t *testing.T) {
	assert.NotEqual(t, NewKey("a", "b"), NewKey("b", "a"))
}
