package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	err := New(InvalidChecksum, "frame 42")
	assert.Equal(t, "invalid checksum: frame 42", err.Error())
	assert.True(t, Is(err, InvalidChecksum))
	assert.False(t, Is(err, InvalidMagic))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(ConnectFailed, cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, ConnectFailed, CodeOf(err))
}

func TestCodeOfNonTaxonomyError(t *testing.T) {
	assert.Equal(t, Unknown, CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, Success, CodeOf(nil))
}

func TestEveryCodeHasADescription(t *testing.T) {
	for c := Success; c <= SubscriberStopped; c++ {
		if _, ok := Table[c]; !ok {
			t.Fatalf("code %d has no registered description", c)
		}
	}
}
