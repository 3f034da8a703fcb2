package live

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindOf(t *testing.T) {
	err := Errorf(KindNotFound, "stream %s not found", "abc")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindValidation))
	assert.Equal(t, "stream abc not found", err.Error())
}

func TestErrorKindOfWrapped(t *testing.T) {
	inner := Errorf(KindAuthorization, "not the host")
	wrapped := fmt.Errorf("dispatch: %w", inner)
	assert.Equal(t, KindAuthorization, KindOf(wrapped))
}

func TestErrorUntaggedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWrapInternalPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapInternal("could not persist gift", cause)

	assert.Equal(t, KindInternal, KindOf(err))
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "could not persist gift")
	assert.Contains(t, err.Error(), "connection refused")
}
