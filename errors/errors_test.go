package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

func TestKindIsMatchesBareKind(t *testing.T) {
	var err error = wtfserrors.NotFound
	assert.True(t, wtfserrors.NotFound.Is(err))
	assert.False(t, wtfserrors.NoSpace.Is(err))
}

func TestWithMessagePreservesKind(t *testing.T) {
	err := wtfserrors.NotFound.WithMessage("no such dentry")
	assert.True(t, wtfserrors.NotFound.Is(err))
	assert.Equal(t, "no such dentry", err.Error())
}

func TestWrapErrorPreservesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("disk exploded")
	err := wtfserrors.IOError.WrapError(cause)
	assert.True(t, wtfserrors.IOError.Is(err))
	assert.Contains(t, err.Error(), "disk exploded")
}

func TestChainedWithMessageStillMatchesKind(t *testing.T) {
	err := wtfserrors.NotEmpty.WithMessage("first").WithMessage("second")
	assert.True(t, wtfserrors.NotEmpty.Is(err))
}
