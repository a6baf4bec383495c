package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_WrapsAndFormats(t *testing.T) {
	base := errors.New("boom")

	err := Transient(base, "rtm", "read")
	require.Error(t, err)
	assert.Equal(t, "rtm: read: boom", err.Error())
	assert.ErrorIs(t, err, base)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))

	err = Fatal(base, "rtm", "")
	assert.Equal(t, "rtm: boom", err.Error())
	assert.True(t, IsFatal(err))

	assert.NoError(t, Invalid(nil, "config", "load"))
}

func TestClass_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{ErrConnectionClosed, ErrorTransient},
		{fmt.Errorf("read: %w", ErrConnectionClosed), ErrorTransient},
		{ErrNotConnected, ErrorTransient},
		{fmt.Errorf("register help: %w", ErrDuplicateCommand), ErrorInvalid},
		{ErrMissingConfig, ErrorInvalid},
		{errors.New("something else"), ErrorFatal},
		{Fatal(ErrConnectionClosed, "rtm", "dial"), ErrorFatal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Class(tt.err), tt.err.Error())
	}
}

func TestIsTransient_ContextCanceled(t *testing.T) {
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
