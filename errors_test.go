package redress

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		err := E("Dispatcher.Submit", KindTransient, errors.New("connection refused"))
		assert.Equal(t, "Dispatcher.Submit: transient: connection refused", err.Error())
	})

	t.Run("without cause", func(t *testing.T) {
		err := E("Engine.Close", KindInternal, nil)
		assert.Equal(t, "Engine.Close: internal", err.Error())
	})
}

func TestErrorUnwrap(t *testing.T) {
	err := E("Store.GetAttempt", KindNotFound, ErrAttemptNotFound)

	require.True(t, errors.Is(err, ErrAttemptNotFound))

	var structured *Error
	require.True(t, errors.As(err, &structured))
	assert.Equal(t, KindNotFound, structured.Kind)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "structured error",
			err:  E("op", KindTimeout, nil),
			want: KindTimeout,
		},
		{
			name: "wrapped structured error",
			err:  fmt.Errorf("outer: %w", E("op", KindPermission, nil)),
			want: KindPermission,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
