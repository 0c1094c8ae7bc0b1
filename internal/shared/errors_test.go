package shared_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/shared"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		context  string
		expected string
		isNil    bool
	}{
		{name: "nil error", err: nil, context: "ctx", isNil: true},
		{name: "simple error", err: errors.New("original"), context: "wrapper", expected: "wrapper: original"},
		{name: "empty context", err: errors.New("original"), context: "", expected: "original"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shared.Wrap(tt.err, tt.context)
			if tt.isNil {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.True(t, errors.Is(result, tt.err))
		})
	}
}

func TestWrapf(t *testing.T) {
	base := errors.New("boom")
	err := shared.Wrapf(base, "job %s", "abc")
	require.Error(t, err)
	assert.Equal(t, "job abc: boom", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Nil(t, shared.Wrapf(nil, "job %s", "abc"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{"nil", nil, shared.KindUnknown},
		{"plain", errors.New("x"), shared.KindUnknown},
		{"not found", shared.NotFoundf("job %q", "1"), shared.KindNotFound},
		{"validation", shared.Validationf("bad cron"), shared.KindValidation},
		{"conflict", shared.Conflictf("queue full"), shared.KindConflict},
		{"wrapped dependency", fmt.Errorf("store: %w", shared.ErrDependencyFailure), shared.KindDependencyFailure},
		{"deadline", context.DeadlineExceeded, shared.KindTimeout},
		{"net timeout", timeoutErr{}, shared.KindTimeout},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), shared.KindCanceled},
		{"join picks priority", errors.Join(shared.ErrInternal, shared.ErrNotFound), shared.KindNotFound},
		{"canceled beats timeout", errors.Join(context.DeadlineExceeded, context.Canceled), shared.KindCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.KindOf(tt.err))
			assert.True(t, shared.HasKind(tt.err, tt.want))
		})
	}
}

func TestMarkKind(t *testing.T) {
	base := errors.New("no rows")

	marked := shared.MarkKind(base, shared.KindNotFound)
	assert.True(t, shared.IsNotFound(marked))
	assert.ErrorIs(t, marked, base)

	// повторная маркировка не оборачивает ошибку второй раз
	assert.Same(t, marked, shared.MarkKind(marked, shared.KindNotFound))

	assert.Equal(t, shared.ErrConflict, shared.MarkKind(nil, shared.KindConflict))
	assert.Equal(t, base, shared.MarkKind(base, shared.KindUnknown))
	assert.Equal(t, base, shared.MarkKind(base, shared.KindCanceled))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "NotFound", shared.KindNotFound.String())
	assert.Equal(t, "DependencyFailure", shared.KindDependencyFailure.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errors.New("x"), http.StatusInternalServerError},
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.ErrValidation, http.StatusBadRequest},
		{shared.ErrConflict, http.StatusConflict},
		{shared.ErrTimeout, http.StatusGatewayTimeout},
		{shared.ErrDependencyFailure, http.StatusServiceUnavailable},
		{shared.ErrInternal, http.StatusInternalServerError},
		{context.Canceled, 499},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, shared.HTTPStatus(tt.err), "err=%v", tt.err)
	}
}
