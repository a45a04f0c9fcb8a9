package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := InvalidInput("parameter %q is not coercible to %s", "count", "integer")
		assert.Equal(t, `INVALID_INPUT: parameter "count" is not coercible to integer`, err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := Database(cause, "selecting ready inputs")
		assert.Contains(t, err.Error(), "DATABASE_QUERY_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, cause, stderrors.Unwrap(err))
	})

	t.Run("details", func(t *testing.T) {
		err := InvalidInput("bad path").WithDetail("path", "items[9].name")
		assert.Equal(t, "items[9].name", err.Details["path"])
	})
}

func TestKindOf(t *testing.T) {
	err := NotFound("credential %s", "CRD-1")
	assert.Equal(t, KindResourceNotFound, KindOf(err))

	wrapped := fmt.Errorf("resolving param: %w", err)
	assert.Equal(t, KindResourceNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindResourceNotFound))

	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid input never retried", InvalidInput("x"), false},
		{"not found never retried", NotFound("x"), false},
		{"business rule never retried", BusinessRule("x"), false},
		{"context build never retried", ContextBuild(stderrors.New("x"), "y"), false},
		{"engine submission retried", EngineSubmission(stderrors.New("x"), "y"), true},
		{"result processing retried", ResultProcessing(stderrors.New("x"), "y"), true},
		{"plain db error not retried", Database(stderrors.New("syntax error"), "q"), false},
		{"deadlocked db error retried", Database(stderrors.New("pq: deadlock detected"), "q"), true},
		{"lock timeout retried", Transaction(stderrors.New("Lock wait timeout exceeded"), "tx"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestIsDeadlock(t *testing.T) {
	require.False(t, IsDeadlock(nil))
	assert.True(t, IsDeadlock(stderrors.New("ERROR: deadlock detected (SQLSTATE 40P01)")))
	assert.True(t, IsDeadlock(stderrors.New("Error 1213: Deadlock found when trying to get lock")))
	assert.True(t, IsDeadlock(stderrors.New("could not serialize access due to concurrent update")))
	assert.False(t, IsDeadlock(stderrors.New("duplicate key value violates unique constraint")))
}
