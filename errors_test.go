package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
)

func TestTypedErrorsCarryExitCodes(t *testing.T) {
	var coder cli.ExitCoder

	require.ErrorAs(t, NewRuntimeError(errors.New("bad plan")), &coder)
	assert.Equal(t, exitcodes.RuntimeErr, coder.ExitCode())

	require.ErrorAs(t, NewTestFailureError("2 testcases failed"), &coder)
	assert.Equal(t, exitcodes.TestFailure, coder.ExitCode())
}

func TestErrorHelpersMatchWrappedErrors(t *testing.T) {
	inner := errors.New("boom")
	wrapped := fmt.Errorf("run: %w", NewRuntimeError(inner))

	assert.True(t, IsRuntimeError(wrapped))
	assert.False(t, IsTestFailureError(wrapped))
	assert.ErrorIs(t, wrapped, inner)

	failure := fmt.Errorf("run: %w", NewTestFailureError("nope"))
	assert.True(t, IsTestFailureError(failure))
	assert.False(t, IsRuntimeError(failure))

	assert.False(t, IsRuntimeError(nil))
	assert.False(t, IsTestFailureError(nil))
}
