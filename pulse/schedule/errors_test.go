package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/cadence/errors"
)

func TestErrorClassification(t *testing.T) {
	remote := &RemoteCallError{URL: "https://api.example.com", StatusCode: 503, Body: "down"}
	wrapped := errors.Wrap(remote, "dispatch")

	var got *RemoteCallError
	assert.True(t, errors.As(wrapped, &got))
	assert.Equal(t, 503, got.StatusCode)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, "remote_call", ErrorType(wrapped))

	unsupported := errors.Wrap(&UnsupportedJobTypeError{Type: "fax"}, "dispatch")
	assert.False(t, IsRetryable(unsupported))
	assert.Equal(t, "unsupported_type", ErrorType(unsupported))

	script := &ScriptExecutionError{ExitCode: 2, Stderr: "no such file"}
	assert.Contains(t, script.Error(), "code 2")
	assert.Contains(t, script.Error(), "no such file")
	assert.Equal(t, "script", ErrorType(script))

	exec := &ExecutionError{Type: TypeFunction, Err: errors.New("panic: nil map")}
	assert.Contains(t, exec.Error(), "function job execution failed")
	assert.Equal(t, "execution", ErrorType(exec))

	assert.False(t, IsRetryable(nil))
	assert.Equal(t, "", ErrorType(nil))
	assert.Equal(t, "other", ErrorType(errors.New("mystery")))
}

func TestRemoteCallError_TruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	err := &RemoteCallError{URL: "u", StatusCode: 500, Body: string(body)}
	assert.Less(t, len(err.Error()), 300)
}
