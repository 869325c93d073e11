package shell

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	m.Run()
}

func TestExecuteCaptureOutput(t *testing.T) {
	stdout, stderr, err := Execute("sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)
}

func TestExecuteWithStdin(t *testing.T) {
	stdout, _, err := ExecuteWithStdin("hello", "cat")
	require.NoError(t, err)
	assert.Equal(t, "hello", stdout)
}

// Captured output must not gain or lose a trailing newline.
func TestCaptureIsByteExact(t *testing.T) {
	stdout, _, err := ExecuteWithStdin("hello\n", "cat")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)

	stdout, _, err = Execute("printf", "a\nb")
	require.NoError(t, err)
	assert.Equal(t, "a\nb", stdout)
}

func TestExecuteFailureIncludesStderrTail(t *testing.T) {
	err := NewExecBuilder("sh", "-c", "echo first >&2; echo second >&2; exit 3").
		ErrorStderrLines(DefaultWarnLogLines).
		Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestExecuteMissingCommand(t *testing.T) {
	_, _, err := Execute("this-command-does-not-exist")
	assert.ErrorContains(t, err, "failed to start")
}

func TestOutputStreamsReachTheLogger(t *testing.T) {
	hook := logger.NewMemoryLogHook()
	logger.Log.AddHook(hook)
	hook.ConsumeMessages()

	err := NewExecBuilder("sh", "-c", "echo streamed-line").
		LogLevel(logrus.InfoLevel, logrus.WarnLevel).
		Execute()
	require.NoError(t, err)

	found := false
	for _, message := range hook.ConsumeMessages() {
		if strings.Contains(message.Message, "streamed-line") && message.Level == logrus.InfoLevel {
			found = true
		}
	}
	assert.True(t, found, "expected the stdout line to be logged at info level")
}
