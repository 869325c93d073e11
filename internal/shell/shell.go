// Package shell runs external programs with logged output and captured
// errors. Everything below funnels into ExecBuilder.
package shell

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

const (
	// LogDisabledLevel silences a stream.
	LogDisabledLevel = logrus.Level(255)

	// DefaultWarnLogLines is the number of trailing stderr lines included in
	// returned errors.
	DefaultWarnLogLines = 3
)

// ExecBuilder configures a single program invocation.
type ExecBuilder struct {
	command          string
	args             []string
	stdin            string
	stdoutLogLevel   logrus.Level
	stderrLogLevel   logrus.Level
	errorStderrLines int
}

// NewExecBuilder starts building an invocation of command.
func NewExecBuilder(command string, args ...string) ExecBuilder {
	return ExecBuilder{
		command:        command,
		args:           args,
		stdoutLogLevel: logrus.DebugLevel,
		stderrLogLevel: logrus.DebugLevel,
	}
}

// Stdin feeds the string to the program's standard input.
func (b ExecBuilder) Stdin(value string) ExecBuilder {
	b.stdin = value
	return b
}

// LogLevel sets the log levels for the program's stdout and stderr streams.
func (b ExecBuilder) LogLevel(stdoutLogLevel logrus.Level, stderrLogLevel logrus.Level) ExecBuilder {
	b.stdoutLogLevel = stdoutLogLevel
	b.stderrLogLevel = stderrLogLevel
	return b
}

// ErrorStderrLines sets how many trailing stderr lines are included in a
// returned error.
func (b ExecBuilder) ErrorStderrLines(lines int) ExecBuilder {
	b.errorStderrLines = lines
	return b
}

// Execute runs the program, streaming output to the logger.
func (b ExecBuilder) Execute() error {
	_, _, err := b.run(false)
	return err
}

// ExecuteCaptureOutput runs the program and returns its stdout and stderr.
func (b ExecBuilder) ExecuteCaptureOutput() (string, string, error) {
	return b.run(true)
}

func (b ExecBuilder) run(capture bool) (string, string, error) {
	logger.Log.Debugf("Executing: %s %s", b.command, strings.Join(b.args, " "))

	cmd := exec.Command(b.command, b.args...)
	if b.stdin != "" {
		cmd.Stdin = strings.NewReader(b.stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stdout pipe:\n%w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stderr pipe:\n%w", err)
	}

	err = cmd.Start()
	if err != nil {
		return "", "", fmt.Errorf("failed to start (%s):\n%w", b.command, err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stderrTail := newTailBuffer(b.errorStderrLines)

	// Captured output must stay byte-exact, so the buffers tee off the raw
	// streams before the line scanner gets to them.
	var stdoutReader io.Reader = stdoutPipe
	var stderrReader io.Reader = stderrPipe
	if capture {
		stdoutReader = io.TeeReader(stdoutPipe, &stdoutBuf)
		stderrReader = io.TeeReader(stderrPipe, &stderrBuf)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.consumeStream(stdoutReader, b.stdoutLogLevel, nil)
	}()
	go func() {
		defer wg.Done()
		b.consumeStream(stderrReader, b.stderrLogLevel, stderrTail)
	}()
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		tail := stderrTail.lines()
		if len(tail) > 0 {
			err = fmt.Errorf("%s\n%w", strings.Join(tail, "\n"), err)
		}
		return stdoutBuf.String(), stderrBuf.String(),
			fmt.Errorf("failed to execute (%s):\n%w", b.command, err)
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

func (b ExecBuilder) consumeStream(r io.Reader, level logrus.Level, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if level != LogDisabledLevel && logger.Log != nil {
			logger.Log.Log(level, line)
		}
		if tail != nil {
			tail.add(line)
		}
	}
}

type tailBuffer struct {
	max   int
	buf   []string
	mutex sync.Mutex
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	if t.max <= 0 {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.buf = append(t.buf, line)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
}

func (t *tailBuffer) lines() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.buf
}

// Execute runs the program and returns its stdout and stderr.
func Execute(command string, args ...string) (string, string, error) {
	return NewExecBuilder(command, args...).ExecuteCaptureOutput()
}

// ExecuteWithStdin runs the program with the given standard input and returns
// its stdout and stderr.
func ExecuteWithStdin(stdin string, command string, args ...string) (string, string, error) {
	return NewExecBuilder(command, args...).Stdin(stdin).ExecuteCaptureOutput()
}

// ExecuteLiveWithErr runs the program live and includes the trailing
// stderrLines lines of stderr in any returned error.
func ExecuteLiveWithErr(stderrLines int, command string, args ...string) error {
	return NewExecBuilder(command, args...).
		LogLevel(logrus.DebugLevel, logrus.WarnLevel).
		ErrorStderrLines(stderrLines).
		Execute()
}
