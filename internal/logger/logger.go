// Package logger provides the process-wide logger used by all mkrawimg
// tooling. Output goes to stderr and optionally to a log file.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Log is the shared logger instance.
var Log *logrus.Logger

const (
	ColorFlagHelp = "Color setting for the console log output."
	FileFlagHelp  = "Path of a file to write the full debug log to."
	LevelsHelp    = "Minimum log level to show on the console."

	colorAlways = "always"
	colorAuto   = "auto"
	colorNever  = "never"

	defaultConsoleLevel = logrus.InfoLevel
)

// LogFlags carries the logging options resolved from the command line.
// Nil fields mean "not set".
type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

// Colors returns the accepted values for the log color flag.
func Colors() []string {
	return []string{colorAlways, colorAuto, colorNever}
}

// Levels returns the accepted values for the log level flag.
func Levels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

type consoleFormatter struct {
	colored bool
}

func (f *consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	message := entry.Message
	if f.colored {
		switch entry.Level {
		case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
			message = color.RedString(message)
		case logrus.WarnLevel:
			message = color.YellowString(message)
		case logrus.DebugLevel, logrus.TraceLevel:
			message = color.HiBlackString(message)
		}
	}

	line := fmt.Sprintf("%s [%s] %s\n",
		entry.Time.Format("2006-01-02T15:04:05"), entry.Level.String(), message)
	return []byte(line), nil
}

type levelWriterHook struct {
	writer    io.Writer
	formatter logrus.Formatter
	minLevel  logrus.Level
}

func (h *levelWriterHook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.minLevel+1]
}

func (h *levelWriterHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

// InitBestEffort initializes the global logger from flags, falling back to
// sane defaults when a flag is unset or its target cannot be opened. It never
// fails; initialization problems are reported through the logger itself.
func InitBestEffort(flags *LogFlags) {
	consoleLevel := defaultConsoleLevel
	levelParseErr := error(nil)
	if flags != nil && flags.LogLevel != nil && *flags.LogLevel != "" {
		parsed, err := logrus.ParseLevel(*flags.LogLevel)
		if err != nil {
			levelParseErr = err
		} else {
			consoleLevel = parsed
		}
	}

	colored := term.IsTerminal(int(os.Stderr.Fd()))
	if flags != nil && flags.LogColor != nil {
		switch *flags.LogColor {
		case colorAlways:
			colored = true
		case colorNever:
			colored = false
		}
	}

	log := logrus.New()
	// The logger itself passes everything; hooks filter per destination.
	log.SetLevel(logrus.TraceLevel)
	log.SetOutput(io.Discard)
	log.AddHook(&levelWriterHook{
		writer:    os.Stderr,
		formatter: &consoleFormatter{colored: colored},
		minLevel:  consoleLevel,
	})

	fileOpenErr := error(nil)
	if flags != nil && flags.LogFile != nil && *flags.LogFile != "" {
		logFile, err := os.OpenFile(*flags.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fileOpenErr = err
		} else {
			log.AddHook(&levelWriterHook{
				writer:    logFile,
				formatter: &logrus.TextFormatter{DisableColors: true},
				minLevel:  logrus.DebugLevel,
			})
		}
	}

	Log = log

	if levelParseErr != nil {
		Log.Warnf("Invalid log level, using '%s': %s", consoleLevel, levelParseErr)
	}
	if fileOpenErr != nil {
		Log.Warnf("Failed to open log file: %s", fileOpenErr)
	}
}

// InitStderrLog initializes the global logger with defaults. Intended for
// tests and tools that take no logging flags.
func InitStderrLog() {
	InitBestEffort(nil)
}
