package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const permission = 0664

// Logger is the leveled logging interface used across the library.
// Arguments are alternating key/value pairs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Nop is a Logger that discards everything. Components fall back to it
// when no logger is supplied.
type Nop struct{}

func (Nop) Error(msg string, args ...any) {}
func (Nop) Warn(msg string, args ...any)  {}
func (Nop) Info(msg string, args ...any)  {}
func (Nop) Debug(msg string, args ...any) {}

// OrNop returns log, or a Nop logger when log is nil.
func OrNop(log Logger) Logger {
	if log == nil {
		return Nop{}
	}
	return log
}

type LogBuild struct {
	writer io.Writer
	path   string
}

type LogData struct {
	writer  io.Writer
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	logData.writer = os.Stdout
	if build.writer != nil {
		logData.writer = build.writer
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		logData.writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(logData.writer).With().Timestamp().Logger()
	return
}

// Leveled returns the zerolog-backed Logger for the built log data.
func (data *LogData) Leveled() Logger {
	return &zeroLogger{logger: data.Logger}
}

type zeroLogger struct {
	logger zerolog.Logger
}

func (z *zeroLogger) Error(msg string, args ...any) { emit(z.logger.Error(), msg, args) }
func (z *zeroLogger) Warn(msg string, args ...any)  { emit(z.logger.Warn(), msg, args) }
func (z *zeroLogger) Info(msg string, args ...any)  { emit(z.logger.Info(), msg, args) }
func (z *zeroLogger) Debug(msg string, args ...any) { emit(z.logger.Debug(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
