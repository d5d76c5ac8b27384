package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Settings configures where and how the process log is written.
type Settings struct {
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	Ext        string `yaml:"ext"`
	TimeFormat string `yaml:"time-format"`
}

// Level is a log severity.
type Level int

// Output levels, low to high.
const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

const (
	logFlags           = log.LstdFlags
	defaultCallerDepth = 2
	entryChanSize      = 1 << 16
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

type entry struct {
	msg   string
	level Level
}

// backend is the async sink all package-level helpers write through.
type backend struct {
	logFile   *os.File
	logger    *log.Logger
	entryChan chan *entry
	entryPool *sync.Pool
	settings  *Settings
}

// verbosity gates the per-request access log independently of the
// process log level; it is the runtime-adjustable knob behind the
// `verbosity` command.
var verbosity atomic.Int32

// Default is the process-wide logger, stdout-only until Setup is called.
var Default = newStdoutBackend()

func newStdoutBackend() *backend {
	b := &backend{
		logger:    log.New(os.Stdout, "", logFlags),
		entryChan: make(chan *entry, entryChanSize),
		entryPool: &sync.Pool{New: func() interface{} { return &entry{} }},
	}
	go b.drain()
	return b
}

// Setup points Default at a daily-rotating file in addition to stdout.
func Setup(settings *Settings) {
	b, err := newFileBackend(settings)
	if err != nil {
		panic(err)
	}
	Default = b
}

func newFileBackend(settings *Settings) (*backend, error) {
	name := dailyName(settings)
	f, err := mustOpen(name, settings.Path)
	if err != nil {
		return nil, fmt.Errorf("logger: opening log file: %w", err)
	}
	b := &backend{
		logFile:   f,
		logger:    log.New(io.MultiWriter(os.Stdout, f), "", logFlags),
		entryChan: make(chan *entry, entryChanSize),
		entryPool: &sync.Pool{New: func() interface{} { return &entry{} }},
		settings:  settings,
	}
	go b.drain()
	return b, nil
}

func dailyName(settings *Settings) string {
	return fmt.Sprintf("%s-%s.%s", settings.Name, time.Now().Format(settings.TimeFormat), settings.Ext)
}

// drain is the single writer goroutine; it rolls the file at day
// boundaries by comparing the name a fresh entry would resolve to
// against the file currently open.
func (b *backend) drain() {
	for e := range b.entryChan {
		if b.settings != nil {
			name := dailyName(b.settings)
			if path.Join(b.settings.Path, name) != b.logFile.Name() {
				f, err := mustOpen(name, b.settings.Path)
				if err != nil {
					panic("logger: rolling to " + name + " failed: " + err.Error())
				}
				b.logFile = f
				b.logger = log.New(io.MultiWriter(os.Stdout, f), "", logFlags)
			}
		}
		_ = b.logger.Output(0, e.msg) // msg already carries file:line, skip calldepth
		b.entryPool.Put(e)
	}
}

func (b *backend) output(level Level, callerDepth int, msg string) {
	var formatted string
	if _, file, line, ok := runtime.Caller(callerDepth); ok {
		formatted = fmt.Sprintf("[%s][%s:%d] %s", levelNames[level], filepath.Base(file), line, msg)
	} else {
		formatted = fmt.Sprintf("[%s] %s", levelNames[level], msg)
	}
	e := b.entryPool.Get().(*entry)
	e.msg = formatted
	e.level = level
	b.entryChan <- e
	if level == FATAL {
		time.Sleep(50 * time.Millisecond) // best-effort: let drain() flush before exit
		os.Exit(1)
	}
}

// SetVerbosity implements the `verbosity` command: it raises or lowers
// the threshold used by Access, independent of the process log level.
func SetVerbosity(level int32) {
	if level < int32(DEBUG) {
		level = int32(DEBUG)
	}
	if level > int32(FATAL) {
		level = int32(FATAL)
	}
	verbosity.Store(level)
}

// Verbosity returns the current access-log threshold.
func Verbosity() int32 {
	return verbosity.Load()
}

// Access logs one request line: remote \t command \t elapsedMillis.
// Only commands with at least 3 tokens are access-logged.
func Access(remote, command string, elapsedMillis float64) {
	if verbosity.Load() < int32(INFO) {
		return
	}
	Default.output(INFO, defaultCallerDepth, fmt.Sprintf("%s\t%s\t%.3f", remote, command, elapsedMillis))
}

// Debug logs at DEBUG through Default.
func Debug(v ...interface{}) { Default.output(DEBUG, defaultCallerDepth, fmt.Sprintln(v...)) }

// Debugf logs at DEBUG through Default.
func Debugf(format string, v ...interface{}) {
	Default.output(DEBUG, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Info logs at INFO through Default.
func Info(v ...interface{}) { Default.output(INFO, defaultCallerDepth, fmt.Sprintln(v...)) }

// Infof logs at INFO through Default.
func Infof(format string, v ...interface{}) {
	Default.output(INFO, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Warn logs at WARNING through Default.
func Warn(v ...interface{}) { Default.output(WARNING, defaultCallerDepth, fmt.Sprintln(v...)) }

// Warnf logs at WARNING through Default.
func Warnf(format string, v ...interface{}) {
	Default.output(WARNING, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Error logs at ERROR through Default.
func Error(v ...interface{}) { Default.output(ERROR, defaultCallerDepth, fmt.Sprintln(v...)) }

// Errorf logs at ERROR through Default.
func Errorf(format string, v ...interface{}) {
	Default.output(ERROR, defaultCallerDepth, fmt.Sprintf(format, v...))
}

// Fatal logs at FATAL through Default then exits the process.
func Fatal(v ...interface{}) { Default.output(FATAL, defaultCallerDepth, fmt.Sprintln(v...)) }
