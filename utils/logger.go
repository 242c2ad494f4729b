package utils

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LogLevelNormal LogLevel = iota
	LogLevelDebug
	LogLevelVerbose
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelVerbose:
		return "verbose"
	default:
		return "normal"
	}
}

func GetLogLevel() LogLevel {
	logLevel := os.Getenv("ACT_LOGLEVEL")
	switch logLevel {
	case "debug":
		return LogLevelDebug
	case "verbose":
		return LogLevelVerbose
	default:
		return LogLevelNormal
	}
}

var LogOut = logrus.New()
var LogErr = logrus.New()

func ApplyLogLevel() {
	switch GetLogLevel() {
	case LogLevelDebug:
		LogOut.SetLevel(logrus.TraceLevel)
	case LogLevelVerbose:
		LogOut.SetLevel(logrus.WarnLevel)
	default:
		LogOut.SetLevel(logrus.InfoLevel)
	}
}

type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(entry.Message), nil
}

type lockedWriter struct {
	w   io.Writer
	mux *sync.Mutex
}

func (lw *lockedWriter) Write(p []byte) (n int, err error) {
	lw.mux.Lock()
	defer lw.mux.Unlock()
	return lw.w.Write(p)
}

var outputMux = &sync.Mutex{}

// SetLogOutput redirects both loggers, e.g. to capture output in tests.
func SetLogOutput(stdout io.Writer, stderr io.Writer) {
	LogOut.SetOutput(&lockedWriter{w: stdout, mux: outputMux})
	LogErr.SetOutput(&lockedWriter{w: stderr, mux: outputMux})
}

func init() {
	// nodes of concurrent runs log from different goroutines,
	// one mutex keeps their lines from interleaving
	SetLogOutput(os.Stdout, os.Stderr)
	LogOut.SetFormatter(&CustomFormatter{})
	LogErr.SetFormatter(&CustomFormatter{})
}
