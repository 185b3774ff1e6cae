package log

import (
	stdlog "log"
	"strings"
)

type stdWriter struct {
	logger Logger
}

func (w stdWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// ToStdLogger returns a *log.Logger that writes through l at info level.
func ToStdLogger(l Logger) *stdlog.Logger {
	return stdlog.New(stdWriter{logger: l.WithComponent("stdlog")}, "", 0)
}

// RedirectStdLog routes the standard library's default logger through l and
// returns a function that restores the previous output and flags.
func RedirectStdLog(l Logger) func() {
	prevFlags := stdlog.Flags()
	prevPrefix := stdlog.Prefix()
	prevOut := stdlog.Writer()
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(stdWriter{logger: l.WithComponent("stdlog")})
	return func() {
		stdlog.SetFlags(prevFlags)
		stdlog.SetPrefix(prevPrefix)
		stdlog.SetOutput(prevOut)
	}
}
