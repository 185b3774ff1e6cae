package eventlog

import "github.com/rzbill/pulse/pkg/id"

// TrimHook is an optional callback invoked when trims delete entries.
// first and last bound the deleted range; n is the number of entries removed.
type TrimHook interface {
	OnTrim(stream string, first, last id.ID, n int)
}

// TrimHookFunc adapts a function to TrimHook.
type TrimHookFunc func(stream string, first, last id.ID, n int)

func (f TrimHookFunc) OnTrim(stream string, first, last id.ID, n int) { f(stream, first, last, n) }

type noopTrimHook struct{}

func (noopTrimHook) OnTrim(string, id.ID, id.ID, int) {}
