package log

import (
	"fmt"
	"time"
)

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func Str(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Dur records a duration in its String form ("1.5s").
func Dur(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Err records err under "error".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags the entry with a component name.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// Stringer records v.String().
func Stringer(key string, v fmt.Stringer) Field { return Field{Key: key, Value: v.String()} }
