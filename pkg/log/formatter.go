package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const defaultTimestampFormat = time.RFC3339Nano

// JSONFormatter renders one JSON object per line. Fields are flattened next
// to ts/level/msg/caller.
type JSONFormatter struct {
	TimestampFormat string
	DisableCaller   bool
}

func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = defaultTimestampFormat
	}
	obj := make(map[string]interface{}, len(e.Fields)+4)
	for k, v := range e.Fields {
		obj[k] = jsonSafe(v)
	}
	obj["ts"] = e.Timestamp.Format(layout)
	obj["level"] = e.Level.String()
	obj["msg"] = e.Message
	if !f.DisableCaller && e.Caller != "" {
		obj["caller"] = e.Caller
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func jsonSafe(v interface{}) interface{} {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

// TextFormatter renders "ts LEVEL msg key=value ..." with sorted keys.
type TextFormatter struct {
	TimestampFormat string
	DisableCaller   bool
}

func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = "2006-01-02T15:04:05.000Z07:00"
	}
	var buf bytes.Buffer
	buf.WriteString(e.Timestamp.Format(layout))
	buf.WriteByte(' ')
	buf.WriteString(fmt.Sprintf("%-5s", e.Level.String()))
	buf.WriteByte(' ')
	buf.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteByte(' ')
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(textValue(e.Fields[k]))
	}
	if !f.DisableCaller && e.Caller != "" {
		buf.WriteString(" caller=")
		buf.WriteString(e.Caller)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func textValue(v interface{}) string {
	var s string
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		s = t
	case error:
		s = t.Error()
	default:
		s = fmt.Sprint(t)
	}
	if s == "" || bytes.ContainsAny([]byte(s), " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
