package subscriber

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
)

// celFilter wraps a compiled CEL program evaluated against each delivered
// record. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		// Flat record fields, e.g. fields.eventType == "UPLOAD"
		cel.Variable("fields", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return celFilter{}, errNotBool
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether rec matches. Evaluation errors, such as a missing map
// key, count as no match.
func (f celFilter) Eval(rec streamsvc.Record) bool {
	if !f.enabled {
		return true
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":     rec.ID,
		"fields": fields,
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
