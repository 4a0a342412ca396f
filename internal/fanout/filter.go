package fanout

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/Mister-Yo/whisper-protocol/internal/envelope"
)

// Filter wraps a compiled CEL program evaluated per envelope on both query
// and subscribe paths. The zero-expression filter matches everything.
//
// Variables: sender, recipient, sequence, height, has_payment, key_version,
// ingested_ms.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty or whitespace expression disables the
// filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("sender", cel.StringType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("sequence", cel.IntType),
		cel.Variable("height", cel.IntType),
		cel.Variable("has_payment", cel.BoolType),
		cel.Variable("key_version", cel.IntType),
		cel.Variable("ingested_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Eval reports whether the envelope passes the filter. Evaluation errors
// (type mismatches at runtime) exclude the envelope rather than failing the
// stream.
func (f Filter) Eval(e envelope.Envelope) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"sender":      e.Sender,
		"recipient":   e.Recipient,
		"sequence":    int64(e.Sequence),
		"height":      int64(e.SourceBlockHeight),
		"has_payment": e.Payment != nil,
		"key_version": int64(e.RecipientKeyVersion),
		"ingested_ms": e.IngestedAtMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
