package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

// celEnv builds the shared evaluation environment once. Conditions see the
// message's routable fields under a single `message` map plus wall-clock
// time. The fields are namespaced because bare names like `type` collide
// with CEL's built-in functions.
func celEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			// payload JSON numbers surface as doubles; let them compare
			// against int literals
			cel.CrossTypeNumericComparisons(true),
			cel.Variable("message", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("now_ms", cel.IntType),
		)
	})
	return env, envErr
}

func compile(field, expr string) (cel.Program, *cel.Type, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil, &ConfigurationError{Field: field, Err: fmt.Errorf("expression required")}
	}
	e, err := celEnv()
	if err != nil {
		return nil, nil, err
	}
	ast, iss := e.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, nil, &ConfigurationError{Field: field, Err: iss.Err()}
	}
	checked, iss2 := e.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, nil, &ConfigurationError{Field: field, Err: iss2.Err()}
	}
	prog, err := e.Program(checked)
	if err != nil {
		return nil, nil, &ConfigurationError{Field: field, Err: err}
	}
	return prog, checked.OutputType(), nil
}

// predicate is a compiled boolean condition.
type predicate struct {
	prog cel.Program
}

func compilePredicate(field, expr string) (*predicate, error) {
	prog, out, err := compile(field, expr)
	if err != nil {
		return nil, err
	}
	if out != nil && !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, &ConfigurationError{Field: field, Err: fmt.Errorf("expression must yield bool, got %s", out)}
	}
	return &predicate{prog: prog}, nil
}

// Eval reports whether the condition matches. Evaluation errors count as
// non-matches, the same stance the store's read filters take.
func (p *predicate) Eval(msg *queue.Message, nowMs int64) bool {
	out, _, err := p.prog.Eval(activation(msg, nowMs))
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// keyProgram is a compiled throttle-key extractor yielding a string.
type keyProgram struct {
	prog cel.Program
}

func compileKey(field, expr string) (*keyProgram, error) {
	prog, out, err := compile(field, expr)
	if err != nil {
		return nil, err
	}
	if out != nil && !out.IsExactType(cel.StringType) && !out.IsExactType(cel.DynType) {
		return nil, &ConfigurationError{Field: field, Err: fmt.Errorf("expression must yield string, got %s", out)}
	}
	return &keyProgram{prog: prog}, nil
}

// Eval extracts the throttle key. An empty key or evaluation error exempts
// the message from the rule.
func (k *keyProgram) Eval(msg *queue.Message, nowMs int64) string {
	out, _, err := k.prog.Eval(activation(msg, nowMs))
	if err != nil {
		return ""
	}
	switch v := out.Value().(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func activation(msg *queue.Message, nowMs int64) map[string]any {
	var payload any
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &payload)
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if nowMs == 0 {
		nowMs = time.Now().UnixMilli()
	}
	ageMs := nowMs - msg.CreatedAtMs
	if ageMs < 0 {
		ageMs = 0
	}
	return map[string]any{
		"message": map[string]any{
			"type":           msg.Type,
			"queue":          msg.Queue,
			"priority":       string(msg.Priority),
			"payload":        payload,
			"metadata":       metadata,
			"correlation_id": msg.CorrelationID,
			"age_ms":         ageMs,
		},
		"now_ms": nowMs,
	}
}
