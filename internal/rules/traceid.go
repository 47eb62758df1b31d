package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mrzor/syscall-analyzer/internal/tracelog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
type TraceIDEvaluator struct {
	program *vm.Program
}

// NewTraceIDEvaluator compiles a trace ID expression over the log header.
// If exprStr is empty, the evaluator yields a zero trace ID.
func NewTraceIDEvaluator(exprStr string) (*TraceIDEvaluator, error) {
	if exprStr == "" {
		return &TraceIDEvaluator{}, nil
	}

	exprEnv := map[string]interface{}{
		"cmdline": "",
		"argv":    []string{},
		"cwd":     "",
	}

	program, err := expr.Compile(exprStr, expr.Env(exprEnv))
	if err != nil {
		return nil, fmt.Errorf("failed to compile trace-id expression: %w", err)
	}
	return &TraceIDEvaluator{program: program}, nil
}

// EvaluateAndValidate evaluates the trace-id expression against h.
// Returns the trace ID, any warnings to attach to spans, and an error.
// A zero trace ID means the tracer picks its own.
func (e *TraceIDEvaluator) EvaluateAndValidate(h *tracelog.Header) (trace.TraceID, []attribute.KeyValue, error) {
	if e.program == nil {
		return trace.TraceID{}, nil, nil
	}

	env := map[string]interface{}{
		"cmdline": h.CommandLine(),
		"argv":    h.Argv,
		"cwd":     h.Cwd,
	}

	output, err := expr.Run(e.program, env)
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to evaluate trace-id expression: %w", err)
	}

	resultStr := fmt.Sprint(output)
	if len(resultStr) == 32 {
		if traceID, err := trace.TraceIDFromHex(resultStr); err == nil {
			return traceID, nil, nil
		}
	}

	// Not a trace ID: use the first 16 bytes of its SHA-256 hash
	hash := sha256.Sum256([]byte(resultStr))
	traceID, err := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to create trace ID from hash: %w", err)
	}

	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", resultStr),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID, used SHA-256 hash instead", resultStr)),
	}
	return traceID, warnings, nil
}
