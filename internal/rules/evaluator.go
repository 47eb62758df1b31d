package rules

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/mrzor/syscall-analyzer/internal/config"
	"github.com/mrzor/syscall-analyzer/internal/pathtable"
	"github.com/mrzor/syscall-analyzer/internal/record"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// recordEnv is the type-checking environment of record expressions.
var recordEnv = map[string]interface{}{
	"name":      "",
	"pid":       0,
	"tid":       0,
	"ret":       int64(0),
	"succeeded": false,
	"tracked":   false,
	"truncated": false,
	"paths":     []string{},
	"strings":   map[int]string{},
}

// Match counts the records a rule matched.
type Match struct {
	Rule  config.Rule
	Count int
}

// Evaluator handles compilation and evaluation of record rules.
type Evaluator struct {
	rules    []config.Rule
	programs []*vm.Program
	matches  []int
	paths    *pathtable.Table
	log      logrus.FieldLogger
}

// NewEvaluator compiles rules. Paths of records are looked up in paths.
func NewEvaluator(rules []config.Rule, paths *pathtable.Table, log logrus.FieldLogger) (*Evaluator, error) {
	programs := make([]*vm.Program, len(rules))
	for i, rule := range rules {
		program, err := expr.Compile(rule.Expression, expr.Env(recordEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for rule %q: %w", rule.Name, err)
		}
		programs[i] = program
	}

	return &Evaluator{
		rules:    rules,
		programs: programs,
		matches:  make([]int, len(rules)),
		paths:    paths,
		log:      log,
	}, nil
}

// Len returns the number of rules.
func (e *Evaluator) Len() int {
	return len(e.rules)
}

func (e *Evaluator) env(rec *record.Record) map[string]interface{} {
	var paths []string
	for _, slot := range rec.Slots {
		if slot.Kind == record.SlotPath {
			paths = append(paths, e.paths.Path(slot.Path))
		}
	}
	return map[string]interface{}{
		"name":      rec.Name(),
		"pid":       int(rec.PID()),
		"tid":       int(rec.TID()),
		"ret":       rec.Ret,
		"succeeded": rec.Succeeded(),
		"tracked":   rec.Tracked,
		"truncated": rec.Truncated,
		"paths":     paths,
		"strings":   rec.Strings,
	}
}

// run evaluates every rule; failed rules yield a nil output and an error.
func (e *Evaluator) run(rec *record.Record) ([]interface{}, error) {
	env := e.env(rec)
	outputs := make([]interface{}, len(e.programs))
	var errs []error
	for i, program := range e.programs {
		output, err := expr.Run(program, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to evaluate expression for rule %q: %w", e.rules[i].Name, err))
			continue
		}
		outputs[i] = output
	}
	return outputs, errors.Join(errs...)
}

// HandleRecord counts the rules matching rec. Evaluation errors are logged.
func (e *Evaluator) HandleRecord(rec *record.Record) error {
	if len(e.programs) == 0 {
		return nil
	}
	outputs, err := e.run(rec)
	if err != nil {
		e.log.WithError(err).WithField("syscall", rec.Name()).Warn("rule evaluation failed")
	}
	for i, output := range outputs {
		if matched, ok := output.(bool); ok && matched {
			e.matches[i]++
		}
	}
	return nil
}

// Matches returns the match count of every rule, in rule order.
func (e *Evaluator) Matches() []Match {
	out := make([]Match, len(e.rules))
	for i, rule := range e.rules {
		out[i] = Match{Rule: rule, Count: e.matches[i]}
	}
	return out
}

// Attributes evaluates the rules for rec as span attributes.
// Rules that fail to evaluate are skipped and reported in the error.
func (e *Evaluator) Attributes(rec *record.Record) ([]attribute.KeyValue, error) {
	if len(e.programs) == 0 {
		return nil, nil
	}
	outputs, err := e.run(rec)

	var attrs []attribute.KeyValue
	for i, output := range outputs {
		if output == nil {
			continue
		}
		name := e.rules[i].Name

		// Maps expand into one attribute per key
		outputValue := reflect.ValueOf(output)
		if outputValue.Kind() != reflect.Map {
			attrs = append(attrs, attribute.String(name, fmt.Sprint(output)))
			continue
		}
		for _, key := range outputValue.MapKeys() {
			attrName := name + "." + sanitizeAttributeName(fmt.Sprintf("%v", key.Interface()))
			attrs = append(attrs, attribute.String(attrName, fmt.Sprintf("%v", outputValue.MapIndex(key).Interface())))
		}
	}
	return attrs, err
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
