package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

const conditionProgramCacheSize = 256

// MetadataConditionEvaluator evaluates rule conditions against deployment
// metadata. Structured condition types read the metadata key named after the
// type (branch, tests, size, author); time falls back to the evaluation
// clock when the metadata carries no "time" value. Expression conditions
// compile Value as an expr program over the metadata map; compiled programs
// are cached by source.
type MetadataConditionEvaluator struct {
	Now func() time.Time

	programs *lru.Cache[string, *vm.Program]
}

func NewMetadataConditionEvaluator() *MetadataConditionEvaluator {
	cache, err := lru.New[string, *vm.Program](conditionProgramCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("core: condition program cache: %v", err))
	}
	return &MetadataConditionEvaluator{
		Now: func() time.Time {
			return time.Now().UTC()
		},
		programs: cache,
	}
}

func (e *MetadataConditionEvaluator) Evaluate(ctx context.Context, condition RuleCondition, metadata map[string]any) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("core: condition evaluator is nil")
	}
	if condition.Type == ConditionTypeExpression {
		return e.evaluateExpression(condition.Value, metadata)
	}
	actual, err := e.conditionSubject(condition.Type, metadata)
	if err != nil {
		return false, err
	}
	return compareCondition(condition.Operator, actual, condition.Value)
}

// conditionSubject resolves the metadata value a structured condition
// compares against.
func (e *MetadataConditionEvaluator) conditionSubject(kind ConditionType, metadata map[string]any) (any, error) {
	key := string(kind)
	if value, ok := metadata[key]; ok {
		return value, nil
	}
	if kind == ConditionTypeTime {
		return e.now().Format("15:04"), nil
	}
	return nil, fmt.Errorf("core: deployment metadata has no %q value", key)
}

func (e *MetadataConditionEvaluator) evaluateExpression(source string, metadata map[string]any) (bool, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return false, fmt.Errorf("core: expression condition is empty")
	}
	program, ok := e.programs.Get(source)
	if !ok {
		compiled, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return false, fmt.Errorf("core: compile condition expression: %w", err)
		}
		e.programs.Add(source, compiled)
		program = compiled
	}
	env := map[string]any{}
	for key, value := range metadata {
		env[key] = value
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("core: evaluate condition expression: %w", err)
	}
	met, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("core: condition expression did not return a boolean")
	}
	return met, nil
}

func (e *MetadataConditionEvaluator) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// compareCondition applies one operator. Ordering operators compare
// numerically when both sides parse as numbers and lexically otherwise,
// which keeps clock strings like "09:30" orderable.
func compareCondition(operator ConditionOperator, actual any, expected string) (bool, error) {
	subject := strings.TrimSpace(fmt.Sprint(actual))
	expected = strings.TrimSpace(expected)

	switch operator {
	case ConditionOperatorEquals:
		return subject == expected, nil
	case ConditionOperatorContains:
		return strings.Contains(subject, expected), nil
	case ConditionOperatorGreaterThan:
		cmp, err := compareOrdered(subject, expected)
		if err != nil {
			return false, err
		}
		return cmp > 0, nil
	case ConditionOperatorLessThan:
		cmp, err := compareOrdered(subject, expected)
		if err != nil {
			return false, err
		}
		return cmp < 0, nil
	case ConditionOperatorInRange:
		low, high, err := splitRange(expected)
		if err != nil {
			return false, err
		}
		lowCmp, err := compareOrdered(subject, low)
		if err != nil {
			return false, err
		}
		highCmp, err := compareOrdered(subject, high)
		if err != nil {
			return false, err
		}
		return lowCmp >= 0 && highCmp <= 0, nil
	default:
		return false, fmt.Errorf("core: unsupported condition operator %q", operator)
	}
}

func compareOrdered(left, right string) (int, error) {
	leftNum, leftErr := strconv.ParseFloat(left, 64)
	rightNum, rightErr := strconv.ParseFloat(right, 64)
	if leftErr == nil && rightErr == nil {
		switch {
		case leftNum < rightNum:
			return -1, nil
		case leftNum > rightNum:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if left == "" || right == "" {
		return 0, fmt.Errorf("core: ordered comparison requires two values")
	}
	return strings.Compare(left, right), nil
}

// splitRange parses "low-high". A comma separator is tolerated so numeric
// ranges with negative bounds stay expressible.
func splitRange(value string) (string, string, error) {
	separator := "-"
	if strings.Contains(value, ",") {
		separator = ","
	}
	parts := strings.SplitN(value, separator, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("core: range condition wants \"low%shigh\", got %q", separator, value)
	}
	low := strings.TrimSpace(parts[0])
	high := strings.TrimSpace(parts[1])
	if low == "" || high == "" {
		return "", "", fmt.Errorf("core: range condition has an empty bound in %q", value)
	}
	return low, high, nil
}

var _ ConditionEvaluator = (*MetadataConditionEvaluator)(nil)
