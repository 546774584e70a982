package interpreter

import (
	"fmt"
	"math"
	"strconv"

	"convoscript/core"
)

// code evaluates a code instruction for its side effects. Failures are
// logged and never change control flow.
func (in *Interpreter) code(lv *level, instr core.Instruction) {
	src, ok := instr.Content().(string)
	if !ok || src == "" {
		return
	}
	if _, err := in.store.Evaluate(src, in.sandbox(lv)); err != nil {
		lv.logger.With(map[string]interface{}{"error": err}).Warn("there is a problem with the content of your code message")
	}
}

// sandbox is the environment code instructions see: the context variables
// plus the functions that may change state.
func (in *Interpreter) sandbox(lv *level) map[string]any {
	env := lv.vars.env()
	env["setLatestMessage"] = setter("setLatestMessage", &lv.vars.LatestMessage)
	env["setLatestImage"] = setter("setLatestImage", &lv.vars.LatestImage)
	env["setLatestSound"] = setter("setLatestSound", &lv.vars.LatestSound)
	env["assign"] = func(args ...any) (any, error) {
		return in.assign(args)
	}
	env["log"] = func(args ...any) (any, error) {
		lv.logger.Info("script log", "values", args)
		return nil, nil
	}
	return env
}

// assign(script, index, field, value) replaces one instruction of a
// registered script with a copy carrying field = value.
func (in *Interpreter) assign(args []any) (any, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("assign: want (script, index, field, value), got %d arguments", len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("assign: script name must be a string, got %T", args[0])
	}
	index, err := toIndex(args[1])
	if err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}
	field, ok := args[2].(string)
	if !ok {
		return nil, fmt.Errorf("assign: field must be a string, got %T", args[2])
	}
	script, err := in.store.Get(name)
	if err != nil {
		return nil, err
	}
	current := script.Raw(index)
	if current == nil {
		return nil, fmt.Errorf("assign: index %d out of range for %q", index, name)
	}
	script.Set(index, current.With(field, args[3]))
	return args[3], nil
}

func setter(fn string, dst *any) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: want 1 argument, got %d", fn, len(args))
		}
		*dst = args[0]
		return args[0], nil
	}
}

func toIndex(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("index %v is not an integer", t)
		}
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	}
	return 0, fmt.Errorf("index must be a number, got %T", v)
}
