package core

import (
	"fmt"
	"strings"
)

// ReservedEnd is the branch sentinel meaning "stop here, do not recurse".
// It can never be registered as a script name.
const ReservedEnd = "end"

// IsReservedName reports whether name is the reserved sentinel.
func IsReservedName(name string) bool {
	return strings.EqualFold(name, ReservedEnd)
}

// InstructionKind is the tagged-variant discriminator of an instruction.
type InstructionKind int

const (
	KindMessage InstructionKind = iota
	KindFunctionCall
	KindCondition
	KindInput
	KindCode
	KindReturn
)

func (k InstructionKind) String() string {
	switch k {
	case KindFunctionCall:
		return "function"
	case KindCondition:
		return "condition"
	case KindInput:
		return "input"
	case KindCode:
		return "code"
	case KindReturn:
		return "return"
	default:
		return "message"
	}
}

// Well-known instruction fields.
const (
	FieldRole     = "role"
	FieldContent  = "content"
	FieldResponse = "response"
	FieldType     = "type"
	FieldTrue     = "true"
	FieldFalse    = "false"
	FieldFileType = "fileType"
)

// Instruction is one step of a script: a free-form record whose shape
// selects its variant. Scripts are authored as JSON, so values are whatever
// a JSON decoder produces plus the media values capabilities return.
type Instruction map[string]any

// Role returns the lower-cased role label, or "" when absent.
func (in Instruction) Role() string {
	return strings.ToLower(in.String(FieldRole))
}

// Content returns the raw content field.
func (in Instruction) Content() any {
	return in[FieldContent]
}

// String returns field key when it holds a string.
func (in Instruction) String(key string) string {
	s, _ := in[key].(string)
	return s
}

// InputType returns the declared type of an input instruction, lower-cased.
func (in Instruction) InputType() string {
	if inner, ok := AsRecord(in.Content()); ok {
		s, _ := inner[FieldType].(string)
		return strings.ToLower(s)
	}
	return ""
}

// Kind classifies the instruction. Function and condition roles win over
// the input shape, which wins over code and return roles.
func (in Instruction) Kind() InstructionKind {
	switch in.Role() {
	case "function":
		return KindFunctionCall
	case "condition":
		return KindCondition
	}
	if inner, ok := AsRecord(in.Content()); ok {
		if marker, ok := inner[FieldContent]; ok && strings.EqualFold(fmt.Sprint(marker), "input") {
			return KindInput
		}
	}
	switch in.Role() {
	case "code":
		return KindCode
	case "return":
		return KindReturn
	}
	return KindMessage
}

// With returns a copy of the instruction with key set to value. The copy is
// shallow: the instruction is replaced, nested values are shared.
func (in Instruction) With(key string, value any) Instruction {
	out := make(Instruction, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[key] = value
	return out
}

// AsRecord views v as a record when it is one.
func AsRecord(v any) (map[string]any, bool) {
	switch r := v.(type) {
	case Instruction:
		return r, true
	case map[string]any:
		return r, true
	}
	return nil, false
}

// AsInstructions views v as an instruction sequence when every element is a record.
func AsInstructions(v any) ([]Instruction, bool) {
	switch s := v.(type) {
	case []Instruction:
		return s, true
	case []any:
		out := make([]Instruction, 0, len(s))
		for _, item := range s {
			rec, ok := AsRecord(item)
			if !ok {
				return nil, false
			}
			out = append(out, Instruction(rec))
		}
		return out, true
	case []map[string]any:
		out := make([]Instruction, len(s))
		for i, rec := range s {
			out[i] = rec
		}
		return out, true
	}
	return nil, false
}

// TargetKind distinguishes the cases of a BranchTarget.
type TargetKind int

const (
	TargetEnd TargetKind = iota
	TargetScript
	TargetInline
)

// BranchTarget is where a condition goes: nowhere, a named script, or an
// inline instruction sequence.
type BranchTarget struct {
	Kind   TargetKind
	Name   string
	Inline []Instruction
}

// ParseBranchTarget interprets a condition's true/false field. A missing
// field is treated as an unknown script so the caller's fallback chain sees it.
func ParseBranchTarget(v any) (BranchTarget, error) {
	switch t := v.(type) {
	case string:
		if IsReservedName(t) {
			return BranchTarget{Kind: TargetEnd}, nil
		}
		return BranchTarget{Kind: TargetScript, Name: t}, nil
	case nil:
		return BranchTarget{}, &NotFoundError{Kind: "script", Name: ""}
	}
	if seq, ok := AsInstructions(v); ok {
		return BranchTarget{Kind: TargetInline, Inline: seq}, nil
	}
	return BranchTarget{}, fmt.Errorf("unsupported branch target %T", v)
}
