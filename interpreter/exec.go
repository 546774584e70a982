package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"convoscript/capabilities"
	"convoscript/core"
	"convoscript/expression"
	"convoscript/media"
	"convoscript/store"
	"convoscript/suspension"
)

// level is one script being walked. Nested branches get their own level
// and their own context variables.
type level struct {
	rs     *runState
	name   string
	script *store.Script
	vars   Vars
	logger *core.Logger
}

// exec walks script from the top. A system message at index 0 becomes the
// level's system prompt and is not processed as a message.
func (in *Interpreter) exec(ctx context.Context, rs *runState, name string, script *store.Script) (Vars, error) {
	if rs.depth >= in.maxDepth {
		return Vars{}, ErrMaxDepth
	}
	rs.depth++
	defer func() { rs.depth-- }()

	lv := &level{
		rs:     rs,
		name:   name,
		script: script,
		logger: rs.logger.With(map[string]interface{}{"level": name, "depth": rs.depth}),
	}
	start := 0
	if first := script.At(0); first != nil && first.Role() == "system" {
		lv.vars.SystemPrompt = first.Content()
		start = 1
	}

	for i := start; i < script.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return lv.vars, err
		}
		in.setState(rs, PhaseRunning, name, i)
		instr := script.At(i)
		if instr == nil {
			continue
		}
		stop, err := in.step(ctx, lv, i, instr)
		if err != nil {
			return lv.vars, err
		}
		if stop {
			break
		}
		if err := in.pause(ctx); err != nil {
			return lv.vars, err
		}
	}
	return lv.vars, nil
}

// step processes one instruction. stop reports that the level must end.
func (in *Interpreter) step(ctx context.Context, lv *level, i int, instr core.Instruction) (bool, error) {
	switch instr.Kind() {
	case core.KindFunctionCall:
		return false, in.functionCall(ctx, lv, i, instr)
	case core.KindCondition:
		in.setState(lv.rs, PhaseBranching, lv.name, i)
		return true, in.condition(ctx, lv, instr)
	case core.KindInput:
		return false, in.input(ctx, lv, i, instr)
	case core.KindCode:
		in.code(lv, instr)
		return false, nil
	case core.KindReturn:
		lv.rs.ret = instr
		lv.logger.Debug("return value captured", "index", i)
		return false, nil
	default:
		in.render(instr.Role(), instr.Content())
		lv.vars.LatestMessage = instr.Content()
		return false, nil
	}
}

func (in *Interpreter) functionCall(ctx context.Context, lv *level, i int, instr core.Instruction) error {
	name := instr.String(core.FieldContent)
	if name == "" {
		name = fmt.Sprint(instr.Content())
	}
	in.setState(lv.rs, PhaseAwaitingCapability, lv.name, i)

	if name == capabilities.FileSelector {
		fileType := strings.ToLower(instr.String(core.FieldFileType))
		file, err := in.dispatcher.SelectFile(ctx, fileType)
		if err != nil {
			return err
		}
		switch fileType {
		case "sound", "audio":
			lv.vars.LatestSound = file
		case "image":
			lv.vars.LatestImage = file
		}
		in.renderer.RenderEntry(core.NewTranscriptEntry("user", core.EntryText, "File Selected"))
		return nil
	}

	params := in.params(lv.vars).Merge(instr)
	in.renderer.SetBusy(true)
	response, err := in.dispatcher.Call(ctx, name, params)
	in.renderer.SetBusy(false)
	if err != nil {
		return err
	}
	lv.script.Set(i, lv.script.Raw(i).With(core.FieldResponse, response))

	switch name {
	case capabilities.TextToImage:
		lv.vars.LatestImage = response
		in.renderer.RenderEntry(core.NewTranscriptEntry("assistant", core.EntryImage, media.ToDataURL(response)))
	case capabilities.TextToSound:
		lv.vars.LatestSound = response
		in.renderer.RenderEntry(core.NewTranscriptEntry("assistant", core.EntryAudio, media.ToDataURL(response)))
	default:
		lv.vars.LatestMessage = response
		in.renderer.RenderEntry(core.NewTranscriptEntry("assistant", core.EntryText, response))
	}
	return nil
}

// condition evaluates the predicate and follows a branch, degrading in
// tiers: the predicate, then the content's own truthiness, then the false
// branch, then nothing. A failing branch run counts as a failed tier.
func (in *Interpreter) condition(ctx context.Context, lv *level, instr core.Instruction) error {
	predicate := instr.Content()

	ok, err := in.predicate(lv, predicate)
	if err == nil {
		if err = in.follow(ctx, lv, instr, ok); err == nil {
			return nil
		}
	}
	if isContextError(err) {
		return err
	}
	lv.logger.With(map[string]interface{}{
		"error": &core.ConditionEvaluationError{Tier: 1, Predicate: predicate, Err: err},
	}).Warn("an issue occurred in your condition")

	if err = in.follow(ctx, lv, instr, expression.Truthy(predicate)); err == nil {
		return nil
	}
	if isContextError(err) {
		return err
	}
	lv.logger.With(map[string]interface{}{
		"error": &core.ConditionEvaluationError{Tier: 2, Predicate: predicate, Err: err},
	}).Warn("condition failed without evaluation, following the false branch")

	if err = in.follow(ctx, lv, instr, false); err == nil {
		return nil
	}
	if isContextError(err) {
		return err
	}
	lv.logger.With(map[string]interface{}{
		"error": &core.ConditionEvaluationError{Tier: 3, Predicate: predicate, Err: err},
	}).Error("condition abandoned")
	return nil
}

func (in *Interpreter) predicate(lv *level, predicate any) (bool, error) {
	src, ok := predicate.(string)
	if !ok {
		return expression.Truthy(predicate), nil
	}
	out, err := in.store.Evaluate(src, lv.vars.env())
	if err != nil {
		return false, err
	}
	return expression.Truthy(out), nil
}

// follow runs the branch for outcome unless it is the end sentinel.
func (in *Interpreter) follow(ctx context.Context, lv *level, instr core.Instruction, outcome bool) error {
	field := core.FieldFalse
	if outcome {
		field = core.FieldTrue
	}
	target, err := core.ParseBranchTarget(instr[field])
	if err != nil {
		return err
	}
	switch target.Kind {
	case core.TargetEnd:
		lv.logger.Debug("branch ended", "branch", field)
		return nil
	case core.TargetInline:
		_, err := in.exec(ctx, lv.rs, lv.name+"/"+field, in.store.Detached(target.Inline))
		return err
	}
	script, err := in.store.Get(target.Name)
	if err != nil {
		return err
	}
	lv.logger.Debug("branching", "branch", field, "target", target.Name)
	_, err = in.runNamed(ctx, lv.rs, target.Name, script)
	return err
}

func (in *Interpreter) input(ctx context.Context, lv *level, i int, instr core.Instruction) error {
	inputType := instr.InputType()
	in.setState(lv.rs, PhaseAwaitingInput, lv.name, i)
	value, err := in.suspension.Await(ctx, inputType, in.params(lv.vars))
	if errors.Is(err, suspension.ErrUnsupportedInput) {
		lv.logger.With(map[string]interface{}{"error": err}).Warn("skipping input instruction")
		return nil
	}
	if err != nil {
		return err
	}

	kind := core.EntryText
	switch inputType {
	case "text", "transcription":
		lv.vars.LatestMessage = value
	case "image":
		lv.vars.LatestImage = value
		kind = core.EntryImage
	case "audio", "sound":
		lv.vars.LatestSound = value
		kind = core.EntryAudio
	}
	lv.script.Set(i, lv.script.Raw(i).With(core.FieldContent, value))

	role := instr.Role()
	if role == "" {
		role = "user"
	}
	in.renderer.RenderEntry(core.NewTranscriptEntry(role, kind, media.ToDataURL(value)))
	return nil
}

func (in *Interpreter) render(role string, content any) {
	if role == "" {
		role = "assistant"
	}
	in.renderer.RenderEntry(core.NewTranscriptEntry(role, entryKind(content), media.ToDataURL(content)))
}

func entryKind(content any) core.EntryKind {
	if b, ok := media.AsBlob(content); ok {
		switch {
		case b.IsImage():
			return core.EntryImage
		case b.IsAudio():
			return core.EntryAudio
		}
	}
	return core.EntryText
}
