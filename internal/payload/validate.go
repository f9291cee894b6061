package payload

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/ynab-sync/internal/model"
)

//go:embed schema.cue
var schemaSrc string

// Validator checks staged payloads against the CUE schema for their
// item type and action.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so Validate
// serializes access with a mutex.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// MustNewValidator is like NewValidator but panics on error.
// The schema is embedded, so a failure here is a programming error.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// definitionFor maps an item type and action to its schema definition.
// Returns "" for combinations the remote API cannot apply.
func definitionFor(itemType model.ItemType, action model.Action) string {
	switch itemType {
	case model.ItemTransaction:
		switch action {
		case model.ActionCreate:
			return "#TransactionCreate"
		case model.ActionUpdate:
			return "#TransactionUpdate"
		case model.ActionDelete:
			return "#TransactionDelete"
		}
	case model.ItemCategory:
		if action == model.ActionUpdate {
			return "#CategoryUpdate"
		}
	}
	return ""
}

// Supported reports whether the remote API can apply the combination.
func Supported(itemType model.ItemType, action model.Action) bool {
	return definitionFor(itemType, action) != ""
}

// Validate checks raw against the schema for itemType/action.
// Every failure is returned as a model validation error.
func (v *Validator) Validate(itemType model.ItemType, action model.Action, raw []byte) error {
	const op = "validate payload"

	if !itemType.Valid() {
		return model.NewValidationError(op, fmt.Sprintf("unknown item type %q", itemType))
	}
	if !action.Valid() {
		return model.NewValidationError(op, fmt.Sprintf("unknown action %q", action))
	}
	def := definitionFor(itemType, action)
	if def == "" {
		return model.NewValidationError(op, fmt.Sprintf("%s %s is not supported by the remote API", action, itemType))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	data := v.ctx.CompileBytes(raw, cue.Filename("payload.json"))
	if err := data.Err(); err != nil {
		return model.WrapValidationError(op, err)
	}

	unified := v.schema.LookupPath(cue.ParsePath(def)).Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return model.WrapValidationError(op, err)
	}
	return nil
}
