package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// Text Operations
// =============================================================================
//
// An Operation is an ordered sequence of components that rewrites one document
// state into another. Components are expressed over runes, not bytes, so
// multi-byte characters survive concurrent editing.
//
// The three component kinds:
//   - Retain(n): skip over n runes unchanged
//   - Insert(s): insert the string s at the current position
//   - Delete(n): remove the next n runes
//
// An operation spans its entire base document: the sum of retains and deletes
// must equal the length of the document it applies to.

var (
	// ErrBaseLengthMismatch indicates the operation does not span the document
	// it was applied to.
	ErrBaseLengthMismatch = errors.New("operation base length does not match document")

	// ErrMalformedOperation indicates a deserialized operation is internally
	// inconsistent.
	ErrMalformedOperation = errors.New("malformed operation")
)

// Op is a single operation component. Exactly one field is meaningful:
// Insert when non-empty, otherwise Delete when non-zero, otherwise Retain.
type Op struct {
	Retain int    `json:"retain,omitempty"`
	Insert string `json:"insert,omitempty"`
	Delete int    `json:"delete,omitempty"`
}

func (op Op) isRetain() bool { return op.Retain > 0 }
func (op Op) isInsert() bool { return op.Insert != "" }
func (op Op) isDelete() bool { return op.Delete > 0 }

// Operation is a composite edit over a document of BaseLen runes producing a
// document of TargetLen runes.
type Operation struct {
	BaseLen   int  `json:"base_len"`
	TargetLen int  `json:"target_len"`
	Ops       []Op `json:"ops"`
}

// New returns an empty operation.
func New() *Operation {
	return &Operation{}
}

// Retain appends a retain component, merging with a trailing retain.
func (o *Operation) Retain(n int) *Operation {
	if n <= 0 {
		return o
	}
	o.BaseLen += n
	o.TargetLen += n
	if last := o.lastOp(); last != nil && last.isRetain() {
		last.Retain += n
		return o
	}
	o.Ops = append(o.Ops, Op{Retain: n})
	return o
}

// Insert appends an insert component, merging with a trailing insert.
func (o *Operation) Insert(s string) *Operation {
	if s == "" {
		return o
	}
	o.TargetLen += len([]rune(s))
	if last := o.lastOp(); last != nil && last.isInsert() {
		last.Insert += s
		return o
	}
	o.Ops = append(o.Ops, Op{Insert: s})
	return o
}

// Delete appends a delete component, merging with a trailing delete.
func (o *Operation) Delete(n int) *Operation {
	if n <= 0 {
		return o
	}
	o.BaseLen += n
	if last := o.lastOp(); last != nil && last.isDelete() {
		last.Delete += n
		return o
	}
	o.Ops = append(o.Ops, Op{Delete: n})
	return o
}

func (o *Operation) lastOp() *Op {
	if len(o.Ops) == 0 {
		return nil
	}
	return &o.Ops[len(o.Ops)-1]
}

// IsNoop reports whether applying the operation leaves every document
// unchanged.
func (o *Operation) IsNoop() bool {
	for _, op := range o.Ops {
		if !op.isRetain() {
			return false
		}
	}
	return true
}

// Apply rewrites doc according to the operation.
func (o *Operation) Apply(doc string) (string, error) {
	runes := []rune(doc)
	if len(runes) != o.BaseLen {
		return "", fmt.Errorf("%w: operation spans %d runes, document has %d",
			ErrBaseLengthMismatch, o.BaseLen, len(runes))
	}

	out := make([]rune, 0, o.TargetLen)
	pos := 0
	for _, op := range o.Ops {
		switch {
		case op.isInsert():
			out = append(out, []rune(op.Insert)...)
		case op.isRetain():
			out = append(out, runes[pos:pos+op.Retain]...)
			pos += op.Retain
		case op.isDelete():
			pos += op.Delete
		}
	}
	return string(out), nil
}

// =============================================================================
// Serialization
// =============================================================================

// Marshal encodes the operation for use as an opaque delta payload.
func Marshal(o *Operation) ([]byte, error) {
	return json.Marshal(o)
}

// Unmarshal decodes an operation and validates that the declared lengths are
// consistent with its components.
func Unmarshal(data []byte) (*Operation, error) {
	var o Operation
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Operation) validate() error {
	baseLen, targetLen := 0, 0
	for _, op := range o.Ops {
		switch {
		case op.isInsert():
			if op.Retain != 0 || op.Delete != 0 {
				return fmt.Errorf("%w: component mixes kinds", ErrMalformedOperation)
			}
			targetLen += len([]rune(op.Insert))
		case op.isRetain():
			if op.Delete != 0 {
				return fmt.Errorf("%w: component mixes kinds", ErrMalformedOperation)
			}
			baseLen += op.Retain
			targetLen += op.Retain
		case op.isDelete():
			baseLen += op.Delete
		default:
			return fmt.Errorf("%w: empty component", ErrMalformedOperation)
		}
	}
	if baseLen != o.BaseLen || targetLen != o.TargetLen {
		return fmt.Errorf("%w: declared lengths %d/%d, computed %d/%d",
			ErrMalformedOperation, o.BaseLen, o.TargetLen, baseLen, targetLen)
	}
	return nil
}
