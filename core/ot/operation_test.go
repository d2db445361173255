package ot

import (
	"errors"
	"testing"
)

func TestBuilderMergesAdjacentComponents(t *testing.T) {
	op := New().Retain(2).Retain(3).Insert("ab").Insert("cd").Delete(1).Delete(2)

	if len(op.Ops) != 3 {
		t.Fatalf("expected 3 merged components, got %d", len(op.Ops))
	}
	if op.Ops[0].Retain != 5 {
		t.Errorf("expected retain 5, got %d", op.Ops[0].Retain)
	}
	if op.Ops[1].Insert != "abcd" {
		t.Errorf("expected insert 'abcd', got %q", op.Ops[1].Insert)
	}
	if op.Ops[2].Delete != 3 {
		t.Errorf("expected delete 3, got %d", op.Ops[2].Delete)
	}
	if op.BaseLen != 8 || op.TargetLen != 9 {
		t.Errorf("expected lengths 8/9, got %d/%d", op.BaseLen, op.TargetLen)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		op   *Operation
		want string
	}{
		{"insert at start", "world", New().Insert("hello ").Retain(5), "hello world"},
		{"insert at end", "hello", New().Retain(5).Insert("!"), "hello!"},
		{"delete middle", "hello world", New().Retain(5).Delete(6), "hello"},
		{"replace", "hello", New().Delete(5).Insert("goodbye"), "goodbye"},
		{"empty doc", "", New().Insert("first"), "first"},
		{"multibyte runes", "héllo", New().Retain(2).Delete(1).Insert("L").Retain(2), "héLlo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Apply(tt.doc)
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestApplyBaseLengthMismatch(t *testing.T) {
	op := New().Retain(3)
	if _, err := op.Apply("hello"); !errors.Is(err, ErrBaseLengthMismatch) {
		t.Fatalf("expected ErrBaseLengthMismatch, got %v", err)
	}
}

func TestIsNoop(t *testing.T) {
	if !New().Retain(10).IsNoop() {
		t.Error("retain-only operation should be a noop")
	}
	if New().Retain(2).Insert("x").IsNoop() {
		t.Error("operation with an insert is not a noop")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	op := New().Retain(3).Insert("héllo").Delete(2)

	data, err := Marshal(op)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.BaseLen != op.BaseLen || decoded.TargetLen != op.TargetLen {
		t.Errorf("lengths changed in round trip: %d/%d vs %d/%d",
			decoded.BaseLen, decoded.TargetLen, op.BaseLen, op.TargetLen)
	}
	if len(decoded.Ops) != len(op.Ops) {
		t.Fatalf("component count changed: %d vs %d", len(decoded.Ops), len(op.Ops))
	}
}

func TestUnmarshalRejectsInconsistentLengths(t *testing.T) {
	data := []byte(`{"base_len": 99, "target_len": 0, "ops": [{"retain": 3}]}`)
	if _, err := Unmarshal(data); !errors.Is(err, ErrMalformedOperation) {
		t.Fatalf("expected ErrMalformedOperation, got %v", err)
	}
}

func TestUnmarshalRejectsMixedComponents(t *testing.T) {
	data := []byte(`{"base_len": 3, "target_len": 3, "ops": [{"retain": 3, "delete": 1}]}`)
	if _, err := Unmarshal(data); !errors.Is(err, ErrMalformedOperation) {
		t.Fatalf("expected ErrMalformedOperation, got %v", err)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); !errors.Is(err, ErrMalformedOperation) {
		t.Fatalf("expected ErrMalformedOperation, got %v", err)
	}
}
