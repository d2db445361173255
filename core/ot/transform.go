package ot

import (
	"errors"
	"fmt"
)

// ErrTransformMismatch indicates two operations being transformed do not share
// a base document.
var ErrTransformMismatch = errors.New("operations have different base lengths")

// Transform rewrites two operations authored against the same base document so
// they can be applied in either order with the same result:
//
//	apply(apply(S, a), b2) == apply(apply(S, b), a2)
//
// When both operations insert at the same position, a's insert lands first.
// Callers transforming an incoming edit against an already-committed one must
// therefore pass the committed operation as a.
func Transform(a, b *Operation) (a2, b2 *Operation, err error) {
	if a.BaseLen != b.BaseLen {
		return nil, nil, fmt.Errorf("%w: %d vs %d", ErrTransformMismatch, a.BaseLen, b.BaseLen)
	}

	a2, b2 = New(), New()

	aOps, bOps := a.Ops, b.Ops
	var ai, bi int
	var cur1, cur2 Op
	var have1, have2 bool

	next1 := func() {
		if ai < len(aOps) {
			cur1, have1 = aOps[ai], true
			ai++
		} else {
			have1 = false
		}
	}
	next2 := func() {
		if bi < len(bOps) {
			cur2, have2 = bOps[bi], true
			bi++
		} else {
			have2 = false
		}
	}
	next1()
	next2()

	for have1 || have2 {
		// Inserts commute past everything on the other side; a goes first.
		if have1 && cur1.isInsert() {
			a2.Insert(cur1.Insert)
			b2.Retain(len([]rune(cur1.Insert)))
			next1()
			continue
		}
		if have2 && cur2.isInsert() {
			a2.Retain(len([]rune(cur2.Insert)))
			b2.Insert(cur2.Insert)
			next2()
			continue
		}

		if !have1 || !have2 {
			return nil, nil, fmt.Errorf("%w: operation is shorter than its base", ErrTransformMismatch)
		}

		switch {
		case cur1.isRetain() && cur2.isRetain():
			n := min(cur1.Retain, cur2.Retain)
			a2.Retain(n)
			b2.Retain(n)
			cur1.Retain -= n
			cur2.Retain -= n
		case cur1.isDelete() && cur2.isDelete():
			// Both sides removed the same text; nothing left to transform.
			n := min(cur1.Delete, cur2.Delete)
			cur1.Delete -= n
			cur2.Delete -= n
		case cur1.isDelete() && cur2.isRetain():
			n := min(cur1.Delete, cur2.Retain)
			a2.Delete(n)
			cur1.Delete -= n
			cur2.Retain -= n
		case cur1.isRetain() && cur2.isDelete():
			n := min(cur1.Retain, cur2.Delete)
			b2.Delete(n)
			cur1.Retain -= n
			cur2.Delete -= n
		default:
			return nil, nil, fmt.Errorf("%w: unexpected component pairing", ErrTransformMismatch)
		}

		if cur1.Retain == 0 && cur1.Delete == 0 && cur1.Insert == "" {
			next1()
		}
		if cur2.Retain == 0 && cur2.Delete == 0 && cur2.Insert == "" {
			next2()
		}
	}

	return a2, b2, nil
}
