package message

import (
	"github.com/volley/pkg/errs"
)

// List is an ordered collection in which no two elements are equal under eq.
// Adding an element that is already present removes the old one first, so the
// most recent add decides the position.
//
// List is not safe for concurrent use.
type List[T any] struct {
	items []T
	eq    func(a, b T) bool
}

// NewList creates an empty list using eq for identity.
func NewList[T any](eq func(a, b T) bool) *List[T] {
	return &List[T]{eq: eq}
}

// indexOf returns the position of the first element equal to item, or -1.
func (l *List[T]) indexOf(item T) int {
	for i, v := range l.items {
		if l.eq(v, item) {
			return i
		}
	}
	return -1
}

// Add appends item after removing any equal element.
func (l *List[T]) Add(item T) {
	l.RemoveDuplicate(item)
	l.items = append(l.items, item)
}

// AddAt inserts item at index after removing any equal element. The index is
// checked against the length the list has once the duplicate is gone; on error
// the list is left untouched.
func (l *List[T]) AddAt(index int, item T) error {
	size := len(l.items)
	if l.indexOf(item) >= 0 {
		size--
	}
	if index < 0 || index > size {
		return errs.IndexOutOfRange(index, size)
	}

	l.RemoveDuplicate(item)

	var zero T
	l.items = append(l.items, zero)
	copy(l.items[index+1:], l.items[index:])
	l.items[index] = item
	return nil
}

// RemoveDuplicate removes the first element equal to item. It reports whether
// anything was removed.
func (l *List[T]) RemoveDuplicate(item T) bool {
	i := l.indexOf(item)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// Remove is RemoveDuplicate under the name callers expect for value removal.
func (l *List[T]) Remove(item T) bool {
	return l.RemoveDuplicate(item)
}

// RemoveAt removes and returns the element at index.
func (l *List[T]) RemoveAt(index int) (T, error) {
	var zero T
	if index < 0 || index >= len(l.items) {
		return zero, errs.IndexOutOfRange(index, len(l.items))
	}
	item := l.items[index]
	l.items = append(l.items[:index], l.items[index+1:]...)
	return item, nil
}

// RemoveFunc removes every element for which fn returns true and reports how
// many were removed.
func (l *List[T]) RemoveFunc(fn func(T) bool) int {
	kept := l.items[:0]
	for _, v := range l.items {
		if !fn(v) {
			kept = append(kept, v)
		}
	}
	removed := len(l.items) - len(kept)
	var zero T
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	return removed
}

// Clear removes every element.
func (l *List[T]) Clear() {
	l.items = nil
}

// Contains reports whether an element equal to item is present.
func (l *List[T]) Contains(item T) bool {
	return l.indexOf(item) >= 0
}

// At returns the element at index.
func (l *List[T]) At(index int) (T, error) {
	var zero T
	if index < 0 || index >= len(l.items) {
		return zero, errs.IndexOutOfRange(index, len(l.items))
	}
	return l.items[index], nil
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	return len(l.items)
}

// IsEmpty reports whether the list has no elements.
func (l *List[T]) IsEmpty() bool {
	return len(l.items) == 0
}

// Items returns a copy of the elements in order.
func (l *List[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Clone returns an independent copy of the list.
func (l *List[T]) Clone() *List[T] {
	return &List[T]{items: l.Items(), eq: l.eq}
}
