package list

import (
	"errors"
	"testing"
)

func collect(l *List) []Index {
	var out []Index
	l.Each(func(i Index) bool {
		out = append(out, i)
		return true
	})
	return out
}

func equal(a, b []Index) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPushRemoveOrder(t *testing.T) {
	a := NewArena(8)
	l := a.NewList()

	for _, i := range []Index{3, 1, 5} {
		if err := l.PushBack(i); err != nil {
			t.Fatalf("PushBack(%d) = %v, want nil", i, err)
		}
	}
	if err := l.PushFront(7); err != nil {
		t.Fatalf("PushFront(7) = %v, want nil", err)
	}
	if got, want := collect(l), []Index{7, 3, 1, 5}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	if err := l.Remove(1); err != nil {
		t.Fatalf("Remove(1) = %v, want nil", err)
	}
	if got, want := collect(l), []Index{7, 3, 5}; !equal(got, want) {
		t.Fatalf("order after remove = %v, want %v", got, want)
	}
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if l.Front() != 7 || l.Back() != 5 {
		t.Fatalf("Front/Back = %d/%d, want 7/5", l.Front(), l.Back())
	}
}

func TestInsertBeforeAfter(t *testing.T) {
	a := NewArena(8)
	l := a.NewList()
	_ = l.PushBack(0)
	_ = l.PushBack(4)

	if err := l.InsertBefore(2, 4); err != nil {
		t.Fatalf("InsertBefore(2, 4) = %v, want nil", err)
	}
	if err := l.InsertAfter(6, 4); err != nil {
		t.Fatalf("InsertAfter(6, 4) = %v, want nil", err)
	}
	if err := l.InsertBefore(1, 0); err != nil {
		t.Fatalf("InsertBefore(1, 0) = %v, want nil", err)
	}
	if got, want := collect(l), []Index{1, 0, 2, 4, 6}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if l.Prev(2) != 0 || l.Next(2) != 4 {
		t.Fatalf("Prev/Next(2) = %d/%d, want 0/4", l.Prev(2), l.Next(2))
	}
}

func TestNodeOnOneListOnly(t *testing.T) {
	a := NewArena(4)
	ready := a.NewList()
	pending := a.NewList()

	if err := ready.PushBack(2); err != nil {
		t.Fatalf("PushBack() = %v, want nil", err)
	}
	if err := pending.PushBack(2); !errors.Is(err, ErrLinked) {
		t.Fatalf("PushBack() on second list = %v, want ErrLinked", err)
	}
	if err := pending.Remove(2); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Remove() from wrong list = %v, want ErrNotMember", err)
	}
	if a.Owner(2) != ready {
		t.Fatalf("Owner(2) is not the ready list")
	}

	if _, err := ready.PopFront(); err != nil {
		t.Fatalf("PopFront() = %v, want nil", err)
	}
	if a.Owner(2) != nil {
		t.Fatalf("Owner(2) after PopFront = %p, want nil", a.Owner(2))
	}
	if err := pending.PushBack(2); err != nil {
		t.Fatalf("PushBack() after unlink = %v, want nil", err)
	}
}

func TestBoundsAndEmpty(t *testing.T) {
	a := NewArena(2)
	l := a.NewList()

	if err := l.PushBack(2); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("PushBack(2) = %v, want ErrOutOfRange", err)
	}
	if err := l.PushBack(-1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("PushBack(-1) = %v, want ErrOutOfRange", err)
	}
	if _, err := l.PopFront(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("PopFront() on empty = %v, want ErrEmpty", err)
	}
	if l.Next(0) != None {
		t.Fatalf("Next() of unlinked node = %d, want None", l.Next(0))
	}
}

func TestEachAllowsRemovingCurrent(t *testing.T) {
	a := NewArena(6)
	l := a.NewList()
	for i := Index(0); i < 6; i++ {
		_ = l.PushBack(i)
	}
	l.Each(func(i Index) bool {
		if i%2 == 0 {
			_ = l.Remove(i)
		}
		return true
	})
	if got, want := collect(l), []Index{1, 3, 5}; !equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}
