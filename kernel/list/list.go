// Package list provides index-linked lists whose nodes live in a fixed arena.
//
// Every node carries its prev/next links and the list that currently owns it,
// so a node can be linked into at most one list of its arena at a time and
// insert/remove stay O(1) without pointer links between kernel objects.
package list

import "errors"

// Index identifies a node inside an Arena.
type Index int32

// None marks the absence of a node.
const None Index = -1

var (
	ErrOutOfRange = errors.New("list: index out of range")
	ErrLinked     = errors.New("list: node already linked")
	ErrNotMember  = errors.New("list: node not on this list")
	ErrEmpty      = errors.New("list: empty")
)

type link struct {
	prev  Index
	next  Index
	owner *List
}

// Arena holds the link storage for a fixed number of nodes.
type Arena struct {
	links []link
}

// NewArena returns link storage for n nodes, all unlinked.
func NewArena(n int) *Arena {
	a := &Arena{links: make([]link, n)}
	for i := range a.links {
		a.links[i] = link{prev: None, next: None}
	}
	return a
}

// Cap returns the number of nodes the arena can hold.
func (a *Arena) Cap() int { return len(a.links) }

// Owner returns the list that node i is linked into, or nil.
func (a *Arena) Owner(i Index) *List {
	if !a.valid(i) {
		return nil
	}
	return a.links[i].owner
}

// NewList returns an empty list drawing its links from the arena.
func (a *Arena) NewList() *List {
	return &List{arena: a, head: None, tail: None}
}

func (a *Arena) valid(i Index) bool {
	return i >= 0 && int(i) < len(a.links)
}

// List is a doubly linked list of arena indices.
type List struct {
	arena *Arena
	head  Index
	tail  Index
	n     int
}

func (l *List) Len() int    { return l.n }
func (l *List) Empty() bool { return l.n == 0 }

// Front returns the first node or None.
func (l *List) Front() Index { return l.head }

// Back returns the last node or None.
func (l *List) Back() Index { return l.tail }

// Next returns the node after i, or None at the end or if i is not a member.
func (l *List) Next(i Index) Index {
	if !l.Contains(i) {
		return None
	}
	return l.arena.links[i].next
}

// Prev returns the node before i, or None at the front or if i is not a member.
func (l *List) Prev(i Index) Index {
	if !l.Contains(i) {
		return None
	}
	return l.arena.links[i].prev
}

// Contains reports whether node i is linked into l.
func (l *List) Contains(i Index) bool {
	return l.arena.valid(i) && l.arena.links[i].owner == l
}

func (l *List) checkFree(i Index) error {
	if !l.arena.valid(i) {
		return ErrOutOfRange
	}
	if l.arena.links[i].owner != nil {
		return ErrLinked
	}
	return nil
}

// PushBack appends node i.
func (l *List) PushBack(i Index) error {
	if err := l.checkFree(i); err != nil {
		return err
	}
	lk := &l.arena.links[i]
	lk.owner = l
	lk.prev = l.tail
	lk.next = None
	if l.tail == None {
		l.head = i
	} else {
		l.arena.links[l.tail].next = i
	}
	l.tail = i
	l.n++
	return nil
}

// PushFront prepends node i.
func (l *List) PushFront(i Index) error {
	if l.head == None {
		return l.PushBack(i)
	}
	return l.InsertBefore(i, l.head)
}

// InsertBefore links node i immediately before mark.
func (l *List) InsertBefore(i, mark Index) error {
	if err := l.checkFree(i); err != nil {
		return err
	}
	if !l.Contains(mark) {
		return ErrNotMember
	}
	links := l.arena.links
	prev := links[mark].prev
	links[i] = link{prev: prev, next: mark, owner: l}
	links[mark].prev = i
	if prev == None {
		l.head = i
	} else {
		links[prev].next = i
	}
	l.n++
	return nil
}

// InsertAfter links node i immediately after mark.
func (l *List) InsertAfter(i, mark Index) error {
	if err := l.checkFree(i); err != nil {
		return err
	}
	if !l.Contains(mark) {
		return ErrNotMember
	}
	links := l.arena.links
	next := links[mark].next
	links[i] = link{prev: mark, next: next, owner: l}
	links[mark].next = i
	if next == None {
		l.tail = i
	} else {
		links[next].prev = i
	}
	l.n++
	return nil
}

// Remove unlinks node i and poisons its links.
func (l *List) Remove(i Index) error {
	if !l.arena.valid(i) {
		return ErrOutOfRange
	}
	if l.arena.links[i].owner != l {
		return ErrNotMember
	}
	links := l.arena.links
	prev, next := links[i].prev, links[i].next
	if prev == None {
		l.head = next
	} else {
		links[prev].next = next
	}
	if next == None {
		l.tail = prev
	} else {
		links[next].prev = prev
	}
	links[i] = link{prev: None, next: None}
	l.n--
	return nil
}

// PopFront unlinks and returns the first node.
func (l *List) PopFront() (Index, error) {
	i := l.head
	if i == None {
		return None, ErrEmpty
	}
	return i, l.Remove(i)
}

// Each calls fn for every node from front to back until fn returns false.
// fn may remove the node it is given.
func (l *List) Each(fn func(Index) bool) {
	for i := l.head; i != None; {
		next := l.arena.links[i].next
		if !fn(i) {
			return
		}
		i = next
	}
}
