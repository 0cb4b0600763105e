package heap

import (
	"errors"
	"math/rand"
	"testing"
)

func newDefault(t *testing.T) *Heap {
	t.Helper()
	h, err := New(DefaultStart, uint32(DefaultEnd-DefaultStart))
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	return h
}

func TestNewSingleChunk(t *testing.T) {
	h := newDefault(t)

	start, size := h.Usable()
	if start%8 != 4 {
		t.Fatalf("usable start %#x, want address = 4 mod 8", start)
	}
	if size%8 != 0 {
		t.Fatalf("usable size %#x, want multiple of 8", size)
	}
	chunks := h.FreeChunks()
	if len(chunks) != 1 || chunks[0].Addr != start || chunks[0].Size != size {
		t.Fatalf("FreeChunks() = %v, want one chunk {%#x %#x}", chunks, start, size)
	}
}

func TestNewTooSmall(t *testing.T) {
	if _, err := New(0x1000, 16); !errors.Is(err, ErrArenaTooSmall) {
		t.Fatalf("New() = %v, want ErrArenaTooSmall", err)
	}
}

func TestAllocAlignmentAndSplit(t *testing.T) {
	h := newDefault(t)
	start, size := h.Usable()

	p, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc(10) = %v, want nil", err)
	}
	if p != start+headerSize {
		t.Fatalf("Alloc(10) = %#x, want first chunk payload %#x", p, start+headerSize)
	}
	if p%8 != 0 {
		t.Fatalf("payload %#x is not 8-byte aligned", p)
	}

	chunks := h.FreeChunks()
	if len(chunks) != 1 || chunks[0].Size != size-16 {
		t.Fatalf("FreeChunks() = %v, want remainder of %#x", chunks, size-16)
	}
	if b := h.Bytes(p, 10); len(b) != 10 {
		t.Fatalf("Bytes() len = %d, want 10", len(b))
	}
}

func TestAllocConsumesWholeChunkWhenRemainderTooSmall(t *testing.T) {
	h, err := New(0x1000, 64)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	_, size := h.Usable()

	// A request leaving less than MinChunkSize must take the whole chunk.
	if _, err := h.Alloc(size - headerSize - 4); err != nil {
		t.Fatalf("Alloc() = %v, want nil", err)
	}
	if got := h.FreeChunks(); len(got) != 0 {
		t.Fatalf("FreeChunks() = %v, want empty", got)
	}
	if _, err := h.Alloc(1); !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Alloc() on exhausted heap = %v, want ErrNoMemory", err)
	}
}

func TestAllocOverflow(t *testing.T) {
	h := newDefault(t)
	if _, err := h.Alloc(0xFFFFFFFC); !errors.Is(err, ErrSizeOverflow) {
		t.Fatalf("Alloc(0xFFFFFFFC) = %v, want ErrSizeOverflow", err)
	}
}

func TestFreeCoalescesNeighbours(t *testing.T) {
	h := newDefault(t)
	_, size := h.Usable()

	a, _ := h.Alloc(32)
	b, _ := h.Alloc(32)
	c, _ := h.Alloc(32)

	if err := h.Free(a); err != nil {
		t.Fatalf("Free(a) = %v", err)
	}
	if err := h.Free(c); err != nil {
		t.Fatalf("Free(c) = %v", err)
	}
	if got := len(h.FreeChunks()); got != 2 {
		t.Fatalf("free chunks = %d, want 2 (a, c merged with tail)", got)
	}
	if err := h.Free(b); err != nil {
		t.Fatalf("Free(b) = %v", err)
	}
	chunks := h.FreeChunks()
	if len(chunks) != 1 || chunks[0].Size != size {
		t.Fatalf("FreeChunks() = %v, want single chunk of %#x", chunks, size)
	}
}

func TestFreeErrors(t *testing.T) {
	h := newDefault(t)

	if err := h.Free(0); err != nil {
		t.Fatalf("Free(0) = %v, want nil", err)
	}
	p, _ := h.Alloc(64)
	if err := h.Free(p + 2); !errors.Is(err, ErrBadPointer) {
		t.Fatalf("Free(misaligned) = %v, want ErrBadPointer", err)
	}
	if err := h.Free(DefaultEnd + 8); !errors.Is(err, ErrBadPointer) {
		t.Fatalf("Free(out of arena) = %v, want ErrBadPointer", err)
	}
	if err := h.Free(p); err != nil {
		t.Fatalf("Free(p) = %v, want nil", err)
	}
	if err := h.Free(p); !errors.Is(err, ErrDoubleFree) {
		t.Fatalf("second Free(p) = %v, want ErrDoubleFree", err)
	}
}

func TestRandomSequenceNoOverlapAndFullCoalesce(t *testing.T) {
	h := newDefault(t)
	start, size := h.Usable()
	rng := rand.New(rand.NewSource(7))

	type region struct{ lo, hi Addr }
	live := map[Addr]region{}

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for p := range live {
				if err := h.Free(p); err != nil {
					t.Fatalf("Free(%#x) = %v", p, err)
				}
				delete(live, p)
				break
			}
			continue
		}
		n := uint32(rng.Intn(512))
		p, err := h.Alloc(n)
		if errors.Is(err, ErrNoMemory) {
			continue
		}
		if err != nil {
			t.Fatalf("Alloc(%d) = %v", n, err)
		}
		r := region{lo: p, hi: p + Addr(n)}
		for q, o := range live {
			if r.lo < o.hi && o.lo < r.hi {
				t.Fatalf("Alloc(%d) = %#x overlaps live %#x", n, p, q)
			}
		}
		live[p] = r
		st := h.Stats()
		if st.Free+st.Used != size {
			t.Fatalf("Stats() free+used = %#x, want %#x", st.Free+st.Used, size)
		}
	}

	for p := range live {
		if err := h.Free(p); err != nil {
			t.Fatalf("Free(%#x) = %v", p, err)
		}
	}
	chunks := h.FreeChunks()
	if len(chunks) != 1 || chunks[0].Addr != start || chunks[0].Size != size {
		t.Fatalf("FreeChunks() = %v, want one chunk {%#x %#x}", chunks, start, size)
	}
}
