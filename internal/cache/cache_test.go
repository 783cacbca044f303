package cache

import "testing"

func TestGetMiss(t *testing.T) {
	c := New(DefaultCapacity)
	if _, ok := c.Get([]byte("nope")); ok {
		t.Fatal("expected a miss on an empty cache")
	}
}

func TestPutThenGet(t *testing.T) {
	c := New(DefaultCapacity)
	in := []byte("\x00asm")
	want := []byte{0x01, 0x02, 0x03}
	c.Put(in, want)
	got, ok := c.Get(in)
	if !ok {
		t.Fatal("expected a hit after Put")
	}
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPutOverwritesSameKey(t *testing.T) {
	c := New(DefaultCapacity)
	in := []byte("module")
	c.Put(in, []byte{0x01})
	c.Put(in, []byte{0x02})
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after re-Put of the same input, got %d", c.Len())
	}
	got, _ := c.Get(in)
	if len(got) != 1 || got[0] != 0x02 {
		t.Fatalf("expected the second Put to win, got %v", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New(2)
	c.Put([]byte("a"), []byte{1})
	c.Put([]byte("b"), []byte{2})
	c.Put([]byte("c"), []byte{3})

	if c.Len() != 2 {
		t.Fatalf("expected capacity to bound the cache at 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get([]byte("a")); ok {
		t.Fatal("expected the oldest entry to have been evicted")
	}
	if _, ok := c.Get([]byte("b")); !ok {
		t.Fatal("expected \"b\" to survive eviction")
	}
	if _, ok := c.Get([]byte("c")); !ok {
		t.Fatal("expected \"c\" to survive eviction")
	}
}

func TestZeroCapacityIsUnbounded(t *testing.T) {
	c := New(0)
	for i := 0; i < 200; i++ {
		c.Put([]byte{byte(i)}, []byte{byte(i)})
	}
	if c.Len() != 200 {
		t.Fatalf("expected an unbounded cache to keep all entries, got %d", c.Len())
	}
}
