package blockcache

import "testing"

func TestAddGet(t *testing.T) {
	c := New(4)

	k := Key{Section: 1, Offset: 0x10}
	if _, ok := c.Get(k); ok {
		t.Fatalf("expected miss before Add")
	}

	want := []byte{1, 2, 3, 4}
	c.Add(k, want)

	got, ok := c.Get(k)
	if !ok {
		t.Fatalf("expected hit after Add")
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDistinctKeysDoNotCollide(t *testing.T) {
	c := New(4)
	c.Add(Key{Section: 1, Offset: 0}, []byte{0xAA})
	c.Add(Key{Section: 2, Offset: 0}, []byte{0xBB})

	a, ok := c.Get(Key{Section: 1, Offset: 0})
	if !ok || a[0] != 0xAA {
		t.Fatalf("section 1 block corrupted: %v", a)
	}
	b, ok := c.Get(Key{Section: 2, Offset: 0})
	if !ok || b[0] != 0xBB {
		t.Fatalf("section 2 block corrupted: %v", b)
	}
}
