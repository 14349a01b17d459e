package util

import (
	"math/rand"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, ok := mh.Peek(); ok {
		t.Error("Peek() on an empty heap should return false")
	}
	if _, ok := mh.PopMin(); ok {
		t.Error("PopMin() on an empty heap should return false")
	}
}

// TestAddItem tests adding and updating items
func TestAddItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")
	mh.AddItem(3, 50, "c")

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, key := range []uint64{1, 2, 3} {
		if !mh.Contains(key) {
			t.Errorf("Heap should contain key %d", key)
		}
	}

	item, ok := mh.Peek()
	if !ok || item.Key != 3 || item.Value != "c" {
		t.Errorf("Expected min item to be key 3, got %v", item)
	}

	// update moves key 2 to the front and replaces its value
	mh.AddItem(2, 10, "b2")
	item, _ = mh.Peek()
	if item.Key != 2 || item.Priority != 10 || item.Value != "b2" {
		t.Errorf("Expected min item to be (2,10,b2), got %v", item)
	}
	if mh.Len() != 3 {
		t.Errorf("Update must not add an item, heap has %d", mh.Len())
	}
}

// TestReorderCompletions tests the commit reordering use case: completions
// arrive shuffled and are released in index order
func TestReorderCompletions(t *testing.T) {
	const n = 500
	order := rand.Perm(n)

	mh := NewMapHeap[int]()
	next := uint64(0)
	var released []int

	for _, idx := range order {
		mh.AddItem(uint64(idx), uint64(idx), idx)
		for {
			item, ok := mh.Peek()
			if !ok || item.Priority != next {
				break
			}
			mh.PopMin()
			released = append(released, item.Value)
			next++
		}
	}

	if len(released) != n || mh.Len() != 0 {
		t.Fatalf("Released %d of %d items, %d left in heap", len(released), n, mh.Len())
	}
	for i, v := range released {
		if v != i {
			t.Fatalf("Item %d released at position %d", v, i)
		}
	}
}
