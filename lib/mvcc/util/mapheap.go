// This file provides a keyed min-heap.
//
// The heap combines a binary heap with a hash map, giving O(log n) priority
// operations and O(1) lookups by key. The bench command uses it to turn
// transaction completions, which arrive in arbitrary order, back into block
// order: completions are added with their transaction index as priority and
// popped while the minimum is the next index to commit.
//
// Concurrency: MapHeap is not thread-safe, callers must synchronize.
//
// Example usage:
//
//	pending := NewMapHeap[result]()
//	pending.AddItem(7, 7, r7)
//	pending.AddItem(5, 5, r5)
//
//	for {
//		next, ok := pending.Peek()
//		if !ok || next.Priority != want {
//			break
//		}
//		pending.PopMin()
//		want++
//	}
package util

import (
	"container/heap"
	"strconv"
)

// Item is an element of a MapHeap
type Item[T any] struct {
	Key      uint64 // Unique identifier of the item
	Priority uint64 // Smallest priority is popped first
	Value    T      // Payload
	index    int    // Position in the heap, maintained by container/heap
}

func (i *Item[T]) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap by priority with key based access
type MapHeap[T any] struct {
	items    []*Item[T]
	itemsMap map[uint64]*Item[T]
}

// NewMapHeap creates an empty heap
func NewMapHeap[T any]() *MapHeap[T] {
	return &MapHeap[T]{
		items:    make([]*Item[T], 0),
		itemsMap: make(map[uint64]*Item[T]),
	}
}

// Len returns the number of items (part of heap.Interface)
func (mh *MapHeap[T]) Len() int { return len(mh.items) }

// Less compares items by priority (part of heap.Interface)
func (mh *MapHeap[T]) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap[T]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item (part of heap.Interface, use AddItem instead)
func (mh *MapHeap[T]) Push(x any) {
	it := x.(*Item[T])
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop removes the last item (part of heap.Interface, use PopMin instead)
func (mh *MapHeap[T]) Pop() any {
	n := len(mh.items)
	it := mh.items[n-1]
	mh.items[n-1] = nil
	it.index = -1
	mh.items = mh.items[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem adds an item or updates priority and value of an existing one
func (mh *MapHeap[T]) AddItem(key, priority uint64, value T) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		it.Value = value
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &Item[T]{Key: key, Priority: priority, Value: value})
}

// PopMin removes and returns the item with the smallest priority
func (mh *MapHeap[T]) PopMin() (*Item[T], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return heap.Pop(mh).(*Item[T]), true
}

// Peek returns the item with the smallest priority without removing it
func (mh *MapHeap[T]) Peek() (*Item[T], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if a key exists in the heap
func (mh *MapHeap[T]) Contains(key uint64) bool {
	_, exists := mh.itemsMap[key]
	return exists
}
