// Package util
//
// This file provides a priority queue with key-based access, used by the
// pager to schedule page releases: pages freed by a commit stay unusable
// until every reader pinning an older version has finished. The heap orders
// pending batches by the version that freed them (min-heap), while the map
// allows O(1) lookup and O(log n) removal when a batch is released early.
//
// Complexity:
//   - O(log n) for Push, Pop and key-based removal
//   - O(1) for key lookup and existence checks
//
// Concurrency: this implementation is not thread-safe. The pager guards it
// with its own freelist lock.
package util

import (
	"container/heap"
	"strconv"
)

// item represents a single entry in the queue with a uint64 key for
// identification and a uint64 priority for ordering
type item struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Ordering value (lowest first)
	index    int    // Index in the heap, maintained by the heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// KeyedHeap implements a min-priority queue with both heap operations and
// key-based access
type KeyedHeap struct {
	items    []*item          // The actual heap slice
	itemsMap map[uint64]*item // Map for O(1) access by key
}

// NewKeyedHeap creates a new empty queue
func NewKeyedHeap() *KeyedHeap {
	return &KeyedHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[uint64]*item),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (kh *KeyedHeap) Len() int { return len(kh.items) }

// Less compares items by priority (part of heap.Interface)
// Lowest priority first, so the oldest pending batch surfaces first.
func (kh *KeyedHeap) Less(i, j int) bool {
	return kh.items[i].Priority < kh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (kh *KeyedHeap) Swap(i, j int) {
	kh.items[i], kh.items[j] = kh.items[j], kh.items[i]
	kh.items[i].index = i
	kh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (kh *KeyedHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(kh.items)
	kh.items = append(kh.items, it)
	kh.itemsMap[it.Key] = it
}

// Pop removes and returns the lowest-priority item (part of heap.Interface)
func (kh *KeyedHeap) Pop() interface{} {
	old := kh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	kh.items = old[:n-1]
	delete(kh.itemsMap, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Public helper methods (heap.Interface methods above are used internally)
// --------------------------------------------------------------------------

// AddItem inserts a new item or updates the priority of an existing one
func (kh *KeyedHeap) AddItem(key, priority uint64) {
	if existing, ok := kh.itemsMap[key]; ok {
		existing.Priority = priority
		heap.Fix(kh, existing.index)
		return
	}
	heap.Push(kh, &item{Key: key, Priority: priority})
}

// Peek returns the lowest-priority item without removing it.
// The boolean indicates whether the queue is non-empty.
func (kh *KeyedHeap) Peek() (Item, bool) {
	if len(kh.items) == 0 {
		return Item{}, false
	}
	it := kh.items[0]
	return Item{Key: it.Key, Priority: it.Priority}, true
}

// PopItem removes and returns the lowest-priority item.
// The boolean indicates whether the queue was non-empty.
func (kh *KeyedHeap) PopItem() (Item, bool) {
	if len(kh.items) == 0 {
		return Item{}, false
	}
	it := heap.Pop(kh).(*item)
	return Item{Key: it.Key, Priority: it.Priority}, true
}

// RemoveByKey removes the item with the given key.
// Returns true if an item was removed.
func (kh *KeyedHeap) RemoveByKey(key uint64) bool {
	it, ok := kh.itemsMap[key]
	if !ok {
		return false
	}
	heap.Remove(kh, it.index)
	return true
}

// Contains reports whether an item with the given key is queued
func (kh *KeyedHeap) Contains(key uint64) bool {
	_, ok := kh.itemsMap[key]
	return ok
}

// Item is the exported read-only view of a queue entry
type Item struct {
	Key      uint64
	Priority uint64
}
