// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lru provides a byte-budgeted least-recently-used index.
package lru

import "container/list"

// entry is an index slot.
type entry[K comparable, V any] struct {
	key   K
	value V
	cost  int64
}

// Index orders values by recency and bounds them by total byte cost.
//
// Index is not safe for concurrent use. Callers guard it with their own lock.
type Index[K comparable, V any] struct {
	maxBytes     int64
	currentBytes int64
	costFn       func(V) int64
	onEvict      func(K, V)
	elements     map[K]*list.Element
	order        *list.List // Front = most recently used
}

// New creates an index bounded by maxBytes. costFn reports the byte cost of
// a value when it is inserted. onEvict, if non-nil, is called for every value
// the index relinquishes, after it has been unlinked.
func New[K comparable, V any](maxBytes int64, costFn func(V) int64, onEvict func(K, V)) *Index[K, V] {
	if maxBytes < 0 {
		maxBytes = 0
	}
	if costFn == nil {
		costFn = func(V) int64 { return 1 }
	}
	return &Index[K, V]{
		maxBytes: maxBytes,
		costFn:   costFn,
		onEvict:  onEvict,
		elements: make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Put inserts value at the head and prunes. It reports false, leaving the
// index untouched, if the value alone costs more than the budget.
func (x *Index[K, V]) Put(key K, value V) bool {
	cost := x.costFn(value)
	if cost > x.maxBytes {
		return false
	}

	if elem, ok := x.elements[key]; ok {
		// Replacing relinquishes the old value.
		old := elem.Value.(*entry[K, V])
		x.sub(old.cost)
		oldValue := old.value
		old.value = value
		old.cost = cost
		x.currentBytes += cost
		x.order.MoveToFront(elem)
		if x.onEvict != nil {
			x.onEvict(key, oldValue)
		}
		x.prune()
		return true
	}

	e := &entry[K, V]{key: key, value: value, cost: cost}
	x.elements[key] = x.order.PushFront(e)
	x.currentBytes += cost
	x.prune()
	return true
}

// Get returns the value for key and promotes it to the head.
func (x *Index[K, V]) Get(key K) (V, bool) {
	if elem, ok := x.elements[key]; ok {
		x.order.MoveToFront(elem)
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without changing recency.
func (x *Index[K, V]) Peek(key K) (V, bool) {
	if elem, ok := x.elements[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is resident.
func (x *Index[K, V]) Contains(key K) bool {
	_, ok := x.elements[key]
	return ok
}

// Resize changes the budget and prunes immediately.
func (x *Index[K, V]) Resize(maxBytes int64) {
	if maxBytes < 0 {
		maxBytes = 0
	}
	x.maxBytes = maxBytes
	x.prune()
}

// Flush relinquishes every value, least recently used first.
func (x *Index[K, V]) Flush() {
	for x.order.Len() > 0 {
		x.evict(x.order.Back())
	}
	x.currentBytes = 0
}

// Len returns the number of resident values.
func (x *Index[K, V]) Len() int {
	return x.order.Len()
}

// Bytes returns the summed cost of resident values.
func (x *Index[K, V]) Bytes() int64 {
	return x.currentBytes
}

// MaxBytes returns the budget.
func (x *Index[K, V]) MaxBytes() int64 {
	return x.maxBytes
}

// At returns the key and cost at recency position i, where 0 is the most
// recently used. It walks the list, so it is meant for diagnostics.
func (x *Index[K, V]) At(i int) (K, int64, bool) {
	if i < 0 || i >= x.order.Len() {
		var zero K
		return zero, 0, false
	}
	elem := x.order.Front()
	for ; i > 0; i-- {
		elem = elem.Next()
	}
	e := elem.Value.(*entry[K, V])
	return e.key, e.cost, true
}

// Keys returns the resident keys from most to least recently used.
func (x *Index[K, V]) Keys() []K {
	keys := make([]K, 0, x.order.Len())
	for elem := x.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}

// prune evicts from the tail until the index fits its budget.
func (x *Index[K, V]) prune() {
	for x.currentBytes > x.maxBytes {
		back := x.order.Back()
		if back == nil {
			x.currentBytes = 0
			return
		}
		x.evict(back)
	}
}

func (x *Index[K, V]) evict(elem *list.Element) {
	e := elem.Value.(*entry[K, V])
	x.sub(e.cost)
	delete(x.elements, e.key)
	x.order.Remove(elem)
	if x.onEvict != nil {
		x.onEvict(e.key, e.value)
	}
}

// sub lowers currentBytes, flooring at zero.
func (x *Index[K, V]) sub(cost int64) {
	x.currentBytes -= cost
	if x.currentBytes < 0 {
		x.currentBytes = 0
	}
}
