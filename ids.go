// Copyright 2023 David Allison
// All Rights Reserved
// See LICENSE file for licensing information.

package co

import "math/bits"

// idWordBits is the width of one bitmap word.
const idWordBits = 64

// idSpaceCeiling is the implementation-defined ceiling on the number of
// live ids (§4.1: "Fails with AllocError only when the logical id space is
// exhausted (implementation-defined ceiling)"). 1<<20 dense coroutine ids is
// far beyond any realistic single-threaded scheduler's working set.
const idSpaceCeiling = 1 << 20

// idAllocator hands out dense, non-negative, recyclable coroutine ids,
// preferring the smallest currently-free id (§4.1). It is a plain bitmap,
// not a general-purpose sparse-id allocator: the spec explicitly treats the
// latter as an external collaborator (§1) out of this module's scope.
//
// Not safe for concurrent use; the Machine that owns it is single-threaded.
type idAllocator struct {
	words     []uint64
	lowHint   int // smallest word index that might contain a free bit
	lastFreed int // last id passed to free, or -1; consumed by the next allocate
	live      int
}

func newIDAllocator() *idAllocator {
	return &idAllocator{lastFreed: -1}
}

// allocate returns the smallest non-negative free id. If the id most
// recently freed is exactly that smallest free id, the next-smallest free
// id is preferred instead, so that rapidly churning coroutines don't keep
// aliasing the same debug id (§4.1).
func (a *idAllocator) allocate() (int, error) {
	smallest, ok := a.findFreeFrom(0)
	if !ok {
		return 0, ErrIdExhausted
	}
	choice := smallest
	if a.lastFreed == smallest {
		if next, ok := a.findFreeFrom(smallest + 1); ok {
			choice = next
		}
	}
	a.lastFreed = -1
	a.setBit(choice)
	a.live++
	return choice, nil
}

// free releases id, making it eligible for reuse per the allocate policy.
func (a *idAllocator) free(id int) {
	a.clearBit(id)
	a.lastFreed = id
	a.live--
	if w := id / idWordBits; w < a.lowHint {
		a.lowHint = w
	}
}

// contains reports whether id is currently allocated.
func (a *idAllocator) contains(id int) bool {
	w := id / idWordBits
	if id < 0 || w >= len(a.words) {
		return false
	}
	return a.words[w]&(uint64(1)<<uint(id%idWordBits)) != 0
}

func (a *idAllocator) setBit(id int) {
	w := id / idWordBits
	for w >= len(a.words) {
		a.words = append(a.words, 0)
	}
	a.words[w] |= uint64(1) << uint(id%idWordBits)
}

func (a *idAllocator) clearBit(id int) {
	w := id / idWordBits
	if w >= len(a.words) {
		return
	}
	a.words[w] &^= uint64(1) << uint(id%idWordBits)
}

// findFreeFrom returns the smallest free id >= from, growing the bitmap by
// one word at a time as needed, up to idSpaceCeiling. O(n/64) in the number
// of currently-allocated words.
func (a *idAllocator) findFreeFrom(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	w := from / idWordBits
	if w < a.lowHint {
		w = a.lowHint
	}
	bitOffset := 0
	if w == from/idWordBits {
		bitOffset = from % idWordBits
	}
	for {
		if w*idWordBits >= idSpaceCeiling {
			return 0, false
		}
		if w >= len(a.words) {
			a.words = append(a.words, 0)
		}
		word := a.words[w]
		if bitOffset > 0 {
			word |= (uint64(1) << uint(bitOffset)) - 1
		}
		if word != ^uint64(0) {
			bit := bits.TrailingZeros64(^word)
			id := w*idWordBits + bit
			if id >= from && id < idSpaceCeiling {
				if w == a.lowHint && word == ^uint64(0) {
					a.lowHint = w + 1
				}
				return id, true
			}
		} else if w == a.lowHint && bitOffset == 0 {
			a.lowHint = w + 1
		}
		w++
		bitOffset = 0
	}
}
