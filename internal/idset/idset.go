// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package idset implements a flat, open-addressing set of uint32 ids,
// hashed with SipHash-2-4. It exists to give the query executor's hot
// presence-check path (millions of origin/destination ids, intersected
// per query) a cache-friendly alternative to Go's bucketed built-in
// map, while keeping the average-case O(1) lookup the design requires.
package idset

import (
	"math/bits"

	"github.com/dchest/siphash"
)

const (
	hashKey0 = 0x9ae16a3b2f90404f
	hashKey1 = 0xc949d7c7509e6557
	empty    = ^uint32(0)
)

// Set is a fixed-key-function open-addressing hash set of uint32 ids.
// The zero value is not usable; construct with New or NewFromSlice.
type Set struct {
	slots []uint32
	mask  uint64
	count int
}

// New returns an empty set pre-sized to hold at least capacity ids
// without rehashing.
func New(capacity int) *Set {
	n := nextPow2(capacity*2 + 1)
	if n < 8 {
		n = 8
	}
	s := &Set{slots: make([]uint32, n), mask: uint64(n - 1)}
	for i := range s.slots {
		s.slots[i] = empty
	}
	return s
}

// NewFromSlice builds a set containing exactly the ids in v.
func NewFromSlice(v []uint32) *Set {
	s := New(len(v))
	for _, id := range v {
		s.Add(id)
	}
	return s
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func hash(id uint32) uint64 {
	var buf [4]byte
	buf[0] = byte(id)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 24)
	return siphash.Hash(hashKey0, hashKey1, buf[:])
}

// Add inserts id into the set, growing and rehashing if the set is
// more than half full. The id 0xFFFFFFFF marks an empty slot and is
// ignored: it is never stored.
func (s *Set) Add(id uint32) {
	if id == empty {
		return
	}
	if (s.count+1)*2 > len(s.slots) {
		s.grow()
	}
	s.insert(id)
}

func (s *Set) insert(id uint32) {
	i := hash(id) & s.mask
	for {
		cur := s.slots[i]
		if cur == empty {
			s.slots[i] = id
			s.count++
			return
		}
		if cur == id {
			return
		}
		i = (i + 1) & s.mask
	}
}

func (s *Set) grow() {
	old := s.slots
	n := len(old) * 2
	s.slots = make([]uint32, n)
	s.mask = uint64(n - 1)
	for i := range s.slots {
		s.slots[i] = empty
	}
	s.count = 0
	for _, id := range old {
		if id != empty {
			s.insert(id)
		}
	}
}

// Has reports whether id is present in the set.
func (s *Set) Has(id uint32) bool {
	i := hash(id) & s.mask
	for {
		cur := s.slots[i]
		if cur == empty {
			return false
		}
		if cur == id {
			return true
		}
		i = (i + 1) & s.mask
	}
}

// Len returns the number of distinct ids in the set.
func (s *Set) Len() int { return s.count }

// Intersect returns a new set containing the ids present in every
// member of sets. An empty input returns an empty set.
func Intersect(sets []*Set) *Set {
	if len(sets) == 0 {
		return New(0)
	}
	smallest := sets[0]
	for _, s := range sets[1:] {
		if s.Len() < smallest.Len() {
			smallest = s
		}
	}
	out := New(smallest.Len())
	for _, id := range smallest.Items() {
		in := true
		for _, s := range sets {
			if s == smallest {
				continue
			}
			if !s.Has(id) {
				in = false
				break
			}
		}
		if in {
			out.Add(id)
		}
	}
	return out
}

// Items returns the ids in the set, in unspecified order.
func (s *Set) Items() []uint32 {
	out := make([]uint32, 0, s.count)
	for _, id := range s.slots {
		if id != empty {
			out = append(out, id)
		}
	}
	return out
}
