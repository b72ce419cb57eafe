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

package idset

import "testing"

func TestSetAddHas(t *testing.T) {
	s := New(0)
	ids := []uint32{0, 1, 7, 100, 100000, 4294967294}
	for _, id := range ids {
		s.Add(id)
	}
	for _, id := range ids {
		if !s.Has(id) {
			t.Fatalf("Has(%d) = false, want true", id)
		}
	}
	if s.Has(42) {
		t.Fatal("Has(42) = true, want false")
	}
	if s.Len() != len(ids) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(ids))
	}
}

func TestSetAddIsIdempotent(t *testing.T) {
	s := New(0)
	s.Add(5)
	s.Add(5)
	s.Add(5)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestSetGrows(t *testing.T) {
	s := New(0)
	for i := uint32(0); i < 1000; i++ {
		s.Add(i)
	}
	if s.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", s.Len())
	}
	for i := uint32(0); i < 1000; i++ {
		if !s.Has(i) {
			t.Fatalf("Has(%d) = false after grow", i)
		}
	}
}

func TestIntersect(t *testing.T) {
	a := NewFromSlice([]uint32{1, 2, 3, 4, 5})
	b := NewFromSlice([]uint32{3, 4, 5, 6, 7})
	c := NewFromSlice([]uint32{4, 5, 8})

	got := Intersect([]*Set{a, b, c})
	want := map[uint32]bool{4: true, 5: true}
	if got.Len() != len(want) {
		t.Fatalf("Intersect len = %d, want %d (items=%v)", got.Len(), len(want), got.Items())
	}
	for id := range want {
		if !got.Has(id) {
			t.Fatalf("expected intersection to contain %d", id)
		}
	}
}

func TestIntersectEmptyInput(t *testing.T) {
	got := Intersect(nil)
	if got.Len() != 0 {
		t.Fatalf("Intersect(nil).Len() = %d, want 0", got.Len())
	}
}

func TestIntersectWithEmptySet(t *testing.T) {
	a := NewFromSlice([]uint32{1, 2, 3})
	b := New(0)
	got := Intersect([]*Set{a, b})
	if got.Len() != 0 {
		t.Fatalf("expected empty intersection with an empty set, got %v", got.Items())
	}
}
