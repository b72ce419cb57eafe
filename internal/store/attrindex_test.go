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

package store

import (
	"errors"
	"testing"

	"github.com/motero2k/aspa/internal/aspaerr"
)

func TestAttributeIndexWriteAndGet(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateAttributeIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	entries := []AttributeIndexEntry{
		{BlockID: 0, Offset: 0, Count: 10},
		{BlockID: 0, Offset: 80, Count: 0},
		{BlockID: 1, Offset: 0, Count: 5},
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err := OpenAttributeIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if n := idx.NumEntries(); n != uint32(len(entries)) {
		t.Fatalf("NumEntries() = %d, want %d", n, len(entries))
	}
	for i, want := range entries {
		got, err := idx.Get(uint32(i + 1))
		if err != nil {
			t.Fatalf("Get(%d): %v", i+1, err)
		}
		if got != want {
			t.Fatalf("Get(%d) = %+v, want %+v", i+1, got, want)
		}
	}
}

func TestAttributeIndexMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenAttributeIndex(dir)
	if !errors.Is(err, aspaerr.ErrMissingIndex) {
		t.Fatalf("expected ErrMissingIndex, got %v", err)
	}
}

func TestAttributeIndexGetOutOfRange(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateAttributeIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(AttributeIndexEntry{Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	idx, err := OpenAttributeIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, err := idx.Get(2); !errors.Is(err, aspaerr.ErrMissingIndex) {
		t.Fatalf("expected ErrMissingIndex for out-of-range slot, got %v", err)
	}
}
