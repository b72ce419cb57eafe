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

func TestAccessibilityIndexWriteAndLookup(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateAccessibilityIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	entries := []AccessibilityBlockIndexEntry{
		{DestinationID: 0, BlockID: 0, Offset: 0, Count: 3},
		{DestinationID: 1, BlockID: 0, Offset: 48, Count: 7},
		{DestinationID: 2, BlockID: 1, Offset: 0, Count: 2},
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err := OpenAccessibilityIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != len(entries) {
		t.Fatalf("Len() = %d, want %d", idx.Len(), len(entries))
	}
	for _, want := range entries {
		got, ok := idx.Lookup(want.DestinationID)
		if !ok {
			t.Fatalf("Lookup(%d) missing", want.DestinationID)
		}
		if got != want {
			t.Fatalf("Lookup(%d) = %+v, want %+v", want.DestinationID, got, want)
		}
	}
	if _, ok := idx.Lookup(999); ok {
		t.Fatalf("Lookup(999) unexpectedly found")
	}
}

func TestAccessibilityIndexDuplicateRejected(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateAccessibilityIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []AccessibilityBlockIndexEntry{
		{DestinationID: 5, BlockID: 0, Offset: 0, Count: 1},
		{DestinationID: 5, BlockID: 1, Offset: 0, Count: 1},
	} {
		if err := w.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	_, err = OpenAccessibilityIndex(dir)
	if !errors.Is(err, aspaerr.ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch for duplicate destination_id, got %v", err)
	}
}

func TestAccessibilityIndexMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenAccessibilityIndex(dir)
	if !errors.Is(err, aspaerr.ErrMissingIndex) {
		t.Fatalf("expected ErrMissingIndex, got %v", err)
	}
}
