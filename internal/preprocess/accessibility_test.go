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

package preprocess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/motero2k/aspa/internal/store"
)

func writeAccRows(recs []store.AccessibilityRecord) []byte {
	buf := make([]byte, 0, len(recs)*store.AccessibilityRecordSize)
	for _, r := range recs {
		buf = r.Encode(buf)
	}
	return buf
}

func TestBuildAccessibilityStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "accessibility_1p.bin")

	// unsorted by destination on purpose: the builder must sort.
	recs := []store.AccessibilityRecord{
		{OriginID: 1, DestinationID: 5, Time: 10, Distance: 100},
		{OriginID: 2, DestinationID: 3, Time: 20, Distance: 200},
		{OriginID: 3, DestinationID: 5, Time: 30, Distance: 300},
		{OriginID: 4, DestinationID: 3, Time: 40, Distance: 400},
		{OriginID: 5, DestinationID: 3, Time: 50, Distance: 500},
	}
	if err := os.WriteFile(inputPath, writeAccRows(recs), 0o644); err != nil {
		t.Fatal(err)
	}

	basePath := filepath.Join(dir, "accessibility")
	if err := BuildAccessibilityStore(inputPath, basePath, 1<<20); err != nil {
		t.Fatal(err)
	}

	idx, err := store.OpenAccessibilityIndex(basePath)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 distinct destinations", idx.Len())
	}

	e5, ok := idx.Lookup(5)
	if !ok {
		t.Fatal("expected an entry for destination 5")
	}
	if e5.Count != 2 {
		t.Fatalf("destination 5 count = %d, want 2", e5.Count)
	}
	e3, ok := idx.Lookup(3)
	if !ok {
		t.Fatal("expected an entry for destination 3")
	}
	if e3.Count != 3 {
		t.Fatalf("destination 3 count = %d, want 3", e3.Count)
	}

	blk, err := store.MapBlock(basePath, e3.BlockID)
	if err != nil {
		t.Fatal(err)
	}
	defer blk.Close()
	data := blk.Bytes()[e3.Offset:e3.End()]
	var origins []uint32
	for off := 0; off < len(data); off += store.AccessibilityRecordSize {
		r := store.DecodeAccessibilityRecord(data[off:])
		if r.DestinationID != 3 {
			t.Fatalf("record in destination 3's run has destination_id %d", r.DestinationID)
		}
		origins = append(origins, r.OriginID)
	}
	if len(origins) != 3 {
		t.Fatalf("decoded %d records for destination 3, want 3", len(origins))
	}
}

func TestBuildAccessibilityStoreNoDestinationSplitAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "accessibility_1p.bin")

	// destination 1 has 3 records (48 bytes); a target smaller than
	// that must still keep the whole run in one block rather than
	// splitting it and re-emitting destination 1 in a second entry.
	recs := []store.AccessibilityRecord{
		{OriginID: 1, DestinationID: 1, Time: 1, Distance: 1},
		{OriginID: 2, DestinationID: 1, Time: 2, Distance: 2},
		{OriginID: 3, DestinationID: 1, Time: 3, Distance: 3},
		{OriginID: 4, DestinationID: 2, Time: 4, Distance: 4},
	}
	if err := os.WriteFile(inputPath, writeAccRows(recs), 0o644); err != nil {
		t.Fatal(err)
	}

	basePath := filepath.Join(dir, "accessibility")
	if err := BuildAccessibilityStore(inputPath, basePath, store.AccessibilityRecordSize); err != nil {
		t.Fatal(err)
	}

	idx, err := store.OpenAccessibilityIndex(basePath)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}
	e1, ok := idx.Lookup(1)
	if !ok {
		t.Fatal("expected an entry for destination 1")
	}
	if e1.Count != 3 {
		t.Fatalf("destination 1 count = %d, want 3 (run must not split)", e1.Count)
	}
}

func TestBuildAccessibilityStoreEmptyInput(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "accessibility_1p.bin")
	if err := os.WriteFile(inputPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	basePath := filepath.Join(dir, "accessibility")
	if err := BuildAccessibilityStore(inputPath, basePath, 1<<20); err != nil {
		t.Fatal(err)
	}
	idx, err := store.OpenAccessibilityIndex(basePath)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", idx.Len())
	}
}
