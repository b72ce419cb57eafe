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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/motero2k/aspa/internal/store"
)

// writeAttrRow appends one row (id, values...) in the on-disk row-major
// layout: a leading u32 id followed by one f32 per attribute, NaN
// marking an absent cell.
func writeAttrRow(buf []byte, id uint32, values []float32) []byte {
	var idBuf [4]byte
	store.Native.PutUint32(idBuf[:], id)
	buf = append(buf, idBuf[:]...)
	for _, v := range values {
		var vBuf [4]byte
		store.Native.PutUint32(vBuf[:], math.Float32bits(v))
		buf = append(buf, vBuf[:]...)
	}
	return buf
}

func TestBuildAttributeStoreNullElisionAndRoundTrip(t *testing.T) {
	nan := float32(math.NaN())
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "origin_1p.bin")

	var buf []byte
	buf = writeAttrRow(buf, 10, []float32{1.5, nan, 3.5})
	buf = writeAttrRow(buf, 20, []float32{nan, 2.5, nan})
	buf = writeAttrRow(buf, 30, []float32{9.0, nan, nan})
	if err := os.WriteFile(inputPath, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	basePath := filepath.Join(dir, "attributes", "origin")
	if err := BuildAttributeStore(inputPath, basePath, 3, 1<<20); err != nil {
		t.Fatal(err)
	}

	idx, err := store.OpenAttributeIndex(basePath)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if idx.NumEntries() != 3 {
		t.Fatalf("NumEntries() = %d, want 3", idx.NumEntries())
	}

	// attribute 1: rows 10 and 30 have values, row 20 is NaN (elided).
	e1, err := idx.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if e1.Count != 2 {
		t.Fatalf("attribute 1 count = %d, want 2", e1.Count)
	}
	blk, err := store.MapBlock(basePath, e1.BlockID)
	if err != nil {
		t.Fatal(err)
	}
	defer blk.Close()
	data := blk.Bytes()[e1.Offset:e1.End()]
	v0 := store.DecodeAttributeValue(data[0:store.AttributeValueSize])
	v1 := store.DecodeAttributeValue(data[store.AttributeValueSize : 2*store.AttributeValueSize])
	if v0.ID != 10 || v0.Value != 1.5 {
		t.Fatalf("attribute 1 entry 0 = %+v, want {10 1.5}", v0)
	}
	if v1.ID != 30 || v1.Value != 9.0 {
		t.Fatalf("attribute 1 entry 1 = %+v, want {30 9.0}", v1)
	}

	// attribute 2: only row 20 has a value.
	e2, err := idx.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if e2.Count != 1 {
		t.Fatalf("attribute 2 count = %d, want 1", e2.Count)
	}

	// attribute 3: only row 10 has a value.
	e3, err := idx.Get(3)
	if err != nil {
		t.Fatal(err)
	}
	if e3.Count != 1 {
		t.Fatalf("attribute 3 count = %d, want 1", e3.Count)
	}
}

func TestBuildAttributeStoreAllNaNColumnStillIndexed(t *testing.T) {
	nan := float32(math.NaN())
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "dest_1p.bin")

	var buf []byte
	buf = writeAttrRow(buf, 1, []float32{nan})
	buf = writeAttrRow(buf, 2, []float32{nan})
	if err := os.WriteFile(inputPath, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	basePath := filepath.Join(dir, "attributes", "destination")
	if err := BuildAttributeStore(inputPath, basePath, 1, 1<<20); err != nil {
		t.Fatal(err)
	}

	idx, err := store.OpenAttributeIndex(basePath)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if idx.NumEntries() != 1 {
		t.Fatalf("NumEntries() = %d, want 1", idx.NumEntries())
	}
	e, err := idx.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if e.Count != 0 {
		t.Fatalf("count = %d, want 0 for an all-NaN column", e.Count)
	}
}

func TestBuildAttributeStoreRespectsBlockTarget(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "origin_1p.bin")

	// 4 columns, each with one value (8 bytes encoded): a tiny target
	// forces the packer to open a new block per column.
	var buf []byte
	buf = writeAttrRow(buf, 1, []float32{1, 2, 3, 4})
	if err := os.WriteFile(inputPath, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	basePath := filepath.Join(dir, "attributes", "origin")
	if err := BuildAttributeStore(inputPath, basePath, 4, store.AttributeValueSize); err != nil {
		t.Fatal(err)
	}

	idx, err := store.OpenAttributeIndex(basePath)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	seenBlocks := make(map[uint32]bool)
	for a := uint32(1); a <= 4; a++ {
		e, err := idx.Get(a)
		if err != nil {
			t.Fatal(err)
		}
		seenBlocks[e.BlockID] = true
	}
	if len(seenBlocks) != 4 {
		t.Fatalf("expected 4 distinct blocks with a one-value target, got %d", len(seenBlocks))
	}
}

func TestBuildAttributeStoreMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := BuildAttributeStore(filepath.Join(dir, "missing.bin"), filepath.Join(dir, "out"), 2, 1<<20)
	if err == nil {
		t.Fatal("expected error for missing input file")
	}
}
