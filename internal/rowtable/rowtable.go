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

// Package rowtable reads the row-major input binaries (§6.1) that feed
// the Preprocessor: dense attribute tables keyed by a leading id, and
// the dense accessibility table.
package rowtable

import (
	"fmt"
	"math"
	"os"

	"github.com/motero2k/aspa/internal/aspaerr"
	"github.com/motero2k/aspa/internal/store"
)

// AttrRowSize returns the row size, in bytes, of an attribute table
// with nAttrs float columns: a leading u32 id plus nAttrs f32 values.
func AttrRowSize(nAttrs uint32) int64 {
	return 4 + int64(nAttrs)*4
}

// AttributeTable is the entirety of one row-major attribute input
// file, loaded into memory.
type AttributeTable struct {
	NAttrs uint32
	NRows  uint32
	data   []byte
	rowLen int64
}

// LoadAttributeTable reads path in full and validates its size against
// the fixed row layout for nAttrs attributes. It fails with
// ErrFormatMismatch if the file size is not an exact multiple of the
// row size.
func LoadAttributeTable(path string, nAttrs uint32) (*AttributeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", aspaerr.ErrIoError, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %s", aspaerr.ErrIoError, path, err)
	}
	rowLen := AttrRowSize(nAttrs)
	if rowLen == 0 || int64(len(data))%rowLen != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of row size %d", aspaerr.ErrFormatMismatch, path, len(data), rowLen)
	}
	nRows := int64(len(data)) / rowLen
	if nRows > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s has too many rows (%d)", aspaerr.ErrFormatMismatch, path, nRows)
	}
	return &AttributeTable{NAttrs: nAttrs, NRows: uint32(nRows), data: data, rowLen: rowLen}, nil
}

// ID returns the id field of row i.
func (t *AttributeTable) ID(i uint32) uint32 {
	off := int64(i) * t.rowLen
	return store.Native.Uint32(t.data[off : off+4])
}

// Value returns the (possibly NaN) value of attribute a (0-based) in
// row i.
func (t *AttributeTable) Value(i uint32, a uint32) float32 {
	off := int64(i)*t.rowLen + 4 + int64(a)*4
	bits := store.Native.Uint32(t.data[off : off+4])
	return math.Float32frombits(bits)
}

// AccessibilityTable is the entirety of the row-major accessibility
// input file, decoded into a slice of records.
type AccessibilityTable struct {
	Records []store.AccessibilityRecord
}

// LoadAccessibilityTable reads path in full and decodes it as a
// sequence of 16-byte AccessibilityRecord values.
func LoadAccessibilityTable(path string) (*AccessibilityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", aspaerr.ErrIoError, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %s", aspaerr.ErrIoError, path, err)
	}
	if len(data)%store.AccessibilityRecordSize != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of record size %d", aspaerr.ErrFormatMismatch, path, len(data), store.AccessibilityRecordSize)
	}
	n := len(data) / store.AccessibilityRecordSize
	recs := make([]store.AccessibilityRecord, n)
	for i := 0; i < n; i++ {
		recs[i] = store.DecodeAccessibilityRecord(data[i*store.AccessibilityRecordSize:])
	}
	return &AccessibilityTable{Records: recs}, nil
}

// InputPath builds the conventional input file name for an entity
// table at the given percentage token (e.g. "1", "10", "100").
func InputPath(inputDir, entity, percent string) string {
	return fmt.Sprintf("%s/%s_%sp.bin", inputDir, entity, percent)
}
