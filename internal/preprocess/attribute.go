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

// Package preprocess transforms row-major input binaries into the
// on-disk Block Store: one attribute pipeline per entity (origin,
// destination) and one accessibility pipeline, run concurrently.
package preprocess

import (
	"fmt"
	"math"
	"os"

	"github.com/motero2k/aspa/internal/rowtable"
	"github.com/motero2k/aspa/internal/store"
)

// BuildAttributeStore reads the row-major attribute table at
// inputPath and writes an attribute store (index.bin + blocks/) rooted
// at basePath, packing columns into blocks of at most targetBlockBytes
// using the first-fit greedy packer of §4.2.1. A column larger than
// targetBlockBytes is written whole into a block of its own.
func BuildAttributeStore(inputPath, basePath string, nAttrs uint32, targetBlockBytes int64) error {
	table, err := rowtable.LoadAttributeTable(inputPath, nAttrs)
	if err != nil {
		return err
	}

	// Pass 1: extract, per column, the ordered (id, value) pairs for
	// every non-NaN cell. Row order is preserved within each column,
	// which is the source of the "same order as source" invariant.
	columns := make([][]store.AttributeValue, nAttrs)
	for i := uint32(0); i < table.NRows; i++ {
		id := table.ID(i)
		for a := uint32(0); a < nAttrs; a++ {
			v := table.Value(i, a)
			if math.IsNaN(float64(v)) {
				continue
			}
			columns[a] = append(columns[a], store.AttributeValue{ID: id, Value: v})
		}
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", basePath, err)
	}
	idx, err := store.CreateAttributeIndex(basePath)
	if err != nil {
		return err
	}
	defer idx.Close()

	bw, err := store.NewBlockWriter(basePath, targetBlockBytes)
	if err != nil {
		return err
	}
	defer bw.Close()

	// Pass 2: pack columns into blocks, attribute number ascending,
	// first-fit: rotate before a column would push a non-empty block
	// over target; a column that alone exceeds target still goes
	// whole into its own (freshly opened) block.
	for a := uint32(0); a < nAttrs; a++ {
		col := columns[a]
		payload := int64(len(col)) * store.AttributeValueSize
		if bw.WouldExceed(payload) {
			if err := bw.Rotate(); err != nil {
				return err
			}
		}
		entry := store.AttributeIndexEntry{
			BlockID: bw.BlockID(),
			Offset:  uint64(bw.Offset()),
			Count:   uint32(len(col)),
		}
		buf := make([]byte, 0, payload)
		for _, v := range col {
			buf = v.Encode(buf)
		}
		if len(buf) > 0 {
			if err := bw.Write(buf); err != nil {
				return err
			}
		}
		if err := idx.Write(entry); err != nil {
			return err
		}
	}
	return nil
}
