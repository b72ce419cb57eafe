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
	"fmt"
	"os"

	"github.com/motero2k/aspa/internal/aspaerr"
)

// AccessibilityIndex is the fully materialized destination_id -> entry
// mapping for one accessibility store. It is built once by reading the
// whole index.bin file and is shared read-only across query workers.
type AccessibilityIndex struct {
	byDest map[uint32]AccessibilityBlockIndexEntry
}

// OpenAccessibilityIndex reads the accessibility index.bin file rooted
// at basePath (e.g. "<store>/accessibility") into memory. It fails
// with ErrMissingIndex if the file is absent.
func OpenAccessibilityIndex(basePath string) (*AccessibilityIndex, error) {
	path := basePath + "/index.bin"
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", aspaerr.ErrMissingIndex, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %s", aspaerr.ErrIoError, path, err)
	}
	if len(buf)%AccessibilityBlockIndexEntrySize != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of %d", aspaerr.ErrFormatMismatch, path, len(buf), AccessibilityBlockIndexEntrySize)
	}
	n := len(buf) / AccessibilityBlockIndexEntrySize
	idx := &AccessibilityIndex{byDest: make(map[uint32]AccessibilityBlockIndexEntry, n)}
	for i := 0; i < n; i++ {
		e := DecodeAccessibilityBlockIndexEntry(buf[i*AccessibilityBlockIndexEntrySize:])
		if _, dup := idx.byDest[e.DestinationID]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate destination_id %d", aspaerr.ErrFormatMismatch, path, e.DestinationID)
		}
		idx.byDest[e.DestinationID] = e
	}
	return idx, nil
}

// Lookup returns the index entry for destID, if present.
func (idx *AccessibilityIndex) Lookup(destID uint32) (AccessibilityBlockIndexEntry, bool) {
	e, ok := idx.byDest[destID]
	return e, ok
}

// Len returns the number of distinct destination ids in the index.
func (idx *AccessibilityIndex) Len() int {
	return len(idx.byDest)
}

// Entries calls fn once for every index entry, in unspecified order.
func (idx *AccessibilityIndex) Entries(fn func(AccessibilityBlockIndexEntry)) {
	for _, e := range idx.byDest {
		fn(e)
	}
}

// AccessibilityIndexWriter appends AccessibilityBlockIndexEntry
// records to a fresh index.bin file as the preprocessor closes out
// each destination's run.
type AccessibilityIndexWriter struct {
	f *os.File
}

// CreateAccessibilityIndex creates (or truncates) the index.bin file
// for the accessibility store rooted at basePath.
func CreateAccessibilityIndex(basePath string) (*AccessibilityIndexWriter, error) {
	path := basePath + "/index.bin"
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %s", aspaerr.ErrIoError, path, err)
	}
	return &AccessibilityIndexWriter{f: f}, nil
}

// Write appends one entry to the index file.
func (w *AccessibilityIndexWriter) Write(e AccessibilityBlockIndexEntry) error {
	buf := e.Encode(make([]byte, 0, AccessibilityBlockIndexEntrySize))
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("%w: writing index entry: %s", aspaerr.ErrIoError, err)
	}
	return nil
}

// Close flushes and closes the index file.
func (w *AccessibilityIndexWriter) Close() error {
	return w.f.Close()
}
