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

// AttributeIndex is a random-access handle onto an entity's
// attributes/<entity>/index.bin file. Entries are addressed by
// attribute number (1-based); attribute number a lives at byte offset
// (a-1)*AttributeIndexEntrySize.
type AttributeIndex struct {
	f    *os.File
	path string
	size int64
}

// OpenAttributeIndex opens the index.bin file for the attribute store
// rooted at basePath (e.g. "<store>/attributes/origin"). It fails with
// ErrMissingIndex if the file is absent.
func OpenAttributeIndex(basePath string) (*AttributeIndex, error) {
	path := basePath + "/index.bin"
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", aspaerr.ErrMissingIndex, path)
		}
		return nil, fmt.Errorf("%w: opening %s: %s", aspaerr.ErrIoError, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %s", aspaerr.ErrIoError, path, err)
	}
	return &AttributeIndex{f: f, path: path, size: info.Size()}, nil
}

// Close releases the underlying file handle.
func (a *AttributeIndex) Close() error {
	return a.f.Close()
}

// NumEntries returns the number of fixed-width slots present in the
// index file, i.e. the largest attribute count the file can address.
func (a *AttributeIndex) NumEntries() uint32 {
	return uint32(a.size / AttributeIndexEntrySize)
}

// Get reads the AttributeIndexEntry for the given 1-based attribute
// number. It fails with ErrMissingIndex if the file is shorter than
// required to hold that slot.
func (a *AttributeIndex) Get(attrNumber uint32) (AttributeIndexEntry, error) {
	if attrNumber == 0 {
		return AttributeIndexEntry{}, fmt.Errorf("%w: attribute numbers are 1-based, got 0", aspaerr.ErrBadArgument)
	}
	off := int64(attrNumber-1) * AttributeIndexEntrySize
	if off+AttributeIndexEntrySize > a.size {
		return AttributeIndexEntry{}, fmt.Errorf("%w: %s has no slot for attribute %d", aspaerr.ErrMissingIndex, a.path, attrNumber)
	}
	var buf [AttributeIndexEntrySize]byte
	if _, err := a.f.ReadAt(buf[:], off); err != nil {
		return AttributeIndexEntry{}, fmt.Errorf("%w: reading index entry %d from %s: %s", aspaerr.ErrIoError, attrNumber, a.path, err)
	}
	return DecodeAttributeIndexEntry(buf[:]), nil
}

// AttributeIndexWriter appends AttributeIndexEntry records in
// attribute-number order to a fresh index.bin file.
type AttributeIndexWriter struct {
	f *os.File
}

// CreateAttributeIndex creates (or truncates) the index.bin file for
// the attribute store rooted at basePath.
func CreateAttributeIndex(basePath string) (*AttributeIndexWriter, error) {
	path := basePath + "/index.bin"
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %s", aspaerr.ErrIoError, path, err)
	}
	return &AttributeIndexWriter{f: f}, nil
}

// Write appends one entry to the index file.
func (w *AttributeIndexWriter) Write(e AttributeIndexEntry) error {
	buf := e.Encode(make([]byte, 0, AttributeIndexEntrySize))
	_, err := w.f.Write(buf)
	if err != nil {
		return fmt.Errorf("%w: writing index entry: %s", aspaerr.ErrIoError, err)
	}
	return nil
}

// Close flushes and closes the index file.
func (w *AttributeIndexWriter) Close() error {
	return w.f.Close()
}
