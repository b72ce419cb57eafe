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

// BlockWriter is the shared first-fit block packer used by both
// preprocessor pipelines: it fills block_<id>.bin files under
// basePath/blocks, rotating to a fresh block file on request. It never
// splits a single Write call across two files and does not itself
// enforce the target size; callers decide when a rotation is needed,
// e.g. by consulting WouldExceed before writing.
type BlockWriter struct {
	basePath string
	target   int64
	blockID  uint32
	f        *os.File
	offset   int64
}

// NewBlockWriter opens block_0.bin under basePath/blocks, creating the
// directory if needed.
func NewBlockWriter(basePath string, target int64) (*BlockWriter, error) {
	if err := os.MkdirAll(basePath+"/blocks", 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s/blocks: %s", aspaerr.ErrIoError, basePath, err)
	}
	w := &BlockWriter{basePath: basePath, target: target}
	if err := w.openBlock(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *BlockWriter) openBlock(id uint32) error {
	path := BlockPath(w.basePath, id)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %s", aspaerr.ErrIoError, path, err)
	}
	w.f = f
	w.blockID = id
	w.offset = 0
	return nil
}

// BlockID returns the id of the block currently being written.
func (w *BlockWriter) BlockID() uint32 { return w.blockID }

// Offset returns the number of bytes already written to the current
// block.
func (w *BlockWriter) Offset() int64 { return w.offset }

// WouldExceed reports whether appending n more bytes to the current,
// non-empty block would push it past the target size. A column or run
// whose payload alone exceeds the target is still written whole into
// a single (freshly opened) block, per the never-split rule: callers
// should only rotate when the current block is non-empty.
func (w *BlockWriter) WouldExceed(n int64) bool {
	return w.offset > 0 && w.offset+n > w.target
}

// Rotate closes the current block file and opens the next one.
func (w *BlockWriter) Rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("%w: closing block %d: %s", aspaerr.ErrIoError, w.blockID, err)
	}
	return w.openBlock(w.blockID + 1)
}

// Write appends p to the current block and advances the offset.
func (w *BlockWriter) Write(p []byte) error {
	if _, err := w.f.Write(p); err != nil {
		return fmt.Errorf("%w: writing block %d: %s", aspaerr.ErrIoError, w.blockID, err)
	}
	w.offset += int64(len(p))
	return nil
}

// Close closes the current block file.
func (w *BlockWriter) Close() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("%w: closing block %d: %s", aspaerr.ErrIoError, w.blockID, err)
	}
	return nil
}
