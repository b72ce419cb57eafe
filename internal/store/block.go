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
)

// Block is a scoped read-only mapping of one block file. Callers must
// call Close when done to release the mapping.
type Block struct {
	data []byte
}

// Bytes returns the mapped file contents. The slice is only valid
// until Close is called.
func (b *Block) Bytes() []byte { return b.data }

// Close unmaps the block.
func (b *Block) Close() error {
	if b.data == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return unmap(data)
}

// BlockPath returns the path of block block_<id>.bin under the
// "blocks" subdirectory of basePath.
func BlockPath(basePath string, blockID uint32) string {
	return fmt.Sprintf("%s/blocks/block_%d.bin", basePath, blockID)
}

// MapBlock memory-maps the block file block_<blockID>.bin under
// basePath/blocks and returns a scoped handle to it. The mapping must
// be released with Close on every exit path.
func MapBlock(basePath string, blockID uint32) (*Block, error) {
	data, err := mmap(BlockPath(basePath, blockID))
	if err != nil {
		return nil, err
	}
	return &Block{data: data}, nil
}
