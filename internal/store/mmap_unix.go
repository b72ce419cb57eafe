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

//go:build linux || darwin

package store

import (
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/motero2k/aspa/internal/aspaerr"
)

// mmap maps the entirety of the file at fp read-only, PROT_READ /
// MAP_PRIVATE, mirroring how the reference query executor maps block
// files: one mapping per block, scoped to the caller.
func mmap(fp string) ([]byte, error) {
	f, err := os.Open(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: block file missing: %s", aspaerr.ErrIoError, fp)
		}
		return nil, fmt.Errorf("%w: opening %s: %s", aspaerr.ErrIoError, fp, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %s", aspaerr.ErrIoError, fp, err)
	}
	size := info.Size()
	if size == 0 {
		// zero-length mappings are not portable; an empty block
		// file never needs to be read, so hand back an empty slice
		return []byte{}, nil
	}
	if size > math.MaxInt {
		return nil, fmt.Errorf("%w: %s size %d exceeds max int", aspaerr.ErrIoError, fp, size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %s", aspaerr.ErrIoError, fp, err)
	}
	return mem, nil
}

func unmap(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("%w: munmap: %s", aspaerr.ErrIoError, err)
	}
	return nil
}
