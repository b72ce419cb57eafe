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

//go:build !linux && !darwin

package store

import (
	"fmt"
	"os"

	"github.com/motero2k/aspa/internal/aspaerr"
)

// mmap on platforms other than linux and darwin falls back to a plain
// read of the whole file. It preserves the Block contract (a
// read-only byte view released on Close) without the address-space
// sharing an actual mapping would give.
func mmap(fp string) ([]byte, error) {
	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: block file missing: %s", aspaerr.ErrIoError, fp)
		}
		return nil, fmt.Errorf("%w: reading %s: %s", aspaerr.ErrIoError, fp, err)
	}
	return data, nil
}

func unmap(mem []byte) error {
	return nil
}
