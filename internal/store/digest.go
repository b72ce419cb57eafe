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
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/motero2k/aspa/internal/aspaerr"
)

// Digest hashes the three index files of a Block Store rooted at
// basePath (attributes/origin/index.bin, attributes/destination/index.bin,
// accessibility/index.bin) into a single BLAKE2b-256 hex digest.
//
// It exists purely to let tests and operators check the determinism
// property (two preprocessor runs over identical input produce
// byte-identical index files) without a manual diff; it carries no
// query-correctness meaning.
func Digest(basePath string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", aspaerr.ErrIoError, err)
	}
	paths := []string{
		basePath + "/attributes/origin/index.bin",
		basePath + "/attributes/destination/index.bin",
		basePath + "/accessibility/index.bin",
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", aspaerr.ErrMissingIndex, p)
			}
			return "", fmt.Errorf("%w: opening %s: %s", aspaerr.ErrIoError, p, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("%w: hashing %s: %s", aspaerr.ErrIoError, p, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
