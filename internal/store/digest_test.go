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
	"os"
	"path/filepath"
	"testing"
)

func writeIndexFiles(t *testing.T, root string, content []byte) {
	t.Helper()
	dirs := []string{
		filepath.Join(root, "attributes", "origin"),
		filepath.Join(root, "attributes", "destination"),
		filepath.Join(root, "accessibility"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(d, "index.bin"), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDigestDeterministic(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeIndexFiles(t, dirA, []byte("same bytes"))
	writeIndexFiles(t, dirB, []byte("same bytes"))

	a, err := Digest(dirA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("digests of identical index files differ: %s vs %s", a, b)
	}
}

func TestDigestChangesWithContent(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeIndexFiles(t, dirA, []byte("content one"))
	writeIndexFiles(t, dirB, []byte("content two"))

	a, err := Digest(dirA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected different digests for different index contents")
	}
}

func TestDigestMissingIndex(t *testing.T) {
	dir := t.TempDir()
	if _, err := Digest(dir); err == nil {
		t.Fatal("expected an error when index files are absent")
	}
}
