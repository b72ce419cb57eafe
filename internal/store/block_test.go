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
	"bytes"
	"os"
	"testing"
)

func TestMapBlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir+"/blocks", 0o755); err != nil {
		t.Fatal(err)
	}
	want := []byte("some block payload bytes")
	if err := os.WriteFile(BlockPath(dir, 3), want, 0o644); err != nil {
		t.Fatal(err)
	}

	blk, err := MapBlock(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blk.Bytes(), want) {
		t.Fatalf("mapped bytes = %q, want %q", blk.Bytes(), want)
	}
	if err := blk.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMapBlockMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := MapBlock(dir, 0); err == nil {
		t.Fatal("expected error for missing block file")
	}
}

func TestMapBlockEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir+"/blocks", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(BlockPath(dir, 0), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	blk, err := MapBlock(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer blk.Close()
	if len(blk.Bytes()) != 0 {
		t.Fatalf("expected empty mapping, got %d bytes", len(blk.Bytes()))
	}
}
