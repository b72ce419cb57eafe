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

import "testing"

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewMetadata("1", DefaultConfig())
	if m.ID == "" {
		t.Fatal("expected a non-empty store id")
	}
	if err := WriteMetadata(dir, m); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMetadata(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != m.ID || got.Percent != "1" || got.OriginAttrs != 5000 {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestMetadataMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadMetadata(dir); err == nil {
		t.Fatal("expected error reading metadata from empty dir")
	}
}
