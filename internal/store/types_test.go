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

func TestAttributeIndexEntryRoundTrip(t *testing.T) {
	e := AttributeIndexEntry{BlockID: 7, Offset: 0x1234567890, Count: 42}
	buf := e.Encode(nil)
	if len(buf) != AttributeIndexEntrySize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AttributeIndexEntrySize)
	}
	got := DecodeAttributeIndexEntry(buf)
	if got != e {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
	if got.End() != e.Offset+uint64(e.Count)*AttributeValueSize {
		t.Fatalf("End() = %d, want %d", got.End(), e.Offset+uint64(e.Count)*AttributeValueSize)
	}
}

func TestAttributeValueRoundTrip(t *testing.T) {
	v := AttributeValue{ID: 123456, Value: 3.14159}
	buf := v.Encode(nil)
	if len(buf) != AttributeValueSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AttributeValueSize)
	}
	got := DecodeAttributeValue(buf)
	if got != v {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestAccessibilityBlockIndexEntryRoundTrip(t *testing.T) {
	e := AccessibilityBlockIndexEntry{DestinationID: 9, BlockID: 3, Offset: 1 << 20, Count: 1000}
	buf := e.Encode(nil)
	if len(buf) != AccessibilityBlockIndexEntrySize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AccessibilityBlockIndexEntrySize)
	}
	got := DecodeAccessibilityBlockIndexEntry(buf)
	if got != e {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestAccessibilityRecordRoundTrip(t *testing.T) {
	r := AccessibilityRecord{OriginID: 1, DestinationID: 2, Time: 12.5, Distance: 99.75}
	buf := r.Encode(nil)
	if len(buf) != AccessibilityRecordSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), AccessibilityRecordSize)
	}
	got := DecodeAccessibilityRecord(buf)
	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestDiagonalZeroedRecord(t *testing.T) {
	r := AccessibilityRecord{OriginID: 5, DestinationID: 5, Time: 0, Distance: 0}
	buf := r.Encode(nil)
	got := DecodeAccessibilityRecord(buf)
	if got.Time != 0 || got.Distance != 0 {
		t.Fatalf("expected zeroed diagonal record, got %+v", got)
	}
}
