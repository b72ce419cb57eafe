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

// Package store defines the on-disk block layout for the accessibility
// dataset: fixed-width index entries, sparse attribute-value blocks and
// dense accessibility-record blocks, plus the random-access handles
// used to address into them.
//
// Every record in this package is native-endian and naturally packed;
// nothing here is portable across byte orders, by contract.
package store

import "encoding/binary"

// Native is the byte order every record in this package is encoded
// and decoded with. The format makes no byte-order portability claim.
var Native = binary.NativeEndian

const (
	// AttributeIndexEntrySize is the encoded size, in bytes, of an
	// AttributeIndexEntry.
	AttributeIndexEntrySize = 16
	// AttributeValueSize is the encoded size, in bytes, of an
	// AttributeValue.
	AttributeValueSize = 8
	// AccessibilityBlockIndexEntrySize is the encoded size, in
	// bytes, of an AccessibilityBlockIndexEntry.
	AccessibilityBlockIndexEntrySize = 20
	// AccessibilityRecordSize is the encoded size, in bytes, of an
	// AccessibilityRecord.
	AccessibilityRecordSize = 16
)

// AttributeIndexEntry locates one attribute column inside the blocks
// directory of an entity's attribute store. It lives at a fixed slot,
// (attrNumber-1)*AttributeIndexEntrySize, in the entity's index.bin.
type AttributeIndexEntry struct {
	BlockID uint32
	Offset  uint64
	Count   uint32
}

// Encode appends the 16-byte encoding of e to dst and returns the
// extended slice.
func (e AttributeIndexEntry) Encode(dst []byte) []byte {
	var buf [AttributeIndexEntrySize]byte
	Native.PutUint32(buf[0:4], e.BlockID)
	Native.PutUint64(buf[4:12], e.Offset)
	Native.PutUint32(buf[12:16], e.Count)
	return append(dst, buf[:]...)
}

// DecodeAttributeIndexEntry decodes a 16-byte AttributeIndexEntry from
// the front of src. src must be at least AttributeIndexEntrySize bytes.
func DecodeAttributeIndexEntry(src []byte) AttributeIndexEntry {
	_ = src[AttributeIndexEntrySize-1]
	return AttributeIndexEntry{
		BlockID: Native.Uint32(src[0:4]),
		Offset:  Native.Uint64(src[4:12]),
		Count:   Native.Uint32(src[12:16]),
	}
}

// End returns the byte offset one past the end of the range this
// entry describes within its block file.
func (e AttributeIndexEntry) End() uint64 {
	return e.Offset + uint64(e.Count)*AttributeValueSize
}

// AttributeValue is one sparse (id, value) pair within an attribute
// column's stored range. NaN values are never materialized as an
// AttributeValue.
type AttributeValue struct {
	ID    uint32
	Value float32
}

// Encode appends the 8-byte encoding of v to dst and returns the
// extended slice.
func (v AttributeValue) Encode(dst []byte) []byte {
	var buf [AttributeValueSize]byte
	Native.PutUint32(buf[0:4], v.ID)
	Native.PutUint32(buf[4:8], float32bits(v.Value))
	return append(dst, buf[:]...)
}

// DecodeAttributeValue decodes an 8-byte AttributeValue from the front
// of src. src must be at least AttributeValueSize bytes.
func DecodeAttributeValue(src []byte) AttributeValue {
	_ = src[AttributeValueSize-1]
	return AttributeValue{
		ID:    Native.Uint32(src[0:4]),
		Value: float32frombits(Native.Uint32(src[4:8])),
	}
}

// AccessibilityBlockIndexEntry locates one destination's contiguous
// run of accessibility records inside the accessibility blocks
// directory. Each destination_id appears in exactly one entry.
type AccessibilityBlockIndexEntry struct {
	DestinationID uint32
	BlockID       uint32
	Offset        uint64
	Count         uint32
}

// Encode appends the 20-byte encoding of e to dst and returns the
// extended slice.
func (e AccessibilityBlockIndexEntry) Encode(dst []byte) []byte {
	var buf [AccessibilityBlockIndexEntrySize]byte
	Native.PutUint32(buf[0:4], e.DestinationID)
	Native.PutUint32(buf[4:8], e.BlockID)
	Native.PutUint64(buf[8:16], e.Offset)
	Native.PutUint32(buf[16:20], e.Count)
	return append(dst, buf[:]...)
}

// DecodeAccessibilityBlockIndexEntry decodes a 20-byte
// AccessibilityBlockIndexEntry from the front of src. src must be at
// least AccessibilityBlockIndexEntrySize bytes.
func DecodeAccessibilityBlockIndexEntry(src []byte) AccessibilityBlockIndexEntry {
	_ = src[AccessibilityBlockIndexEntrySize-1]
	return AccessibilityBlockIndexEntry{
		DestinationID: Native.Uint32(src[0:4]),
		BlockID:       Native.Uint32(src[4:8]),
		Offset:        Native.Uint64(src[8:16]),
		Count:         Native.Uint32(src[16:20]),
	}
}

// End returns the byte offset one past the end of the range this
// entry describes within its block file.
func (e AccessibilityBlockIndexEntry) End() uint64 {
	return e.Offset + uint64(e.Count)*AccessibilityRecordSize
}

// AccessibilityRecord is one origin-destination travel-time/distance
// pair, as stored on disk (and as produced by a query).
type AccessibilityRecord struct {
	OriginID      uint32
	DestinationID uint32
	Time          float32
	Distance      float32
}

// Encode appends the 16-byte encoding of r to dst and returns the
// extended slice.
func (r AccessibilityRecord) Encode(dst []byte) []byte {
	var buf [AccessibilityRecordSize]byte
	Native.PutUint32(buf[0:4], r.OriginID)
	Native.PutUint32(buf[4:8], r.DestinationID)
	Native.PutUint32(buf[8:12], float32bits(r.Time))
	Native.PutUint32(buf[12:16], float32bits(r.Distance))
	return append(dst, buf[:]...)
}

// DecodeAccessibilityRecord decodes a 16-byte AccessibilityRecord from
// the front of src. src must be at least AccessibilityRecordSize bytes.
func DecodeAccessibilityRecord(src []byte) AccessibilityRecord {
	_ = src[AccessibilityRecordSize-1]
	return AccessibilityRecord{
		OriginID:      Native.Uint32(src[0:4]),
		DestinationID: Native.Uint32(src[4:8]),
		Time:          float32frombits(Native.Uint32(src[8:12])),
		Distance:      float32frombits(Native.Uint32(src[12:16])),
	}
}
