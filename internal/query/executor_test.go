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

package query

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/motero2k/aspa/internal/preprocess"
	"github.com/motero2k/aspa/internal/rowtable"
	"github.com/motero2k/aspa/internal/store"
)

// buildTestStore assembles a tiny Block Store with a handful of
// origins, destinations and accessibility records:
//
//	origin 1: attrs {1: 1.0, 2: NaN}   -- qualifies for attr 1 only
//	origin 2: attrs {1: NaN, 2: 2.0}   -- qualifies for attr 2 only
//	origin 3: attrs {1: 3.0, 2: 3.0}   -- qualifies for both
//
//	dest 10: attrs {1: 1.0}            -- qualifies for attr 1
//	dest 20: attrs {1: NaN}            -- qualifies for nothing
//
//	accessibility: (1,10) (2,10) (3,10) (3,20)
func buildTestStore(t *testing.T) string {
	t.Helper()
	nan := float32(math.NaN())
	dir := t.TempDir()
	inputDir := filepath.Join(dir, "input")
	outDir := filepath.Join(dir, "store")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	var origins []byte
	origins = appendAttrRow(origins, 1, []float32{1.0, nan})
	origins = appendAttrRow(origins, 2, []float32{nan, 2.0})
	origins = appendAttrRow(origins, 3, []float32{3.0, 3.0})
	if err := os.WriteFile(rowtable.InputPath(inputDir, "origin", "1"), origins, 0o644); err != nil {
		t.Fatal(err)
	}

	var dests []byte
	dests = appendAttrRow(dests, 10, []float32{1.0})
	dests = appendAttrRow(dests, 20, []float32{nan})
	if err := os.WriteFile(rowtable.InputPath(inputDir, "destination", "1"), dests, 0o644); err != nil {
		t.Fatal(err)
	}

	recs := []store.AccessibilityRecord{
		{OriginID: 1, DestinationID: 10, Time: 1, Distance: 1},
		{OriginID: 2, DestinationID: 10, Time: 2, Distance: 2},
		{OriginID: 3, DestinationID: 10, Time: 3, Distance: 3},
		{OriginID: 3, DestinationID: 20, Time: 4, Distance: 4},
	}
	buf := make([]byte, 0, len(recs)*store.AccessibilityRecordSize)
	for _, r := range recs {
		buf = r.Encode(buf)
	}
	if err := os.WriteFile(rowtable.InputPath(inputDir, "accessibility", "1"), buf, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := store.Config{OriginAttrs: 2, DestAttrs: 1, OriginBlockBytes: 1 << 20, DestBlockBytes: 1 << 20, AccBlockBytes: 1 << 20}
	if err := preprocess.Run(cfg, inputDir, "1", outDir, nil); err != nil {
		t.Fatal(err)
	}
	return outDir
}

func appendAttrRow(buf []byte, id uint32, values []float32) []byte {
	var idBuf [4]byte
	store.Native.PutUint32(idBuf[:], id)
	buf = append(buf, idBuf[:]...)
	for _, v := range values {
		var vBuf [4]byte
		store.Native.PutUint32(vBuf[:], math.Float32bits(v))
		buf = append(buf, vBuf[:]...)
	}
	return buf
}

func sortedOriginIDs(recs []store.AccessibilityRecord) []int {
	ids := make([]int, len(recs))
	for i, r := range recs {
		ids[i] = int(r.OriginID)
	}
	sort.Ints(ids)
	return ids
}

func TestRunFiltersByOriginAndDestinationAttrs(t *testing.T) {
	storeDir := buildTestStore(t)

	// requiring attr 1 on both sides: only origin 1 and 3 qualify on
	// the origin side, and only destination 10 qualifies on the
	// destination side. destination 20 is excluded entirely, so its
	// (3,20) record must not appear even though origin 3 qualifies.
	res, err := Run(Request{
		StoreDir:    storeDir,
		OriginAttrs: []uint32{1},
		DestAttrs:   []uint32{1},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := sortedOriginIDs(res.Records)
	want := []int{1, 3}
	if len(got) != len(want) {
		t.Fatalf("got origin ids %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got origin ids %v, want %v", got, want)
		}
	}
}

func TestRunDestinationWithNoQualifyingAttrExcludesAllItsRecords(t *testing.T) {
	storeDir := buildTestStore(t)
	res, err := Run(Request{
		StoreDir:    storeDir,
		OriginAttrs: []uint32{1, 2},
		DestAttrs:   []uint32{1},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res.Records {
		if r.DestinationID == 20 {
			t.Fatal("destination 20 never qualifies on attribute 1 and must be excluded")
		}
	}
}

func TestRunRejectsEmptyAttrLists(t *testing.T) {
	storeDir := buildTestStore(t)
	_, err := Run(Request{StoreDir: storeDir, OriginAttrs: nil, DestAttrs: []uint32{1}})
	if err == nil {
		t.Fatal("expected an error for an empty origin attribute list")
	}
}

func TestRunIsIdempotentAcrossWorkerCounts(t *testing.T) {
	storeDir := buildTestStore(t)
	req := Request{StoreDir: storeDir, OriginAttrs: []uint32{1}, DestAttrs: []uint32{1}}

	oneWorker, err := Run(req)
	if err != nil {
		t.Fatal(err)
	}
	req.WorkerThreads = 8
	manyWorkers, err := Run(req)
	if err != nil {
		t.Fatal(err)
	}

	a := sortedOriginIDs(oneWorker.Records)
	b := sortedOriginIDs(manyWorkers.Records)
	if len(a) != len(b) {
		t.Fatalf("result set size differs across worker counts: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("result sets differ across worker counts: %v vs %v", a, b)
		}
	}
}

func TestWriteResultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.bin")
	records := []store.AccessibilityRecord{
		{OriginID: 1, DestinationID: 2, Time: 3, Distance: 4},
		{OriginID: 5, DestinationID: 6, Time: 7, Distance: 8},
	}
	if err := WriteResult(path, records); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(records)*store.AccessibilityRecordSize {
		t.Fatalf("result file size = %d, want %d", len(data), len(records)*store.AccessibilityRecordSize)
	}
	got0 := store.DecodeAccessibilityRecord(data)
	if got0 != records[0] {
		t.Fatalf("got %+v, want %+v", got0, records[0])
	}
}
