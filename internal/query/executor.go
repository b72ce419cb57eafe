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

// Package query implements the parallel filter executor: given an
// origin-attribute list and a destination-attribute list, it returns
// the accessibility records whose origin and destination both have a
// value for every requested attribute, loading only the index and
// block data the query actually touches via memory-mapped I/O.
package query

import (
	"fmt"
	"os"
	"sync"

	"github.com/motero2k/aspa/internal/aspaerr"
	"github.com/motero2k/aspa/internal/idset"
	"github.com/motero2k/aspa/internal/store"
)

// Request describes one filter query.
type Request struct {
	StoreDir      string
	OriginAttrs   []uint32
	DestAttrs     []uint32
	WorkerThreads int
}

// Result is the outcome of running a query: the matching records plus
// the number of worker goroutines actually used.
type Result struct {
	Records []store.AccessibilityRecord
	Workers int
}

// loadIDSet reads the AttributeIndexEntry for attrNumber from the
// attribute store rooted at basePath, maps the referenced block, and
// materializes the set of non-null ids. Only presence is kept; the
// float values themselves are discarded.
func loadIDSet(basePath string, attrNumber uint32) (*idset.Set, error) {
	idx, err := store.OpenAttributeIndex(basePath)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	entry, err := idx.Get(attrNumber)
	if err != nil {
		return nil, err
	}
	if entry.Count == 0 {
		return idset.New(0), nil
	}

	blk, err := store.MapBlock(basePath, entry.BlockID)
	if err != nil {
		return nil, err
	}
	defer blk.Close()

	data := blk.Bytes()
	if entry.End() > uint64(len(data)) {
		return nil, fmt.Errorf("%w: attribute %d index entry [%d,%d) overflows block %d (%d bytes)",
			aspaerr.ErrFormatMismatch, attrNumber, entry.Offset, entry.End(), entry.BlockID, len(data))
	}

	set := idset.New(int(entry.Count))
	base := data[entry.Offset:]
	for i := uint32(0); i < entry.Count; i++ {
		v := store.DecodeAttributeValue(base[i*store.AttributeValueSize:])
		set.Add(v.ID)
	}
	return set, nil
}

// loadAttrSets loads one id set per requested attribute number and
// intersects them, implementing the "non-null in every listed
// attribute" semantics of §4.3 step 1-2.
func loadAttrSets(basePath string, attrNumbers []uint32) (*idset.Set, error) {
	if len(attrNumbers) == 0 {
		return idset.New(0), nil
	}
	sets := make([]*idset.Set, len(attrNumbers))
	for i, a := range attrNumbers {
		s, err := loadIDSet(basePath, a)
		if err != nil {
			return nil, err
		}
		sets[i] = s
	}
	return idset.Intersect(sets), nil
}

// Run executes req against the Block Store rooted at req.StoreDir and
// returns the filtered accessibility records. The result order across
// worker goroutines is unspecified; within one goroutine, records are
// emitted in on-disk order.
func Run(req Request) (Result, error) {
	if len(req.OriginAttrs) == 0 || len(req.DestAttrs) == 0 {
		return Result{}, fmt.Errorf("%w: both origin and destination attribute lists must be non-empty (an empty list would vacuously match everything)", aspaerr.ErrBadArgument)
	}

	originBase := req.StoreDir + "/attributes/origin"
	destBase := req.StoreDir + "/attributes/destination"
	accBase := req.StoreDir + "/accessibility"

	originSet, err := loadAttrSets(originBase, req.OriginAttrs)
	if err != nil {
		return Result{}, err
	}
	destSet, err := loadAttrSets(destBase, req.DestAttrs)
	if err != nil {
		return Result{}, err
	}

	accIdx, err := store.OpenAccessibilityIndex(accBase)
	if err != nil {
		return Result{}, err
	}

	selectedDests := destSet.Items()

	workers := req.WorkerThreads
	if workers < 1 {
		workers = 1
	}
	if workers > len(selectedDests) && len(selectedDests) > 0 {
		workers = len(selectedDests)
	}
	if workers < 1 {
		workers = 1
	}

	chunks := partition(selectedDests, workers)
	results := make([][]store.AccessibilityRecord, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for w := range chunks {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out, err := runWorker(accBase, accIdx, originSet, chunks[w])
			if err != nil {
				errs[w] = err
				return
			}
			results[w] = out
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return Result{}, err
		}
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	merged := make([]store.AccessibilityRecord, 0, total)
	for _, r := range results {
		merged = append(merged, r...)
	}
	return Result{Records: merged, Workers: len(chunks)}, nil
}

// partition splits ids into at most n roughly-equal contiguous
// chunks, one per worker.
func partition(ids []uint32, n int) [][]uint32 {
	if len(ids) == 0 {
		return nil
	}
	if n > len(ids) {
		n = len(ids)
	}
	chunkSize := (len(ids) + n - 1) / n
	var chunks [][]uint32
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// runWorker processes one worker's assigned destination ids,
// mapping each destination's accessibility block and keeping the
// records whose origin_id is present in originSet.
func runWorker(accBase string, accIdx *store.AccessibilityIndex, originSet *idset.Set, destIDs []uint32) ([]store.AccessibilityRecord, error) {
	var local []store.AccessibilityRecord
	var curBlockID uint32
	var curBlock *store.Block
	defer func() {
		if curBlock != nil {
			curBlock.Close()
		}
	}()

	for _, destID := range destIDs {
		entry, ok := accIdx.Lookup(destID)
		if !ok {
			// requested but absent from the index: vacuous truth
			continue
		}
		if curBlock == nil || curBlockID != entry.BlockID {
			if curBlock != nil {
				curBlock.Close()
			}
			blk, err := store.MapBlock(accBase, entry.BlockID)
			if err != nil {
				return nil, err
			}
			curBlock = blk
			curBlockID = entry.BlockID
		}

		data := curBlock.Bytes()
		if entry.End() > uint64(len(data)) {
			return nil, fmt.Errorf("%w: accessibility index entry for destination %d [%d,%d) overflows block %d (%d bytes)",
				aspaerr.ErrFormatMismatch, destID, entry.Offset, entry.End(), entry.BlockID, len(data))
		}
		base := data[entry.Offset:]
		for i := uint32(0); i < entry.Count; i++ {
			r := store.DecodeAccessibilityRecord(base[i*store.AccessibilityRecordSize:])
			if originSet.Has(r.OriginID) {
				local = append(local, r)
			}
		}
	}
	return local, nil
}

// WriteResult writes records as a flat sequence of 16-byte
// AccessibilityRecord values to path, per §6.3. No partial file is
// left in place on failure: the output is written to a temporary file
// in the same directory and renamed into place once complete.
func WriteResult(path string, records []store.AccessibilityRecord) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %s", aspaerr.ErrIoError, tmp, err)
	}
	buf := make([]byte, 0, 64*1024)
	for _, r := range records {
		buf = r.Encode(buf)
		if len(buf) >= 32*1024 {
			if _, err := f.Write(buf); err != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("%w: writing %s: %s", aspaerr.ErrIoError, tmp, err)
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if _, err := f.Write(buf); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("%w: writing %s: %s", aspaerr.ErrIoError, tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %s", aspaerr.ErrIoError, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming %s to %s: %s", aspaerr.ErrIoError, tmp, path, err)
	}
	return nil
}
