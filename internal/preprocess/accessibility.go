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

package preprocess

import (
	"fmt"
	"os"
	"sort"

	"github.com/motero2k/aspa/internal/rowtable"
	"github.com/motero2k/aspa/internal/store"
)

// BuildAccessibilityStore reads the row-major accessibility table at
// inputPath, stable-sorts it by destination_id, and streams it into
// blocks rooted at basePath, emitting one AccessibilityBlockIndexEntry
// per destination run.
//
// Block rotation is only ever considered at a destination-run
// boundary (between the last record of one destination and the first
// of the next), never in the middle of a run: closing a block mid-run
// would force the same destination_id to reappear in a second index
// entry in the following block, breaking the "one entry per
// destination" invariant the query executor relies on. A new block is
// started at the first run boundary after the current block has
// reached targetBlockBytes, so a block ends up larger than the target
// by whatever part of its last run crosses it; a run is always
// written whole into a single block.
func BuildAccessibilityStore(inputPath, basePath string, targetBlockBytes int64) error {
	table, err := rowtable.LoadAccessibilityTable(inputPath)
	if err != nil {
		return err
	}

	recs := table.Records
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].DestinationID < recs[j].DestinationID
	})

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", basePath, err)
	}
	idx, err := store.CreateAccessibilityIndex(basePath)
	if err != nil {
		return err
	}
	defer idx.Close()

	bw, err := store.NewBlockWriter(basePath, targetBlockBytes)
	if err != nil {
		return err
	}
	defer bw.Close()

	seen := make(map[uint32]struct{})

	runOpen := false
	var curDest uint32
	var runStart int64
	var runCount uint32

	closeRun := func() error {
		if !runOpen {
			return nil
		}
		if _, dup := seen[curDest]; dup {
			return fmt.Errorf("destination_id %d produced two index entries (input not contiguous by destination after sort)", curDest)
		}
		seen[curDest] = struct{}{}
		if err := idx.Write(store.AccessibilityBlockIndexEntry{
			DestinationID: curDest,
			BlockID:       bw.BlockID(),
			Offset:        uint64(runStart),
			Count:         runCount,
		}); err != nil {
			return err
		}
		runOpen = false
		return nil
	}

	for i := range recs {
		r := recs[i]
		if !runOpen || r.DestinationID != curDest {
			if err := closeRun(); err != nil {
				return err
			}
			// Only at a run boundary do we consider rotating:
			// splitting a destination's run across blocks is
			// forbidden, so the size check never fires mid-run.
			if bw.Offset() > 0 && bw.Offset() >= targetBlockBytes {
				if err := bw.Rotate(); err != nil {
					return err
				}
			}
			curDest = r.DestinationID
			runStart = bw.Offset()
			runCount = 0
			runOpen = true
		}
		buf := r.Encode(make([]byte, 0, store.AccessibilityRecordSize))
		if err := bw.Write(buf); err != nil {
			return err
		}
		runCount++
	}
	if err := closeRun(); err != nil {
		return err
	}
	return nil
}
