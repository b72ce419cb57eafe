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
	"sync"

	"github.com/motero2k/aspa/internal/rowtable"
	"github.com/motero2k/aspa/internal/store"
)

// Logf receives progress lines from Run; implementations may route
// them to stderr or discard them. A nil Logf disables logging.
type Logf func(format string, args ...any)

// Run builds a complete Block Store at outDir from the row-major input
// tables in inputDir for the given percentage token. The three
// pipelines (origin attributes, destination attributes,
// accessibility) run concurrently on independent goroutines and are
// joined at the end. Once all three have finished or failed, the error
// of the first failed pipeline in the order origin, destination,
// accessibility is returned. Partial output on
// failure is not cleaned up, matching §4.2.3.
func Run(cfg store.Config, inputDir, percent, outDir string, logf Logf) error {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	cfg = cfg.WithDefaults()

	dirs := []string{
		outDir + "/attributes/origin/blocks",
		outDir + "/attributes/destination/blocks",
		outDir + "/accessibility/blocks",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}

	jobs := []struct {
		name string
		run  func() error
	}{
		{
			name: "origin attributes",
			run: func() error {
				in := rowtable.InputPath(inputDir, "origin", percent)
				return BuildAttributeStore(in, outDir+"/attributes/origin", cfg.OriginAttrs, cfg.OriginBlockBytes)
			},
		},
		{
			name: "destination attributes",
			run: func() error {
				in := rowtable.InputPath(inputDir, "destination", percent)
				return BuildAttributeStore(in, outDir+"/attributes/destination", cfg.DestAttrs, cfg.DestBlockBytes)
			},
		},
		{
			name: "accessibility",
			run: func() error {
				in := rowtable.InputPath(inputDir, "accessibility", percent)
				return BuildAccessibilityStore(in, outDir+"/accessibility", cfg.AccBlockBytes)
			},
		},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, name string, run func() error) {
			defer wg.Done()
			logf("preprocess: starting %s pipeline", name)
			if err := run(); err != nil {
				errs[i] = fmt.Errorf("%s pipeline: %w", name, err)
				return
			}
			logf("preprocess: %s pipeline done", name)
		}(i, j.name, j.run)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	meta := store.NewMetadata(percent, cfg)
	if err := store.WriteMetadata(outDir, meta); err != nil {
		return err
	}
	logf("preprocess: store %s ready at %s", meta.ID, outDir)
	return nil
}
