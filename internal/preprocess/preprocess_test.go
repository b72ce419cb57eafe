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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/motero2k/aspa/internal/rowtable"
	"github.com/motero2k/aspa/internal/store"
)

func TestRunBuildsCompleteStore(t *testing.T) {
	nan := float32(math.NaN())
	dir := t.TempDir()
	inputDir := filepath.Join(dir, "input")
	outDir := filepath.Join(dir, "store")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	var origins []byte
	origins = writeAttrRow(origins, 1, []float32{1.0, nan})
	origins = writeAttrRow(origins, 2, []float32{nan, 2.0})
	if err := os.WriteFile(rowtable.InputPath(inputDir, "origin", "1"), origins, 0o644); err != nil {
		t.Fatal(err)
	}

	var dests []byte
	dests = writeAttrRow(dests, 100, []float32{5.0})
	if err := os.WriteFile(rowtable.InputPath(inputDir, "destination", "1"), dests, 0o644); err != nil {
		t.Fatal(err)
	}

	acc := writeAccRows([]store.AccessibilityRecord{
		{OriginID: 1, DestinationID: 100, Time: 10, Distance: 20},
	})
	if err := os.WriteFile(rowtable.InputPath(inputDir, "accessibility", "1"), acc, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := store.Config{OriginAttrs: 2, DestAttrs: 1, OriginBlockBytes: 1 << 20, DestBlockBytes: 1 << 20, AccBlockBytes: 1 << 20}
	var logged []string
	err := Run(cfg, inputDir, "1", outDir, func(format string, args ...any) {
		logged = append(logged, format)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) == 0 {
		t.Fatal("expected progress log lines")
	}

	meta, err := store.ReadMetadata(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Percent != "1" || meta.OriginAttrs != 2 || meta.DestAttrs != 1 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	originIdx, err := store.OpenAttributeIndex(outDir + "/attributes/origin")
	if err != nil {
		t.Fatal(err)
	}
	defer originIdx.Close()
	if originIdx.NumEntries() != 2 {
		t.Fatalf("origin index entries = %d, want 2", originIdx.NumEntries())
	}

	accIdx, err := store.OpenAccessibilityIndex(outDir + "/accessibility")
	if err != nil {
		t.Fatal(err)
	}
	if accIdx.Len() != 1 {
		t.Fatalf("accessibility index len = %d, want 1", accIdx.Len())
	}
}

func TestRunReportsFirstPipelineError(t *testing.T) {
	dir := t.TempDir()
	inputDir := filepath.Join(dir, "input")
	outDir := filepath.Join(dir, "store")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// deliberately leave all three input files missing.
	cfg := store.DefaultConfig()
	if err := Run(cfg, inputDir, "1", outDir, nil); err == nil {
		t.Fatal("expected an error when input files are missing")
	}
}
