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

func TestDefaultConfigMatchesSpec(t *testing.T) {
	d := DefaultConfig()
	if d.OriginAttrs != 5000 || d.DestAttrs != 2000 {
		t.Fatalf("unexpected attr counts: %+v", d)
	}
	if d.OriginBlockBytes != 32*1024*1024 {
		t.Fatalf("OriginBlockBytes = %d, want 32MiB", d.OriginBlockBytes)
	}
	if d.DestBlockBytes != 8*1024*1024 {
		t.Fatalf("DestBlockBytes = %d, want 8MiB", d.DestBlockBytes)
	}
	if d.AccBlockBytes != 256*1024*1024 {
		t.Fatalf("AccBlockBytes = %d, want 256MiB", d.AccBlockBytes)
	}
}

func TestLoadConfigOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yaml := "origin_attrs: 10\nworker_threads: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OriginAttrs != 10 {
		t.Fatalf("OriginAttrs = %d, want 10", cfg.OriginAttrs)
	}
	if cfg.WorkerThreads != 4 {
		t.Fatalf("WorkerThreads = %d, want 4", cfg.WorkerThreads)
	}
	// fields absent from the override file keep their defaults
	if cfg.DestAttrs != 2000 {
		t.Fatalf("DestAttrs = %d, want default 2000", cfg.DestAttrs)
	}
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerThreads < 1 {
		t.Fatalf("WorkerThreads = %d, want >= 1", cfg.WorkerThreads)
	}
}
