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
	"fmt"
	"os"
	"runtime"

	"sigs.k8s.io/yaml"

	"github.com/motero2k/aspa/internal/aspaerr"
)

// Config carries every tunable knob of the store, preprocessor and
// query executor. Zero-valued fields are filled in by WithDefaults.
type Config struct {
	OriginAttrs      uint32 `json:"origin_attrs"`
	DestAttrs        uint32 `json:"dest_attrs"`
	OriginBlockBytes int64  `json:"origin_attr_block_bytes"`
	DestBlockBytes   int64  `json:"dest_attr_block_bytes"`
	AccBlockBytes    int64  `json:"acc_block_bytes"`
	WorkerThreads    int    `json:"worker_threads"`
}

// DefaultConfig returns the configuration defaults from §6.4.
func DefaultConfig() Config {
	return Config{
		OriginAttrs:      5000,
		DestAttrs:        2000,
		OriginBlockBytes: 32 * 1024 * 1024,
		DestBlockBytes:   8 * 1024 * 1024,
		AccBlockBytes:    256 * 1024 * 1024,
		WorkerThreads:    0,
	}
}

// WithDefaults returns a copy of c with every zero field replaced by
// its default value.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.OriginAttrs == 0 {
		c.OriginAttrs = d.OriginAttrs
	}
	if c.DestAttrs == 0 {
		c.DestAttrs = d.DestAttrs
	}
	if c.OriginBlockBytes == 0 {
		c.OriginBlockBytes = d.OriginBlockBytes
	}
	if c.DestBlockBytes == 0 {
		c.DestBlockBytes = d.DestBlockBytes
	}
	if c.AccBlockBytes == 0 {
		c.AccBlockBytes = d.AccBlockBytes
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = runtime.NumCPU()
		if c.WorkerThreads < 1 {
			c.WorkerThreads = 1
		}
	}
	return c
}

// LoadConfig reads a YAML configuration file at path and overlays it
// onto the defaults. An empty path returns the defaults. Either way the
// result has passed through WithDefaults, so WorkerThreads is at least 1.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg.WithDefaults(), nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading config %s: %s", aspaerr.ErrIoError, path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config %s: %s", aspaerr.ErrBadArgument, path, err)
	}
	return cfg.WithDefaults(), nil
}
