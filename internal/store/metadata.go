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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/motero2k/aspa/internal/aspaerr"
)

// Metadata describes a completed Block Store. It is written once, by
// the Preprocessor, after both attribute stores and the accessibility
// store have been written and closed (no fsync is issued). Its presence means preprocessing
// completed; its absence or content is never consulted by the Query
// Executor for correctness, only the per-entity index.bin files are
// load-bearing there.
type Metadata struct {
	ID                   string    `json:"id"`
	CreatedAt            time.Time `json:"created_at"`
	Percent              string    `json:"percent"`
	OriginAttrs          uint32    `json:"origin_attrs"`
	DestAttrs            uint32    `json:"dest_attrs"`
	OriginAttrBlockBytes int64     `json:"origin_attr_block_bytes"`
	DestAttrBlockBytes   int64     `json:"dest_attr_block_bytes"`
	AccBlockBytes        int64     `json:"acc_block_bytes"`
}

// NewMetadata builds a fresh Metadata stamped with a new store id and
// the current time.
func NewMetadata(percent string, cfg Config) Metadata {
	return Metadata{
		ID:                   uuid.New().String(),
		CreatedAt:            time.Now().UTC(),
		Percent:              percent,
		OriginAttrs:          cfg.OriginAttrs,
		DestAttrs:            cfg.DestAttrs,
		OriginAttrBlockBytes: cfg.OriginBlockBytes,
		DestAttrBlockBytes:   cfg.DestBlockBytes,
		AccBlockBytes:        cfg.AccBlockBytes,
	}
}

// WriteMetadata writes m as metadata.json at the root of the store.
func WriteMetadata(basePath string, m Metadata) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %s", aspaerr.ErrIoError, err)
	}
	path := basePath + "/metadata.json"
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %s", aspaerr.ErrIoError, path, err)
	}
	return nil
}

// ReadMetadata reads metadata.json from the root of the store.
func ReadMetadata(basePath string) (Metadata, error) {
	path := basePath + "/metadata.json"
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, fmt.Errorf("%w: %s", aspaerr.ErrMissingIndex, path)
		}
		return Metadata{}, fmt.Errorf("%w: reading %s: %s", aspaerr.ErrIoError, path, err)
	}
	var m Metadata
	if err := json.Unmarshal(buf, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: parsing %s: %s", aspaerr.ErrFormatMismatch, path, err)
	}
	return m, nil
}
