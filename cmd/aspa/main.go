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

// Command aspa builds and queries the accessibility Block Store.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/motero2k/aspa/internal/aspaerr"
	"github.com/motero2k/aspa/internal/preprocess"
	"github.com/motero2k/aspa/internal/query"
	"github.com/motero2k/aspa/internal/store"
)

var (
	dashv      bool
	dashConfig string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose progress logging")
	flag.StringVar(&dashConfig, "config", "", "optional YAML config file overriding the §6.4 defaults")
}

func logf(f string, args ...interface{}) {
	if len(f) == 0 || f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "aspa: %s\n", err)
	os.Exit(aspaerr.ExitCode(err))
}

// percentToken converts a fractional percent in (0, 1] (e.g. 0.01) to
// the integer percentage token embedded in input/output filenames
// (e.g. "1").
func percentToken(s string) (string, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f > 1 {
		return "", fmt.Errorf("%w: percent must be a number in (0, 1], got %q", aspaerr.ErrBadArgument, s)
	}
	return strconv.Itoa(int(f*100 + 0.5)), nil
}

// parseAttrList parses a comma-separated list of attribute references,
// each either a raw integer ("42") or an "att<N>" name ("att42").
func parseAttrList(s string) ([]uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: attribute list must not be empty", aspaerr.ErrBadArgument)
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "att")
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid attribute reference %q", aspaerr.ErrBadArgument, p)
		}
		out = append(out, uint32(n))
	}
	return out, nil
}

func runPreprocess(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: usage: aspa [-config cfg.yaml] preprocess <input_dir> <percent> <output_dir>", aspaerr.ErrBadArgument)
	}
	cfg, err := store.LoadConfig(dashConfig)
	if err != nil {
		return err
	}
	token, err := percentToken(args[1])
	if err != nil {
		return err
	}
	lf := preprocess.Logf(func(string, ...any) {})
	if dashv {
		lf = func(f string, a ...any) { logf(f, a...) }
	}
	return preprocess.Run(cfg, args[0], token, args[2], lf)
}

func runQuery(args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("%w: usage: aspa [-config cfg.yaml] query <store_dir> <percent> <origin_attrs> <dest_attrs> <result_path>", aspaerr.ErrBadArgument)
	}
	cfg, err := store.LoadConfig(dashConfig)
	if err != nil {
		return err
	}
	if _, err := percentToken(args[1]); err != nil {
		return err
	}
	originAttrs, err := parseAttrList(args[2])
	if err != nil {
		return err
	}
	destAttrs, err := parseAttrList(args[3])
	if err != nil {
		return err
	}
	result, err := query.Run(query.Request{
		StoreDir:      args[0],
		OriginAttrs:   originAttrs,
		DestAttrs:     destAttrs,
		WorkerThreads: cfg.WorkerThreads,
	})
	if err != nil {
		return err
	}
	if dashv {
		logf("query: %d records from %d workers", len(result.Records), result.Workers)
	}
	return query.WriteResult(args[4], result.Records)
}

func runDigest(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aspa digest <store_dir>", aspaerr.ErrBadArgument)
	}
	digest, err := store.Digest(args[0])
	if err != nil {
		return err
	}
	fmt.Println(digest)
	return nil
}

func runInspect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: aspa inspect <store_dir>", aspaerr.ErrBadArgument)
	}
	storeDir := args[0]
	for _, entity := range []string{"origin", "destination"} {
		base := storeDir + "/attributes/" + entity
		idx, err := store.OpenAttributeIndex(base)
		if err != nil {
			return err
		}
		n := idx.NumEntries()
		var total uint64
		blocks := make(map[uint32]struct{})
		for a := uint32(1); a <= n; a++ {
			e, err := idx.Get(a)
			if err != nil {
				idx.Close()
				return err
			}
			total += uint64(e.Count)
			blocks[e.BlockID] = struct{}{}
		}
		idx.Close()
		fmt.Printf("%s: %d attribute columns, %d indexed values, %d block files\n", entity, n, total, len(blocks))
	}
	accIdx, err := store.OpenAccessibilityIndex(storeDir + "/accessibility")
	if err != nil {
		return err
	}
	fmt.Printf("accessibility: %d destinations indexed\n", accIdx.Len())
	if meta, err := store.ReadMetadata(storeDir); err == nil {
		fmt.Printf("store id: %s (created %s)\n", meta.ID, meta.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [-config cfg.yaml] preprocess <input_dir> <percent> <output_dir>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s [-config cfg.yaml] query <store_dir> <percent> <origin_attrs> <dest_attrs> <result_path>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s digest <store_dir>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s inspect <store_dir>\n", os.Args[0])
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "preprocess":
		err = runPreprocess(args[1:])
	case "query":
		err = runQuery(args[1:])
	case "digest":
		err = runDigest(args[1:])
	case "inspect":
		err = runInspect(args[1:])
	default:
		err = fmt.Errorf("%w: unknown command %q", aspaerr.ErrBadArgument, args[0])
	}
	if err != nil {
		exit(err)
	}
}
