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

// Package aspaerr defines the small error taxonomy shared by every
// package in this module. Every fatal condition raised anywhere in the
// store, preprocessor or query executor wraps one of the sentinels
// below, so callers can classify a failure with errors.Is without
// parsing message text.
package aspaerr

import "errors"

var (
	// ErrBadArgument indicates malformed CLI input: an unparseable
	// attribute list, a percent outside (0, 1], or similar.
	ErrBadArgument = errors.New("bad argument")

	// ErrIoError indicates an open/read/write/mmap/stat failure
	// on a file that is otherwise expected to be well formed.
	ErrIoError = errors.New("i/o error")

	// ErrMissingIndex indicates a required index file is absent
	// or shorter than the fixed-width record it must hold.
	ErrMissingIndex = errors.New("missing index")

	// ErrFormatMismatch indicates an input file size that is not a
	// multiple of its declared row size, or an index entry whose
	// byte range overflows the block file it references.
	ErrFormatMismatch = errors.New("format mismatch")

	// ErrResourceExhausted indicates an allocation failure.
	// Implementations may surface this as ErrIoError instead.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ExitCode maps an error produced by this module to a process exit
// code: 2 for malformed-input errors, 1 for everything else, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrBadArgument) {
		return 2
	}
	return 1
}
