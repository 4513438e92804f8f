/*
Copyright © 2023 the wrfcf authors.
This file is part of wrfcf.

wrfcf is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

wrfcf is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with wrfcf.  If not, see <http://www.gnu.org/licenses/>.
*/

package wrfcf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrDestaggerNotImplemented is returned when destaggering is requested.
// Destaggering interacts badly with the raw staggered variables the base
// diagnostics consume, so it is rejected outright rather than applied
// partially.
var ErrDestaggerNotImplemented = errors.New("wrfcf: destaggering is not implemented")

// Options controls how a WRF file is opened and cleaned up.
type Options struct {
	// MaskAndScale applies the CF packing attributes (scale_factor,
	// add_offset, _FillValue) when reading.
	MaskAndScale bool

	// DecodeTimes decodes byte-string timestamps into temporal values.
	DecodeTimes bool

	// ConcatCharacters joins character arrays along their trailing
	// string-length dimension into byte-string records.
	ConcatCharacters bool

	// DecodeCoords runs the coordinate cleanup: coordinate promotion,
	// collapse of time-replicated coordinate fields, and attachment of
	// the projected horizontal grid.
	DecodeCoords bool

	// DropVariables names variables to omit when reading.
	DropVariables []string

	// Group selects a group within a NetCDF-4 file. Empty means the
	// root group.
	Group string

	// Mode is the file access mode. Only read access ("" or "r") is
	// supported.
	Mode string

	// Format restricts the accepted on-disk format: "" (detect),
	// "classic", or "netcdf4".
	Format string

	// Destagger requests interpolation of staggered variables to cell
	// centers. Not implemented; Open fails when set.
	Destagger bool

	// DropDiagnosticOriginComponents removes the raw fields consumed by
	// the base diagnostics (T, P, PB, PH, PHB) once their derived
	// counterparts exist.
	DropDiagnosticOriginComponents bool
}

// DefaultOptions returns the options Open uses when passed nil: decode
// everything, drop the diagnostic origin components, no destaggering.
func DefaultOptions() *Options {
	return &Options{
		MaskAndScale:                   true,
		DecodeTimes:                    true,
		ConcatCharacters:               true,
		DecodeCoords:                   true,
		DropDiagnosticOriginComponents: true,
	}
}

// remoteURI matches paths handled by a remote storage scheme, either
// URL-style (scheme://) or chained-store-style (scheme::).
var remoteURI = regexp.MustCompile(`^[a-z][a-z0-9]*(://|::)`)

// IsRemoteURI reports whether path names a remote resource rather than a
// local file.
func IsRemoteURI(path string) bool { return remoteURI.MatchString(path) }

// normalizePath expands a leading "~" to the user's home directory and makes
// local paths absolute. Remote URIs pass through unmodified, since making
// them absolute would corrupt the scheme.
func normalizePath(path string) (string, error) {
	if IsRemoteURI(path) {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("wrfcf: expanding home directory in %s: %v", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// Open reads the WRF output file at path, derives the base diagnostics, and
// reconciles the coordinate metadata, returning a cleaned-up dataset. The
// diagnostics always run before the coordinate cleanup because they consume
// raw staggered variables by name. A nil opts means DefaultOptions.
//
// path may be a local file path (with "~" expansion) or an http/https URL,
// which is fetched to a temporary file first.
func Open(path string, opts *Options) (*Dataset, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Destagger {
		return nil, ErrDestaggerNotImplemented
	}
	if opts.Mode != "" && opts.Mode != "r" {
		return nil, fmt.Errorf("wrfcf: unsupported access mode %q", opts.Mode)
	}
	switch opts.Format {
	case "", "classic", "netcdf4":
	default:
		return nil, fmt.Errorf("wrfcf: unsupported format %q", opts.Format)
	}

	p, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	if IsRemoteURI(p) {
		if p, err = fetchRemote(p); err != nil {
			return nil, err
		}
	}

	ds, err := readDataset(p, opts)
	if err != nil {
		return nil, err
	}

	CalcBaseDiagnostics(ds, opts.DropDiagnosticOriginComponents)

	if !opts.DecodeCoords {
		return ds, nil
	}
	r := NewReconciler()
	r.DecodeTimes = opts.DecodeTimes
	return r.Reconcile(ds)
}
