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
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// wrfTimeFormat is the layout of the byte-string timestamps in the WRF
// "Times" variable.
const wrfTimeFormat = "2006-01-02_15:04:05"

// A CoordVocab lists the WRF variable names that play coordinate roles.
type CoordVocab struct {
	Lat      []string
	Lon      []string
	Vertical []string
	Time     []string
}

// DefaultCoordVocab returns the coordinate-name vocabulary of standard WRF
// output and geogrid/metgrid intermediate files.
func DefaultCoordVocab() CoordVocab {
	return CoordVocab{
		Lat:      []string{"XLAT", "XLAT_M", "XLAT_U", "XLAT_V", "CLAT", "XLAT_C"},
		Lon:      []string{"XLONG", "XLONG_M", "XLONG_U", "XLONG_V", "CLONG", "XLONG_C"},
		Vertical: []string{"ZNU", "ZNW"},
		Time:     []string{"XTIME", "Times", "Time", "time"},
	}
}

// all returns every name in the vocabulary.
func (v CoordVocab) all() []string {
	names := make([]string, 0, len(v.Lat)+len(v.Lon)+len(v.Vertical)+len(v.Time))
	names = append(names, v.Lat...)
	names = append(names, v.Lon...)
	names = append(names, v.Vertical...)
	names = append(names, v.Time...)
	return names
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// A Reconciler cleans up the coordinate variables of a raw WRF dataset:
// promoting coordinate-like data variables to coordinate role, repairing
// time encoding, collapsing time-replicated coordinate fields to their true
// spatial rank, attaching the projected horizontal grid, and promoting
// vertical and time axis coordinates to dimension coordinates.
type Reconciler struct {
	Vocab CoordVocab
	Grid  *GridProjector
	Log   *logrus.Logger

	// DecodeTimes controls whether byte-string timestamps are decoded.
	DecodeTimes bool
}

// NewReconciler returns a Reconciler with the default vocabulary, grid
// projector, and logger.
func NewReconciler() *Reconciler {
	return &Reconciler{
		Vocab:       DefaultCoordVocab(),
		Grid:        NewGridProjector(),
		Log:         logrus.StandardLogger(),
		DecodeTimes: true,
	}
}

// Reconcile transforms ds in place and returns it. The steps run in fixed
// order; each step's postcondition is a precondition for the next. Once the
// dataset is fully reconciled, applying Reconcile again leaves it unchanged
// except that the horizontal coordinates are recomputed to the same values.
func (r *Reconciler) Reconcile(ds *Dataset) (*Dataset, error) {
	// Promote coordinate-like data variables to coordinates.
	ds.SetCoords(r.Vocab.all()...)

	// Repair each coordinate independently: decode byte-string time
	// stamps, and collapse redundant time replication in spatial
	// coordinate fields.
	for _, coord := range ds.CoordNames() {
		v := ds.Vars[coord]
		switch {
		case contains(r.Vocab.Time, coord):
			if r.DecodeTimes {
				r.decodeTimes(coord, v)
			}
		case (contains(r.Vocab.Lat, coord) || contains(r.Vocab.Lon, coord)) && v.NDim() == 3:
			collapseLeading(v)
		case contains(r.Vocab.Vertical, coord) && v.NDim() == 2:
			collapseLeading(v)
		}
	}

	// Attach the projected horizontal grid and CF grid mapping.
	if err := r.Grid.AttachHorizontalCoordinates(ds); err != nil {
		return nil, err
	}

	// Promote vertical and time axis coordinates to dimension
	// coordinates where safe. Each promotion requires that the source
	// coordinate exists, is 1-dimensional, and the target dimension is
	// present; a fully promoted dataset skips all three.
	promote := func(src, dim string) {
		v, ok := ds.Vars[src]
		if !ok || !ds.IsCoord(src) || v.NDim() != 1 || !ds.HasDim(dim) {
			return
		}
		nv := v.Copy()
		nv.Dims = []string{dim}
		ds.Vars[dim] = nv
		ds.Coords[dim] = true
		ds.Drop(src)
	}
	promote("ZNU", "bottom_top")
	promote("ZNW", "bottom_top_stag")
	promote("XTIME", "Time")

	return ds, nil
}

// decodeTimes decodes raw byte-string timestamps into temporal values. A
// malformed timestamp is tolerated: the coordinate is left in its raw form
// and a warning is logged.
func (r *Reconciler) decodeTimes(name string, v *Variable) {
	if v.Str == nil {
		return
	}
	times := make([]time.Time, len(v.Str))
	for i, s := range v.Str {
		t, err := time.Parse(wrfTimeFormat, s)
		if err != nil {
			r.Log.Warnf("wrfcf: failed to parse time coordinate %s: %v", name, err)
			return
		}
		times[i] = t
	}
	v.Times = times
	v.Str = nil
	if v.NDim() == 2 {
		// Byte-string records are stored as [Time, DateStrLen] char
		// arrays; decoded values are indexed by time alone.
		v.Dims = v.Dims[:1]
	}
}

// collapseLeading removes a coordinate's redundant leading time axis by
// selecting index 0 along it, preserving attributes and encoding exactly.
// The leading-axis slice at index 0 is the first contiguous block of the
// row-major element array.
func collapseLeading(v *Variable) {
	if v.Data == nil || v.NDim() < 2 {
		return
	}
	out := sparse.ZerosDense(v.Data.Shape[1:]...)
	copy(out.Elements, v.Data.Elements[:len(out.Elements)])
	v.Data = out
	v.Dims = v.Dims[1:]
}
