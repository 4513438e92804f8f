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
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
)

// ErrUnsupportedProjection is returned when a file's projection discriminant
// names a map projection this package does not implement.
var ErrUnsupportedProjection = errors.New("wrfcf: map projection not implemented")

// defaultEarthRadius is the radius [m] of the sphere WRF uses as its earth
// model (not the WGS84 ellipsoid).
const defaultEarthRadius = 6370000.

// horizontalDims are the WRF horizontal dimension names, cell-center and
// cell-edge (staggered) variants.
var horizontalDims = []string{"south_north", "west_east", "south_north_stag", "west_east_stag"}

// WRF MAP_PROJ discriminant codes.
const (
	projLambert     = 1
	projPolarStereo = 2
	projMercator    = 3
)

// A GridProjector reconstructs the projected horizontal grid of a WRF
// dataset from its global attributes.
type GridProjector struct {
	// EarthRadius is the radius [m] of the spherical earth model.
	EarthRadius float64

	// MappingName is the name given to the CF grid-mapping marker
	// variable attached to the dataset.
	MappingName string
}

// NewGridProjector returns a GridProjector with the standard WRF sphere
// radius and grid-mapping variable name.
func NewGridProjector() *GridProjector {
	return &GridProjector{
		EarthRadius: defaultEarthRadius,
		MappingName: "wrf_projection",
	}
}

// wrfGrid holds the projection and the four horizontal dimension coordinate
// arrays reconstructed from a WRF file. Staggered arrays have one more
// element than their unstaggered counterparts and are offset by half a grid
// spacing.
type wrfGrid struct {
	SR *proj.SR

	// cf holds the projection encoded as CF grid-mapping attributes.
	cf map[string]interface{}

	SouthNorth     []float64
	WestEast       []float64
	SouthNorthStag []float64
	WestEastStag   []float64
}

// projParams is the canonical parameter set that both attribute dialects
// reduce to before the projection is constructed.
type projParams struct {
	id                                  int // MAP_PROJ discriminant
	name                                string
	lat1, lat2, lat0, lon0, latTS       float64
	hasLat1, hasLat2, hasLat0, hasLatTS bool
	centerLon, centerLat                float64
	dx, dy                              float64
	fileSuppliedOrigin                  bool
}

// Grid reconstructs the projected horizontal grid from the dataset's global
// attributes and dimension sizes.
func (g *GridProjector) Grid(ds *Dataset) (*wrfGrid, error) {
	p, err := g.readParams(ds)
	if err != nil {
		return nil, err
	}

	sr, err := proj.Parse(g.projString(p))
	if err != nil {
		return nil, fmt.Errorf("wrfcf: constructing projection: %v", err)
	}

	nx, ok := ds.Dims["west_east"]
	if !ok {
		return nil, fmt.Errorf("wrfcf: dataset has no west_east dimension")
	}
	ny, ok := ds.Dims["south_north"]
	if !ok {
		return nil, fmt.Errorf("wrfcf: dataset has no south_north dimension")
	}

	var x0, y0 float64
	if p.fileSuppliedOrigin {
		// Climate-model dialect files carry explicit 1-d axis arrays.
		x0, y0, err = fileOrigin(ds)
		if err != nil {
			return nil, err
		}
	} else {
		// Canonical WRF files center the grid on the projected location
		// of the attribute-supplied center point.
		e, n, err := g.projectCenter(sr, p)
		if err != nil {
			return nil, err
		}
		x0 = e - float64(nx-1)/2.*p.dx
		y0 = n - float64(ny-1)/2.*p.dy
	}

	grid := &wrfGrid{
		SR:             sr,
		cf:             g.cfAttrs(p),
		SouthNorth:     make([]float64, ny),
		WestEast:       make([]float64, nx),
		SouthNorthStag: make([]float64, ny+1),
		WestEastStag:   make([]float64, nx+1),
	}
	for i := range grid.SouthNorth {
		grid.SouthNorth[i] = y0 + float64(i)*p.dy
	}
	for i := range grid.WestEast {
		grid.WestEast[i] = x0 + float64(i)*p.dx
	}
	for i := range grid.SouthNorthStag {
		grid.SouthNorthStag[i] = y0 + (float64(i)-0.5)*p.dy
	}
	for i := range grid.WestEastStag {
		grid.WestEastStag[i] = x0 + (float64(i)-0.5)*p.dx
	}
	return grid, nil
}

// readParams reduces either attribute dialect to the canonical parameter
// set and applies the per-family parameter selection.
func (g *GridProjector) readParams(ds *Dataset) (*projParams, error) {
	p := new(projParams)

	if ds.HasAttr("PROJ_ENVI_STRING") {
		// Regional climate model dialect (HAR and other TU Berlin files).
		var err error
		attrs := []struct {
			name string
			dst  *float64
		}{
			{"GRID_DX", &p.dx},
			{"GRID_DY", &p.dy},
			{"PROJ_STANDARD_PAR1", &p.lat1},
			{"PROJ_STANDARD_PAR2", &p.lat2},
			{"PROJ_CENTRAL_LAT", &p.lat0},
			{"PROJ_CENTRAL_LON", &p.lon0},
		}
		for _, a := range attrs {
			if *a.dst, err = ds.AttrFloat(a.name); err != nil {
				return nil, err
			}
		}
		p.hasLat1, p.hasLat2, p.hasLat0 = true, true, true
		p.centerLon = p.lon0
		p.fileSuppliedOrigin = true

		name, err := ds.AttrString("PROJ_NAME")
		if err != nil {
			return nil, err
		}
		switch name {
		case "Lambert Conformal Conic", "WRF Lambert Conformal":
			p.id = projLambert
		default:
			// No other climate-model projection encoding is known.
			return nil, fmt.Errorf("%w: PROJ_NAME=%q", ErrUnsupportedProjection, name)
		}
	} else {
		// Canonical WRF file.
		var err error
		attrs := []struct {
			name string
			dst  *float64
		}{
			{"CEN_LON", &p.centerLon},
			{"CEN_LAT", &p.centerLat},
			{"DX", &p.dx},
			{"DY", &p.dy},
			{"TRUELAT1", &p.lat1},
			{"TRUELAT2", &p.lat2},
			{"MOAD_CEN_LAT", &p.lat0},
			{"STAND_LON", &p.lon0},
		}
		for _, a := range attrs {
			if *a.dst, err = ds.AttrFloat(a.name); err != nil {
				return nil, err
			}
		}
		p.hasLat1, p.hasLat2, p.hasLat0 = true, true, true

		id, err := ds.AttrFloat("MAP_PROJ")
		if err != nil {
			return nil, err
		}
		p.id = int(id)
	}

	switch p.id {
	case projLambert:
		p.name = "lcc"
	case projPolarStereo:
		p.name = "stere"
		p.latTS, p.hasLatTS = p.lat1, true
		p.lat0 = 90.
		p.hasLat1, p.hasLat2 = false, false
	case projMercator:
		p.name = "merc"
		p.latTS, p.hasLatTS = p.lat1, true
		p.lon0 = p.centerLon
		p.hasLat0, p.hasLat1, p.hasLat2 = false, false, false
	default:
		return nil, fmt.Errorf("%w: MAP_PROJ=%d", ErrUnsupportedProjection, p.id)
	}
	return p, nil
}

// projString encodes the canonical parameter set as a PROJ string for
// proj.Parse, which handles the degree-to-radian conversions. Parameter
// values must avoid exponent notation because the parser splits tokens
// on '+'.
func (g *GridProjector) projString(p *projParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "+proj=%s", p.name)
	if p.hasLat1 {
		fmt.Fprintf(&b, " +lat_1=%s", projFloat(p.lat1))
	}
	if p.hasLat2 {
		fmt.Fprintf(&b, " +lat_2=%s", projFloat(p.lat2))
	}
	if p.hasLat0 {
		fmt.Fprintf(&b, " +lat_0=%s", projFloat(p.lat0))
	}
	if p.hasLatTS {
		fmt.Fprintf(&b, " +lat_ts=%s", projFloat(p.latTS))
	}
	fmt.Fprintf(&b, " +lon_0=%s +x_0=0 +y_0=0 +a=%s +b=%s +units=m +no_defs",
		projFloat(p.lon0), projFloat(g.EarthRadius), projFloat(g.EarthRadius))
	return b.String()
}

// projFloat formats a PROJ parameter value without exponent notation.
func projFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// projectCenter transforms the attribute-supplied grid center from
// geographic coordinates into the projected system.
func (g *GridProjector) projectCenter(sr *proj.SR, p *projParams) (e, n float64, err error) {
	if p.name == "stere" {
		// ctessum/geom/proj registers no stereographic transformer, so
		// the spherical polar aspect forward formula is computed here
		// directly (Snyder 1987, eq. 21-33 and 21-34).
		e, n = stereForward(g.EarthRadius, p.latTS, p.lon0, p.centerLon, p.centerLat)
		return e, n, nil
	}
	lonlat, err := proj.Parse(fmt.Sprintf("+proj=longlat +a=%s +b=%s +no_defs",
		projFloat(g.EarthRadius), projFloat(g.EarthRadius)))
	if err != nil {
		return 0, 0, fmt.Errorf("wrfcf: constructing geographic reference: %v", err)
	}
	trf, err := lonlat.NewTransform(sr)
	if err != nil {
		return 0, 0, fmt.Errorf("wrfcf: projecting grid center: %v", err)
	}
	e, n, err = trf(p.centerLon, p.centerLat)
	if err != nil {
		return 0, 0, fmt.Errorf("wrfcf: projecting grid center: %v", err)
	}
	return e, n, nil
}

// stereForward projects a geographic point [degrees] using the north polar
// stereographic projection on a sphere of radius a with true scale at
// latitude latTS [degrees].
func stereForward(a, latTS, lon0, lon, lat float64) (x, y float64) {
	const d2r = math.Pi / 180.
	rho := a * (1 + math.Sin(latTS*d2r)) * math.Tan(math.Pi/4-lat*d2r/2)
	x = rho * math.Sin((lon-lon0)*d2r)
	y = -rho * math.Cos((lon-lon0)*d2r)
	return x, y
}

// fileOrigin reads the grid origin from file-supplied 1-d axis arrays.
func fileOrigin(ds *Dataset) (x0, y0 float64, err error) {
	for _, c := range []struct {
		name string
		dst  *float64
	}{
		{"west_east", &x0},
		{"south_north", &y0},
	} {
		v, ok := ds.Vars[c.name]
		if !ok || v.Data == nil || v.NDim() != 1 {
			return 0, 0, fmt.Errorf("wrfcf: file supplies no 1-d %s axis to anchor the grid", c.name)
		}
		*c.dst = v.Data.Elements[0]
	}
	return x0, y0, nil
}

// cfAttrs encodes the projection as CF grid-mapping attributes.
func (g *GridProjector) cfAttrs(p *projParams) map[string]interface{} {
	attrs := map[string]interface{}{
		"earth_radius":   g.EarthRadius,
		"false_easting":  0.,
		"false_northing": 0.,
	}
	switch p.id {
	case projLambert:
		attrs["grid_mapping_name"] = "lambert_conformal_conic"
		attrs["standard_parallel"] = []float64{p.lat1, p.lat2}
		attrs["latitude_of_projection_origin"] = p.lat0
		attrs["longitude_of_central_meridian"] = p.lon0
	case projPolarStereo:
		attrs["grid_mapping_name"] = "polar_stereographic"
		attrs["straight_vertical_longitude_from_pole"] = p.lon0
		attrs["latitude_of_projection_origin"] = 90.
		attrs["standard_parallel"] = p.latTS
	case projMercator:
		attrs["grid_mapping_name"] = "mercator"
		attrs["longitude_of_projection_origin"] = p.lon0
		attrs["standard_parallel"] = p.latTS
	}
	return attrs
}

// AttachHorizontalCoordinates reconstructs the projected horizontal grid and
// assigns the four dimension coordinate arrays onto matching dimensions
// (staggered ones only where the staggered dimension exists), creates the
// zero-dimensional CF grid-mapping marker variable, and tags every variable
// whose dimensions intersect the horizontal dimension set with a
// grid_mapping back-reference.
func (g *GridProjector) AttachHorizontalCoordinates(ds *Dataset) error {
	grid, err := g.Grid(ds)
	if err != nil {
		return err
	}

	setAxis := func(dim string, vals []float64, axis string, staggered bool) {
		attrs := map[string]interface{}{
			"units":         "m",
			"standard_name": "projection_" + strings.ToLower(axis) + "_coordinate",
			"axis":          axis,
		}
		if staggered {
			attrs["c_grid_axis_shift"] = 0.5
		}
		arr := sparse.ZerosDense(len(vals))
		copy(arr.Elements, vals)
		ds.Vars[dim] = &Variable{
			Dims:  []string{dim},
			Data:  arr,
			Attrs: attrs,
		}
		ds.Dims[dim] = len(vals)
		ds.Coords[dim] = true
	}

	setAxis("south_north", grid.SouthNorth, "Y", false)
	setAxis("west_east", grid.WestEast, "X", false)
	if ds.HasDim("south_north_stag") {
		setAxis("south_north_stag", grid.SouthNorthStag, "Y", true)
	}
	if ds.HasDim("west_east_stag") {
		setAxis("west_east_stag", grid.WestEastStag, "X", true)
	}

	// The grid-mapping marker is a zero-dimensional variable whose
	// attributes carry the projection; data variables reference it by
	// name only.
	ds.Vars[g.MappingName] = &Variable{
		Dims:  []string{},
		Attrs: grid.cf,
	}
	ds.Coords[g.MappingName] = true

	for _, name := range ds.DataVarNames() {
		v := ds.Vars[name]
		if hasAnyDim(v.Dims, horizontalDims) {
			if v.Attrs == nil {
				v.Attrs = make(map[string]interface{})
			}
			v.Attrs["grid_mapping"] = g.MappingName
		}
	}
	return nil
}

func hasAnyDim(dims, candidates []string) bool {
	for _, d := range dims {
		for _, c := range candidates {
			if d == c {
				return true
			}
		}
	}
	return false
}
