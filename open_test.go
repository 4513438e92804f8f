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
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
)

// writeWRFTestFile writes a small synthetic wrfout file to dir and returns
// its path. The domain is 4 cells wide, 3 cells tall, 2 layers deep, with
// two hourly time steps on a Lambert conformal conic projection.
func writeWRFTestFile(t *testing.T, dir string) string {
	t.Helper()

	const (
		nt, nz, ny, nx = 2, 2, 3, 4
		dateStrLen     = 19
	)
	h := cdf.NewHeader(
		[]string{"Time", "DateStrLen", "bottom_top", "bottom_top_stag",
			"south_north", "west_east", "south_north_stag", "west_east_stag"},
		[]int{nt, dateStrLen, nz, nz + 1, ny, nx, ny + 1, nx + 1})

	h.AddAttribute("", "TITLE", "OUTPUT FROM WRF V4 MODEL")
	h.AddAttribute("", "CEN_LON", []float32{-97})
	h.AddAttribute("", "CEN_LAT", []float32{40})
	h.AddAttribute("", "DX", []float32{3000})
	h.AddAttribute("", "DY", []float32{3000})
	h.AddAttribute("", "TRUELAT1", []float32{33})
	h.AddAttribute("", "TRUELAT2", []float32{45})
	h.AddAttribute("", "MOAD_CEN_LAT", []float32{40})
	h.AddAttribute("", "STAND_LON", []float32{-97})
	h.AddAttribute("", "MAP_PROJ", []int32{1})

	vars := map[string]struct {
		dims []string
		n    int
	}{
		"T":     {[]string{"Time", "bottom_top", "south_north", "west_east"}, nt * nz * ny * nx},
		"P":     {[]string{"Time", "bottom_top", "south_north", "west_east"}, nt * nz * ny * nx},
		"PB":    {[]string{"Time", "bottom_top", "south_north", "west_east"}, nt * nz * ny * nx},
		"PH":    {[]string{"Time", "bottom_top_stag", "south_north", "west_east"}, nt * (nz + 1) * ny * nx},
		"PHB":   {[]string{"Time", "bottom_top_stag", "south_north", "west_east"}, nt * (nz + 1) * ny * nx},
		"U":     {[]string{"Time", "bottom_top", "south_north", "west_east_stag"}, nt * nz * ny * (nx + 1)},
		"XLAT":  {[]string{"Time", "south_north", "west_east"}, nt * ny * nx},
		"XLONG": {[]string{"Time", "south_north", "west_east"}, nt * ny * nx},
		"ZNU":   {[]string{"Time", "bottom_top"}, nt * nz},
		"ZNW":   {[]string{"Time", "bottom_top_stag"}, nt * (nz + 1)},
		"XTIME": {[]string{"Time"}, nt},
	}
	for name, v := range vars {
		h.AddVariable(name, v.dims, []float32{0})
	}
	h.AddVariable("Times", []string{"Time", "DateStrLen"}, "")
	h.Define()

	fname := filepath.Join(dir, "wrfout_d01_2020-01-01_00:00:00")
	w, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	f, err := cdf.Create(w, h)
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range vars {
		data := make([]float32, v.n)
		for i := range data {
			data[i] = float32(i + 1)
		}
		end := f.Header.Lengths(name)
		if _, err := f.Writer(name, make([]int, len(end)), end).Write(data); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	end := f.Header.Lengths("Times")
	stamps := "2020-01-01_00:00:00" + "2020-01-01_01:00:00"
	if _, err := f.Writer("Times", make([]int, len(end)), end).Write(stamps); err != nil {
		t.Fatalf("writing Times: %v", err)
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		t.Fatal(err)
	}
	return fname
}

func TestOpen(t *testing.T) {
	fname := writeWRFTestFile(t, t.TempDir())

	ds, err := Open(fname, nil)
	if err != nil {
		t.Fatal(err)
	}

	if title, err := ds.AttrString("TITLE"); err != nil || title != "OUTPUT FROM WRF V4 MODEL" {
		t.Errorf("TITLE = %q, %v", title, err)
	}

	// The base diagnostics exist and the raw components are gone.
	theta, ok := ds.Vars["air_potential_temperature"]
	if !ok {
		t.Fatal("air_potential_temperature missing")
	}
	// T was written as 1, 2, 3, ...
	for i, v := range theta.Data.Elements {
		if want := float64(i+1) + 300; v != want {
			t.Fatalf("air_potential_temperature[%d] = %g; want %g", i, v, want)
		}
	}
	pres, ok := ds.Vars["air_pressure"]
	if !ok {
		t.Fatal("air_pressure missing")
	}
	// P and PB were written with identical values.
	for i, v := range pres.Data.Elements {
		if want := 2 * float64(i+1); v != want {
			t.Fatalf("air_pressure[%d] = %g; want %g", i, v, want)
		}
	}
	if _, ok := ds.Vars["geopotential_height"]; !ok {
		t.Error("geopotential_height missing")
	}
	for _, raw := range []string{"T", "P", "PB", "PH", "PHB"} {
		if _, ok := ds.Vars[raw]; ok {
			t.Errorf("raw variable %s should have been dropped", raw)
		}
	}

	// Coordinates are reconciled.
	lat := ds.Vars["XLAT"]
	if !ds.IsCoord("XLAT") || lat.NDim() != 2 {
		t.Errorf("XLAT: coord=%v, ndim=%d", ds.IsCoord("XLAT"), lat.NDim())
	}
	times := ds.Vars["Times"]
	if times.Times == nil {
		t.Fatal("Times was not decoded")
	}
	if d := times.Times[1].Sub(times.Times[0]); d != time.Hour {
		t.Errorf("time step = %v; want 1h", d)
	}
	for _, dim := range []string{"bottom_top", "bottom_top_stag", "Time"} {
		if _, ok := ds.Vars[dim]; !ok {
			t.Errorf("dimension coordinate %s missing", dim)
		}
	}

	// The projected horizontal grid is attached: 4 cells at 3 km
	// centered on the central meridian.
	we := ds.Vars["west_east"]
	if we == nil || we.Data == nil || len(we.Data.Elements) != 4 {
		t.Fatal("west_east axis missing or wrong length")
	}
	if math.Abs(we.Data.Elements[0]+4500) > 1e-6 {
		t.Errorf("west_east[0] = %g; want -4500", we.Data.Elements[0])
	}
	proj, ok := ds.Vars["wrf_projection"]
	if !ok {
		t.Fatal("wrf_projection missing")
	}
	if proj.Attrs["grid_mapping_name"] != "lambert_conformal_conic" {
		t.Errorf("grid_mapping_name = %v", proj.Attrs["grid_mapping_name"])
	}
	if gm := ds.Vars["U"].Attrs["grid_mapping"]; gm != "wrf_projection" {
		t.Errorf("U grid_mapping = %v; want wrf_projection", gm)
	}
}

func TestOpenDestagger(t *testing.T) {
	opts := DefaultOptions()
	opts.Destagger = true
	if _, err := Open("wrfout_d01", opts); !errors.Is(err, ErrDestaggerNotImplemented) {
		t.Fatalf("err = %v; want ErrDestaggerNotImplemented", err)
	}
}

func TestOpenRemoteSchemeRejected(t *testing.T) {
	_, err := Open("s3://bucket/wrfout_d01", nil)
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("err = %v; want unsupported scheme error", err)
	}
}

func TestIsRemoteURI(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"https://example.com/wrfout_d01.nc", true},
		{"http://example.com/wrfout_d01.nc", true},
		{"s3://bucket/wrfout_d01.nc", true},
		{"gs://bucket/wrfout_d01.nc", true},
		{"dap2::hostname/dataset", true},
		{"simplecache::s3://bucket/wrfout_d01.nc", true},
		{"/data/wrfout_d01.nc", false},
		{"wrfout_d01.nc", false},
		{"./relative/wrfout_d01", false},
		{"C://windows/style", false},
		{"9fs://bucket/x", false},
	}
	for _, c := range cases {
		if got := IsRemoteURI(c.path); got != c.want {
			t.Errorf("IsRemoteURI(%q) = %v; want %v", c.path, got, c.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	p, err := normalizePath("data/wrfout_d01.nc")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(p) {
		t.Errorf("normalizePath returned a relative path: %s", p)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	p, err = normalizePath("~/wrfout_d01.nc")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "wrfout_d01.nc"); p != want {
		t.Errorf("normalizePath(~/wrfout_d01.nc) = %s; want %s", p, want)
	}

	const remote = "https://example.com/a/../wrfout_d01.nc"
	if p, _ := normalizePath(remote); p != remote {
		t.Errorf("remote URI was modified: %s", p)
	}
}

func TestOpenMode(t *testing.T) {
	opts := DefaultOptions()
	opts.Mode = "w"
	if _, err := Open("wrfout_d01", opts); err == nil || !strings.Contains(err.Error(), "unsupported access mode") {
		t.Fatalf("err = %v; want unsupported access mode error", err)
	}
	opts = DefaultOptions()
	opts.Format = "hdf4"
	if _, err := Open("wrfout_d01", opts); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("err = %v; want unsupported format error", err)
	}
}
