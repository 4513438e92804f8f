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

// Package wrfcf exposes Weather Research and Forecasting (WRF) model NetCDF
// output as a semantically cleaned-up labeled-array dataset: it derives the
// base physical fields that WRF stores in esoteric form, repairs coordinate
// metadata, and attaches a CF-convention map projection, so downstream tools
// can treat WRF output like any other geophysical gridded dataset.
package wrfcf

import (
	"fmt"
	"sort"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spf13/cast"
)

// A Variable is a single labeled array within a Dataset. Exactly one of the
// three payload fields is non-nil: Data for numeric arrays, Str for raw
// byte-string records (e.g. the WRF "Times" variable), or Times for decoded
// timestamps.
type Variable struct {
	// Dims are the names of this variable's dimensions, outermost first.
	Dims []string

	// Data holds numeric values in row-major order.
	Data *sparse.DenseArray

	// Str holds byte-string records, one per index along Dims[0].
	Str []string

	// Times holds decoded timestamps, one per index along Dims[0].
	Times []time.Time

	// Attrs holds per-variable metadata (units, standard_name, ...).
	Attrs map[string]interface{}

	// Encoding holds storage metadata (on-disk type, fill value, ...) that
	// must survive any reshaping of the variable.
	Encoding map[string]interface{}
}

// NDim returns the number of dimensions of the variable.
func (v *Variable) NDim() int { return len(v.Dims) }

// Len returns the number of elements along the outermost dimension.
func (v *Variable) Len() int {
	switch {
	case v.Data != nil:
		if len(v.Data.Shape) == 0 {
			return 1
		}
		return v.Data.Shape[0]
	case v.Str != nil:
		return len(v.Str)
	case v.Times != nil:
		return len(v.Times)
	}
	return 0
}

// Copy returns a deep copy of the variable.
func (v *Variable) Copy() *Variable {
	o := &Variable{
		Dims:     append([]string{}, v.Dims...),
		Attrs:    copyAttrs(v.Attrs),
		Encoding: copyAttrs(v.Encoding),
	}
	if v.Data != nil {
		o.Data = v.Data.Copy()
	}
	if v.Str != nil {
		o.Str = append([]string{}, v.Str...)
	}
	if v.Times != nil {
		o.Times = append([]time.Time{}, v.Times...)
	}
	return o
}

func copyAttrs(a map[string]interface{}) map[string]interface{} {
	if a == nil {
		return nil
	}
	o := make(map[string]interface{}, len(a))
	for k, v := range a {
		o[k] = v
	}
	return o
}

// A Dataset is a mapping from variable name to labeled array, plus dimension
// sizes, dataset-level attributes, and the set of variables playing a
// coordinate role. Coordinate status is a role, not a storage distinction:
// coordinates live in Vars alongside data variables.
type Dataset struct {
	Vars   map[string]*Variable
	Dims   map[string]int
	Coords map[string]bool
	Attrs  map[string]interface{}
}

// NewDataset initializes an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		Vars:   make(map[string]*Variable),
		Dims:   make(map[string]int),
		Coords: make(map[string]bool),
		Attrs:  make(map[string]interface{}),
	}
}

// AddVariable adds a numeric variable to d, registering any dimensions it
// introduces. It returns an error if a dimension size conflicts with one
// already registered or with the shape of the data.
func (d *Dataset) AddVariable(name string, dims []string, data *sparse.DenseArray, attrs map[string]interface{}) error {
	if data != nil {
		if len(dims) != len(data.Shape) {
			return fmt.Errorf("wrfcf: variable %s: %d dimension names for %d-d data", name, len(dims), len(data.Shape))
		}
		for i, dim := range dims {
			if n, ok := d.Dims[dim]; ok && n != data.Shape[i] {
				return fmt.Errorf("wrfcf: variable %s: dimension %s has size %d but is already registered with size %d",
					name, dim, data.Shape[i], n)
			}
			d.Dims[dim] = data.Shape[i]
		}
	}
	d.Vars[name] = &Variable{
		Dims:  append([]string{}, dims...),
		Data:  data,
		Attrs: attrs,
	}
	return nil
}

// SetCoords reclassifies the named variables as coordinates. Names that are
// not present in the dataset are ignored.
func (d *Dataset) SetCoords(names ...string) {
	for _, name := range names {
		if _, ok := d.Vars[name]; ok {
			d.Coords[name] = true
		}
	}
}

// IsCoord reports whether the named variable plays a coordinate role.
func (d *Dataset) IsCoord(name string) bool { return d.Coords[name] }

// Drop removes the named variables from the dataset. Dimension sizes are
// retained, since other variables may still use them.
func (d *Dataset) Drop(names ...string) {
	for _, name := range names {
		delete(d.Vars, name)
		delete(d.Coords, name)
	}
}

// HasDim reports whether the named dimension exists in the dataset.
func (d *Dataset) HasDim(name string) bool {
	_, ok := d.Dims[name]
	return ok
}

// VarNames returns the names of all variables, sorted.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DataVarNames returns the names of the non-coordinate variables, sorted.
func (d *Dataset) DataVarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		if !d.Coords[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// CoordNames returns the names of the coordinate variables, sorted.
func (d *Dataset) CoordNames() []string {
	names := make([]string, 0, len(d.Coords))
	for n := range d.Coords {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasAttr reports whether the dataset carries the named global attribute.
func (d *Dataset) HasAttr(name string) bool {
	_, ok := d.Attrs[name]
	return ok
}

// AttrFloat returns the named global attribute coerced to a float64. WRF
// files store numeric globals variously as float32, float64, or single
// element slices depending on the program that wrote them.
func (d *Dataset) AttrFloat(name string) (float64, error) {
	a, ok := d.Attrs[name]
	if !ok {
		return 0, fmt.Errorf("wrfcf: global attribute %s not in dataset", name)
	}
	return attrToFloat(name, a)
}

// AttrString returns the named global attribute as a string.
func (d *Dataset) AttrString(name string) (string, error) {
	a, ok := d.Attrs[name]
	if !ok {
		return "", fmt.Errorf("wrfcf: global attribute %s not in dataset", name)
	}
	return cast.ToStringE(a)
}

func attrToFloat(name string, a interface{}) (float64, error) {
	switch v := a.(type) {
	case []float32:
		if len(v) == 1 {
			return float64(v[0]), nil
		}
	case []float64:
		if len(v) == 1 {
			return v[0], nil
		}
	case []int32:
		if len(v) == 1 {
			return float64(v[0]), nil
		}
	}
	f, err := cast.ToFloat64E(a)
	if err != nil {
		return 0, fmt.Errorf("wrfcf: global attribute %s: %v", name, err)
	}
	return f, nil
}

// UnitsOrDefault returns the variable's units attribute, or def if the
// variable carries none.
func (v *Variable) UnitsOrDefault(def string) string {
	if v.Attrs != nil {
		if u, ok := v.Attrs["units"]; ok {
			if s, err := cast.ToStringE(u); err == nil && s != "" {
				return s
			}
		}
	}
	return def
}
