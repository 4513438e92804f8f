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
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// readDataset reads a NetCDF file (classic or NetCDF-4) into a Dataset.
// Reader errors are returned to the caller undecorated beyond the file
// name; this package adds no retries or fallbacks at the storage layer.
func readDataset(filename string, o *Options) (*Dataset, error) {
	root, err := netcdf.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("wrfcf: opening %s: %w", filename, err)
	}
	defer root.Close()

	g := root
	if o.Group != "" && o.Group != "/" {
		sub, err := root.GetGroup(o.Group)
		if err != nil {
			return nil, fmt.Errorf("wrfcf: opening group %s in %s: %w", o.Group, filename, err)
		}
		defer sub.Close()
		g = sub
	}

	drop := make(map[string]bool, len(o.DropVariables))
	for _, name := range o.DropVariables {
		drop[name] = true
	}

	ds := NewDataset()
	ds.Attrs = attrsToMap(g.Attributes())
	for _, dim := range g.ListDimensions() {
		if n, ok := g.GetDimension(dim); ok {
			ds.Dims[dim] = int(n)
		}
	}

	for _, name := range g.ListVariables() {
		if drop[name] {
			continue
		}
		nv, err := g.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("wrfcf: reading variable %s from %s: %w", name, filename, err)
		}
		v, err := convertVariable(name, nv, o)
		if err != nil {
			return nil, err
		}
		registerDims(ds, v)
		ds.Vars[name] = v
	}
	return ds, nil
}

// convertVariable converts a raw stored variable into a Variable, choosing
// the payload form from the stored type: character arrays become byte-string
// records and everything else becomes a numeric array.
func convertVariable(name string, nv *api.Variable, o *Options) (*Variable, error) {
	v := &Variable{
		Dims:  append([]string{}, nv.Dimensions...),
		Attrs: attrsToMap(nv.Attributes),
	}

	switch vals := nv.Values.(type) {
	case string:
		v.Str = []string{vals}
	case []string:
		v.Str = append([]string{}, vals...)
	default:
		shape, elems, err := flattenNumeric(nv.Values)
		if err != nil {
			return nil, fmt.Errorf("wrfcf: variable %s: %v", name, err)
		}
		arr := sparse.ZerosDense(shape...)
		copy(arr.Elements, elems)
		v.Data = arr
	}

	if v.Str != nil && !o.ConcatCharacters {
		strToBytes(v)
	}
	if o.MaskAndScale && v.Data != nil {
		maskAndScale(v)
	}
	return v, nil
}

// registerDims records the dimension sizes implied by a variable's payload
// shape. Byte-string records occupy two dimensions, the record axis and the
// string-length axis.
func registerDims(ds *Dataset, v *Variable) {
	switch {
	case v.Data != nil:
		for i, dim := range v.Dims {
			if i < len(v.Data.Shape) {
				ds.Dims[dim] = v.Data.Shape[i]
			}
		}
	case v.Str != nil:
		if len(v.Dims) >= 1 {
			ds.Dims[v.Dims[0]] = len(v.Str)
		}
		if len(v.Dims) == 2 {
			n := 0
			for _, s := range v.Str {
				if len(s) > n {
					n = len(s)
				}
			}
			ds.Dims[v.Dims[1]] = n
		}
	}
}

// strToBytes converts byte-string records back to their unconcatenated form,
// a numeric array of byte values.
func strToBytes(v *Variable) {
	n := 0
	for _, s := range v.Str {
		if len(s) > n {
			n = len(s)
		}
	}
	var arr *sparse.DenseArray
	if len(v.Dims) == 2 {
		arr = sparse.ZerosDense(len(v.Str), n)
	} else {
		arr = sparse.ZerosDense(n)
	}
	for i, s := range v.Str {
		for j := 0; j < len(s); j++ {
			arr.Elements[i*n+j] = float64(s[j])
		}
	}
	v.Data = arr
	v.Str = nil
}

// maskAndScale applies the CF packing attributes scale_factor, add_offset,
// and _FillValue to a numeric variable, moving the consumed attributes to
// the variable's encoding. Fill values become NaN.
func maskAndScale(v *Variable) {
	scale, hasScale := popFloatAttr(v, "scale_factor")
	offset, hasOffset := popFloatAttr(v, "add_offset")
	fill, hasFill := popFloatAttr(v, "_FillValue")
	if !hasScale && !hasOffset && !hasFill {
		return
	}
	if !hasScale {
		scale = 1
	}
	for i, e := range v.Data.Elements {
		if hasFill && e == fill {
			v.Data.Elements[i] = math.NaN()
			continue
		}
		v.Data.Elements[i] = e*scale + offset
	}
}

// popFloatAttr removes the named attribute from v.Attrs, records it in
// v.Encoding, and returns it as a float64.
func popFloatAttr(v *Variable, name string) (float64, bool) {
	a, ok := v.Attrs[name]
	if !ok {
		return 0, false
	}
	f, err := attrToFloat(name, a)
	if err != nil {
		return 0, false
	}
	if v.Encoding == nil {
		v.Encoding = make(map[string]interface{})
	}
	v.Encoding[name] = a
	delete(v.Attrs, name)
	return f, true
}

// attrsToMap converts a stored attribute list into a plain map.
func attrsToMap(am api.AttributeMap) map[string]interface{} {
	attrs := make(map[string]interface{})
	if am == nil {
		return attrs
	}
	for _, k := range am.Keys() {
		if val, ok := am.Get(k); ok {
			attrs[k] = val
		}
	}
	return attrs
}

// flattenNumeric flattens the arbitrarily nested typed slices a stored
// variable's values arrive as into a shape and a row-major float64 slice.
// Scalars flatten to an empty shape with a single element.
func flattenNumeric(vals interface{}) (shape []int, elems []float64, err error) {
	rv := reflect.ValueOf(vals)
	for s := rv; s.Kind() == reflect.Slice; {
		shape = append(shape, s.Len())
		if s.Len() == 0 {
			break
		}
		s = s.Index(0)
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	elems = make([]float64, 0, n)
	elems, err = appendNumeric(rv, elems)
	if err != nil {
		return nil, nil, err
	}
	return shape, elems, nil
}

func appendNumeric(rv reflect.Value, elems []float64) ([]float64, error) {
	switch rv.Kind() {
	case reflect.Slice:
		var err error
		for i := 0; i < rv.Len(); i++ {
			if elems, err = appendNumeric(rv.Index(i), elems); err != nil {
				return nil, err
			}
		}
		return elems, nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return append(elems, float64(rv.Int())), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return append(elems, float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return append(elems, rv.Float()), nil
	}
	return nil, fmt.Errorf("unsupported stored type %s", rv.Kind())
}

// epochUnits is the units attribute given to decoded time coordinates when
// they are written back out as numbers.
const epochUnits = "seconds since 1970-01-01 00:00:00"

// Write writes the dataset to w as a classic-format NetCDF file. Numeric
// variables are stored as float32, decoded time coordinates as float64
// seconds since the Unix epoch, and byte-string records as character arrays.
func (d *Dataset) Write(w *os.File) error {
	names := d.VarNames()

	// Dimension lengths, in first-use order over the sorted variables.
	var dimNames []string
	var dimLens []int
	seen := make(map[string]bool)
	for _, name := range names {
		for _, dim := range d.Vars[name].Dims {
			if seen[dim] {
				continue
			}
			n, ok := d.Dims[dim]
			if !ok {
				return fmt.Errorf("wrfcf: writing variable %s: dimension %s has no registered size", name, dim)
			}
			seen[dim] = true
			dimNames = append(dimNames, dim)
			dimLens = append(dimLens, n)
		}
	}

	h := cdf.NewHeader(dimNames, dimLens)
	for _, k := range sortedKeys(d.Attrs) {
		if val, ok := ncAttrValue(d.Attrs[k]); ok {
			h.AddAttribute("", k, val)
		}
	}
	for _, name := range names {
		v := d.Vars[name]
		switch {
		case v.Data != nil:
			h.AddVariable(name, v.Dims, []float32{0})
		case v.Times != nil:
			h.AddVariable(name, v.Dims, []float64{0})
			h.AddAttribute(name, "units", epochUnits)
		case v.Str != nil:
			h.AddVariable(name, v.Dims, "")
		default:
			// Zero-dimensional marker variable (grid mapping).
			h.AddVariable(name, []string{}, []int32{0})
		}
		for _, k := range sortedKeys(v.Attrs) {
			if k == "units" && v.Times != nil {
				// Superseded by the epoch units above.
				continue
			}
			if val, ok := ncAttrValue(v.Attrs[k]); ok {
				h.AddAttribute(name, k, val)
			}
		}
	}
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := writeVar(f, name, d.Vars[name], d.Dims); err != nil {
			return fmt.Errorf("wrfcf: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeVar(f *cdf.File, name string, v *Variable, dims map[string]int) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)

	switch {
	case v.Data != nil:
		n := 1
		for _, d := range v.Data.Shape {
			n *= d
		}
		if len(v.Data.Elements) != n {
			return fmt.Errorf("dims are %d but array length is %d", n, len(v.Data.Elements))
		}
		data32 := make([]float32, len(v.Data.Elements))
		for i, e := range v.Data.Elements {
			data32[i] = float32(e)
		}
		nw, err := w.Write(data32)
		return eofOK(nw, len(data32), err)
	case v.Times != nil:
		secs := make([]float64, len(v.Times))
		for i, t := range v.Times {
			secs[i] = float64(t.Unix())
		}
		_, err := w.Write(secs)
		return err
	case v.Str != nil:
		width := 0
		if len(v.Dims) == 2 {
			width = dims[v.Dims[1]]
		} else if len(v.Str) > 0 {
			width = len(v.Str[0])
		}
		buf := make([]byte, 0, len(v.Str)*width)
		for _, s := range v.Str {
			rec := make([]byte, width)
			copy(rec, s)
			buf = append(buf, rec...)
		}
		_, err := w.Write(string(buf))
		return err
	default:
		// Dimensionless marker variable (grid mapping).
		n, err := w.Write([]int32{0})
		return eofOK(n, 1, err)
	}
}

// eofOK tolerates the io.EOF the writer reports when a write exactly fills
// a variable's extent, as the single element of a dimensionless variable
// always does.
func eofOK(n, want int, err error) error {
	if err == io.EOF && n == want {
		return nil
	}
	return err
}

// ncAttrValue converts an attribute to one of the value types the classic
// NetCDF format can store. Attributes of other types are skipped.
func ncAttrValue(a interface{}) (interface{}, bool) {
	switch v := a.(type) {
	case string:
		return v, true
	case []uint8, []int16, []int32, []float32, []float64:
		return v, true
	case float64:
		return []float64{v}, true
	case float32:
		return []float32{v}, true
	case int:
		return []int32{int32(v)}, true
	case int32:
		return []int32{v}, true
	case int64:
		return []int32{int32(v)}, true
	case time.Time:
		return v.Format(time.RFC3339), true
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
