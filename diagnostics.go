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
	"github.com/ctessum/sparse"
)

const (
	// g0 is standard gravity [m/s2] as used for converting geopotential
	// to geopotential height.
	g0 = 9.81

	// baseTheta is the potential temperature offset [K] that WRF removes
	// from the T variable.
	baseTheta = 300.
)

// CalcBaseDiagnostics derives the four base physical fields that WRF does
// not store in physically meaningful form:
//
//	air_potential_temperature [K]      = T + 300
//	air_pressure [units of P]          = P + PB
//	geopotential [m**2 s**-2]          = PH + PHB
//	geopotential_height [m]            = geopotential / 9.81
//
// A diagnostic whose raw inputs are absent is silently skipped rather than
// treated as an error, to tolerate partial WRF output subsets. When drop is
// true, the raw components are removed from the dataset after their derived
// fields exist. This must run before destaggering or any coordinate cleanup,
// because it consumes raw staggered variables by name.
//
// All other typical diagnostics (air temperature, wind speed, ...) are
// calculable from these fields using a general-purpose toolkit and are
// deliberately not computed here.
func CalcBaseDiagnostics(ds *Dataset, drop bool) {
	// Potential temperature.
	if t, ok := ds.Vars["T"]; ok && t.Data != nil {
		theta := t.Data.Copy()
		for i, v := range theta.Elements {
			theta.Elements[i] = v + baseTheta
		}
		ds.Vars["air_potential_temperature"] = &Variable{
			Dims: append([]string{}, t.Dims...),
			Data: theta,
			Attrs: map[string]interface{}{
				"units":         "K",
				"standard_name": "air_potential_temperature",
			},
		}
		if drop {
			ds.Drop("T")
		}
	}

	// Pressure.
	p, pok := ds.Vars["P"]
	pb, pbok := ds.Vars["PB"]
	if pok && pbok && p.Data != nil && pb.Data != nil {
		pres := p.Data.Copy()
		pres.AddDense(pb.Data)
		ds.Vars["air_pressure"] = &Variable{
			Dims: append([]string{}, p.Dims...),
			Data: pres,
			Attrs: map[string]interface{}{
				// The units fall back to Pa only when the source
				// P variable carries no units attribute.
				"units":         p.UnitsOrDefault("Pa"),
				"standard_name": "air_pressure",
			},
		}
		if drop {
			ds.Drop("P", "PB")
		}
	}

	// Geopotential and geopotential height.
	ph, phok := ds.Vars["PH"]
	phb, phbok := ds.Vars["PHB"]
	if phok && phbok && ph.Data != nil && phb.Data != nil {
		geo := ph.Data.Copy()
		geo.AddDense(phb.Data)
		ds.Vars["geopotential"] = &Variable{
			Dims: append([]string{}, ph.Dims...),
			Data: geo,
			Attrs: map[string]interface{}{
				"units":         "m**2 s**-2",
				"standard_name": "geopotential",
			},
		}
		height := sparse.ZerosDense(geo.Shape...)
		for i, v := range geo.Elements {
			height.Elements[i] = v / g0
		}
		ds.Vars["geopotential_height"] = &Variable{
			Dims: append([]string{}, ph.Dims...),
			Data: height,
			Attrs: map[string]interface{}{
				"units":         "m",
				"standard_name": "geopotential_height",
			},
		}
		if drop {
			ds.Drop("PH", "PHB")
		}
	}
}
