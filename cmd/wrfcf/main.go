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

// Command wrfcf is a command-line interface for cleaning up WRF model
// output: it derives the base diagnostics, repairs coordinate metadata, and
// attaches a CF map projection, writing the result out as a NetCDF file or a
// human-readable summary.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spatialmodel/wrfcf"
)

// config mirrors wrfcf.Options for the TOML configuration file.
type config struct {
	MaskAndScale                   bool
	DecodeTimes                    bool
	ConcatCharacters               bool
	DecodeCoords                   bool
	DropVariables                  []string
	Group                          string
	Format                         string
	Destagger                      bool
	DropDiagnosticOriginComponents bool
}

func defaultConfig() config {
	o := wrfcf.DefaultOptions()
	return config{
		MaskAndScale:                   o.MaskAndScale,
		DecodeTimes:                    o.DecodeTimes,
		ConcatCharacters:               o.ConcatCharacters,
		DecodeCoords:                   o.DecodeCoords,
		DropDiagnosticOriginComponents: o.DropDiagnosticOriginComponents,
	}
}

func (c config) options() *wrfcf.Options {
	return &wrfcf.Options{
		MaskAndScale:                   c.MaskAndScale,
		DecodeTimes:                    c.DecodeTimes,
		ConcatCharacters:               c.ConcatCharacters,
		DecodeCoords:                   c.DecodeCoords,
		DropVariables:                  c.DropVariables,
		Group:                          c.Group,
		Format:                         c.Format,
		Destagger:                      c.Destagger,
		DropDiagnosticOriginComponents: c.DropDiagnosticOriginComponents,
	}
}

var (
	cfg        = defaultConfig()
	configFile string
	verbose    bool
)

var root = &cobra.Command{
	Use:   "wrfcf",
	Short: "wrfcf cleans up WRF model output.",
	Long: `wrfcf reads Weather Research and Forecasting (WRF) model NetCDF output,
derives the base physical fields that WRF stores in esoteric form, repairs
the coordinate metadata, and attaches a CF-convention map projection.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if configFile == "" {
			return nil
		}
		// Flags set on the command line override the configuration file.
		fileCfg := defaultConfig()
		if _, err := toml.DecodeFile(configFile, &fileCfg); err != nil {
			return fmt.Errorf("wrfcf: reading configuration file %s: %v", configFile, err)
		}
		flagCfg := cfg
		cfg = fileCfg
		for name, apply := range map[string]func(){
			"mask-and-scale":    func() { cfg.MaskAndScale = flagCfg.MaskAndScale },
			"decode-times":      func() { cfg.DecodeTimes = flagCfg.DecodeTimes },
			"concat-characters": func() { cfg.ConcatCharacters = flagCfg.ConcatCharacters },
			"decode-coords":     func() { cfg.DecodeCoords = flagCfg.DecodeCoords },
			"drop-variables":    func() { cfg.DropVariables = flagCfg.DropVariables },
			"group":             func() { cfg.Group = flagCfg.Group },
			"format":            func() { cfg.Format = flagCfg.Format },
			"destagger":         func() { cfg.Destagger = flagCfg.Destagger },
			"drop-origins":      func() { cfg.DropDiagnosticOriginComponents = flagCfg.DropDiagnosticOriginComponents },
		} {
			if cmd.Flags().Changed(name) {
				apply()
			}
		}
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert INPUT OUTPUT",
	Short: "Convert a WRF output file to a cleaned-up NetCDF file.",
	Long: `convert opens the WRF output file INPUT, derives the base diagnostics,
reconciles the coordinate metadata, and writes the cleaned-up dataset to
OUTPUT in classic NetCDF format.`,
	Args:              cobra.ExactArgs(2),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := wrfcf.Open(args[0], cfg.options())
		if err != nil {
			return err
		}
		w, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer w.Close()
		return ds.Write(w)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info INPUT",
	Short: "Summarize the cleaned-up form of a WRF output file.",
	Long: `info opens the WRF output file INPUT, runs the same cleanup as convert,
and prints the resulting dimensions, coordinates, and variables.`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := wrfcf.Open(args[0], cfg.options())
		if err != nil {
			return err
		}
		printSummary(cmd, ds)
		return nil
	},
}

func printSummary(cmd *cobra.Command, ds *wrfcf.Dataset) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Dimensions:")
	dims := make([]string, 0, len(ds.Dims))
	for d := range ds.Dims {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	for _, d := range dims {
		fmt.Fprintf(out, "  %s: %d\n", d, ds.Dims[d])
	}

	fmt.Fprintln(out, "Coordinates:")
	for _, name := range ds.CoordNames() {
		v := ds.Vars[name]
		fmt.Fprintf(out, "  %s %v\n", name, v.Dims)
		if g, ok := v.Attrs["grid_mapping_name"]; ok {
			fmt.Fprintf(out, "    grid_mapping_name: %v\n", g)
		}
	}

	fmt.Fprintln(out, "Data variables:")
	for _, name := range ds.DataVarNames() {
		v := ds.Vars[name]
		fmt.Fprintf(out, "  %s %v [%s]\n", name, v.Dims, v.UnitsOrDefault("?"))
	}
}

func init() {
	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "path to a TOML configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&cfg.MaskAndScale, "mask-and-scale", cfg.MaskAndScale, "apply scale_factor, add_offset, and _FillValue when reading")
	pf.BoolVar(&cfg.DecodeTimes, "decode-times", cfg.DecodeTimes, "decode byte-string timestamps into temporal values")
	pf.BoolVar(&cfg.ConcatCharacters, "concat-characters", cfg.ConcatCharacters, "join character arrays into byte-string records")
	pf.BoolVar(&cfg.DecodeCoords, "decode-coords", cfg.DecodeCoords, "run the coordinate cleanup")
	pf.StringSliceVar(&cfg.DropVariables, "drop-variables", nil, "variables to omit when reading")
	pf.StringVar(&cfg.Group, "group", "", "group to read within a NetCDF-4 file")
	pf.StringVar(&cfg.Format, "format", "", `accepted on-disk format: "classic" or "netcdf4" (default: detect)`)
	pf.BoolVar(&cfg.Destagger, "destagger", false, "interpolate staggered variables to cell centers (not implemented)")
	pf.BoolVar(&cfg.DropDiagnosticOriginComponents, "drop-origins", cfg.DropDiagnosticOriginComponents,
		"drop the raw fields consumed by the base diagnostics")

	root.AddCommand(convertCmd)
	root.AddCommand(infoCmd)
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
