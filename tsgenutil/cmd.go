/*
Copyright © 2025 the TSGen authors.
This file is part of TSGen.

TSGen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TSGen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TSGen.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package tsgenutil holds the configuration and command-line wiring for the
// tsgen program.
package tsgenutil

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lnashier/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spatialmodel/tsgen"
)

// Cfg holds the program configuration, merged from the configuration file,
// command-line flags, and TSGEN_* environment variables.
var Cfg *viper.Viper

// Root is the main command.
var Root = &cobra.Command{
	Use:   "tsgen",
	Short: "Convert model history files into time series files.",
	Long: `TSGen reorganizes climate-model history output (one netCDF file per
timestep, many variables) into time series files (one file per variable,
concatenated over time).

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'TSGEN_var'
where 'var' is the name of the variable to be set.`,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return setConfig()
	},
	DisableAutoGenTag: true,
}

// versionCmd prints the version number.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("TSGen v%s\n", tsgen.Version)
		return nil
	},
	DisableAutoGenTag: true,
}

// runCmd runs the history-to-timeseries conversion.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Convert history files under InputDir into time series files under OutputDir.",
	Long: `run discovers history files under InputDir, groups them into logical
time series, slices the groups into year windows, and writes one output file
per (group, variable) pair under OutputDir. Outputs that already exist and
pass the integrity check are skipped unless Overwrite is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(Cfg)
	},
	DisableAutoGenTag: true,
}

func init() {
	// options are the configuration options available to the commands.
	options := []struct {
		name       string
		usage      string
		shorthand  string
		defaultVal interface{}
		flagsets   []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputDir",
			usage: `
              InputDir is the directory tree to search for history files.`,
			shorthand:  "i",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory to write time series files to.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "FilePattern",
			usage: `
              FilePattern matches the names of history files ("*.nc").`,
			defaultVal: "*.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SliceYears",
			usage: `
              SliceYears is the length in years of each output time window.
              Zero or negative disables slicing.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "IncludePatterns",
			usage: `
              IncludePatterns keeps only input files matching at least one
              of these path globs (empty keeps everything).`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ExcludePatterns",
			usage: `
              ExcludePatterns drops input files matching any of these
              path globs.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ExcludeDirs",
			usage: `
              ExcludeDirs drops input files under directories with these
              names; model restart and log directories by default.`,
			defaultVal: []string{"rest", "logs"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "StartYear",
			usage: `
              StartYear restricts the input to files at or after this year.
              Zero leaves the start unbounded.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "EndYear",
			usage: `
              EndYear restricts the input to files at or before this year.
              Zero leaves the end unbounded.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CompressionLevel",
			usage: `
              CompressionLevel compresses output files at the given level;
              zero writes plain netCDF.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CompressionAlgorithm",
			usage: `
              CompressionAlgorithm is "gzip" or "zstd".`,
			defaultVal: "gzip",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "VariableCompression",
			usage: `
              VariableCompression maps variable-name globs to compression
              levels, overriding CompressionLevel per variable.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "DirSwaps",
			usage: `
              DirSwaps maps directory-name substrings to replacements
              applied when deriving output paths from input paths.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Overwrite",
			usage: `
              Overwrite regenerates output files that already exist.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TimestepDirs",
			usage: `
              TimestepDirs inserts a directory named after each series'
              cadence (e.g. month_1) into the output paths.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of concurrent workers for metadata
              extraction and output writing.`,
			shorthand:  "j",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("TSGEN")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("tsgen: problem reading configuration file: %v", err)
		}
	}
	return nil
}
