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

package tsgenutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/lnashier/viper"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/spatialmodel/tsgen"
)

// Run executes the history-to-timeseries conversion described by the
// configuration.
func Run(cfg *viper.Viper) error {
	inputDir := os.ExpandEnv(cfg.GetString("InputDir"))
	outputDir := os.ExpandEnv(cfg.GetString("OutputDir"))

	var pool *tsgen.WorkerPool
	if w := cfg.GetInt("Workers"); w > 1 {
		pool = &tsgen.WorkerPool{Workers: w}
	}

	coll, err := tsgen.FindHistoryFiles(inputDir, cfg.GetString("FilePattern"))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"dir": inputDir}).Infof("discovered %d history files", len(coll.Paths()))

	for _, d := range cfg.GetStringSlice("ExcludeDirs") {
		coll = coll.Exclude("*/" + d + "/*")
	}
	if inc := expandStringSlice(cfg.GetStringSlice("IncludePatterns")); len(inc) > 0 {
		coll = coll.Include(inc...)
	}
	if exc := expandStringSlice(cfg.GetStringSlice("ExcludePatterns")); len(exc) > 0 {
		coll = coll.Exclude(exc...)
	}

	coll = coll.PullMetadata(pool)
	coll, removed := coll.CheckValidity()
	if len(removed) > 0 {
		log.Infof("excluded %d files with invalid metadata", len(removed))
	}

	if start, end := cfg.GetInt("StartYear"), cfg.GetInt("EndYear"); start != 0 || end != 0 {
		if end == 0 {
			end = math.MaxInt32
		}
		coll = coll.IncludeYears(start, end)
	}

	coll = coll.SliceGroups(cfg.GetInt("SliceYears")).CheckGroupVariables()

	ts := tsgen.NewTimeSeriesCollection(coll, outputDir, GetStringMapString("DirSwaps", cfg))

	algorithm := cfg.GetString("CompressionAlgorithm")
	if lvl := cfg.GetInt("CompressionLevel"); lvl > 0 {
		ts = ts.ApplyCompression(lvl, algorithm, "*", "*")
	}
	for vglob, lvlStr := range GetStringMapString("VariableCompression", cfg) {
		lvl, err := strconv.Atoi(lvlStr)
		if err != nil {
			return fmt.Errorf("tsgen: VariableCompression level for %q: %v", vglob, err)
		}
		ts = ts.ApplyCompression(lvl, algorithm, "*", vglob)
	}
	if cfg.GetBool("Overwrite") {
		ts = ts.ApplyOverwrite("*", "*")
	}
	if cfg.GetBool("TimestepDirs") {
		ts = ts.AppendTimestepDirs()
	}

	paths, errs := ts.Execute(pool)
	log.Infof("wrote %d time series files", len(paths))
	if len(errs) > 0 {
		for _, e := range errs {
			log.Error(e)
		}
		return fmt.Errorf("tsgen: %d of %d orders failed", len(errs), len(paths)+len(errs))
	}
	return nil
}

// expandStringSlice expands any environment variables in the elements of s.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command-line flag.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	case nil:
		return nil
	default:
		panic(fmt.Errorf("invalid type for GetStringMapString variable %s: %#v", varName, i))
	}
}
