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

package tsgen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
)

// historyFileOptions configures the synthetic history files written for
// tests. The defaults describe a small monthly model stream on a 360-day
// calendar with a 3x4 lat/lon grid.
type historyFileOptions struct {
	times     []float64    // time coordinate values; required
	bounds    [][2]float64 // time bounds; omitted when nil
	variables []string     // primary variables over (time, lat, lon)

	latValues []float64 // defaults to 0,10,20
	lonValues []float64 // defaults to 0,90,180,270

	timeUnits   string // defaults to "days since 1850-01-01"
	calendar    string // defaults to "360_day"
	noTimeVar   bool   // omit the time coordinate variable entirely
	globalAttrs map[string]interface{}
}

func (o *historyFileOptions) setDefaults() {
	if o.latValues == nil {
		o.latValues = []float64{0, 10, 20}
	}
	if o.lonValues == nil {
		o.lonValues = []float64{0, 90, 180, 270}
	}
	if o.timeUnits == "" {
		o.timeUnits = "days since 1850-01-01"
	}
	if o.calendar == "" {
		o.calendar = "360_day"
	}
}

// historyValue is the deterministic cell value written by writeHistoryFile,
// so reads can be checked against the generator.
func historyValue(varIdx, step, cell int) float32 {
	return float32(varIdx*10000 + step*100 + cell)
}

// writeHistoryFile writes one synthetic history file to path.
func writeHistoryFile(t *testing.T, path string, o historyFileOptions) {
	t.Helper()
	o.setDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		t.Fatal(err)
	}

	dims := []string{"time", "nbnd", "lat", "lon"}
	lengths := []int{0, 2, len(o.latValues), len(o.lonValues)}
	h := cdf.NewHeader(dims, lengths)

	if !o.noTimeVar {
		h.AddVariable("time", []string{"time"}, []float64{})
		h.AddAttribute("time", "units", o.timeUnits)
		h.AddAttribute("time", "calendar", o.calendar)
		if o.bounds != nil {
			h.AddAttribute("time", "bounds", "time_bnds")
			h.AddVariable("time_bnds", []string{"time", "nbnd"}, []float64{})
		}
	}
	h.AddVariable("lat", []string{"lat"}, []float64{})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{})
	h.AddAttribute("lon", "units", "degrees_east")
	for _, v := range o.variables {
		h.AddVariable(v, []string{"time", "lat", "lon"}, []float32{})
		h.AddAttribute(v, "units", "K")
		h.AddAttribute(v, "long_name", v+" temperature")
	}
	h.AddAttribute("", "case", "testcase")
	for k, v := range o.globalAttrs {
		h.AddAttribute("", k, v)
	}

	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		t.Fatalf("invalid test header: %v", errs[0])
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		t.Fatal(err)
	}

	// A bounded cdf Writer reports io.EOF once the final element has been
	// written; that is its success signal, not a failure.
	if _, err := ff.Writer("lat", nil, nil).Write(o.latValues); err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if _, err := ff.Writer("lon", nil, nil).Write(o.lonValues); err != nil && err != io.EOF {
		t.Fatal(err)
	}

	ncell := len(o.latValues) * len(o.lonValues)
	for step, tv := range o.times {
		if !o.noTimeVar {
			w := ff.Writer("time", []int{step}, []int{step + 1})
			if _, err := w.Write([]float64{tv}); err != nil && err != io.EOF {
				t.Fatal(err)
			}
			if o.bounds != nil {
				w := ff.Writer("time_bnds", []int{step, 0}, []int{step + 1, 0})
				if _, err := w.Write([]float64{o.bounds[step][0], o.bounds[step][1]}); err != nil && err != io.EOF {
					t.Fatal(err)
				}
			}
		}
		for vi, v := range o.variables {
			buf := make([]float32, ncell)
			for c := range buf {
				buf[c] = historyValue(vi, step, c)
			}
			begin := []int{step, 0, 0}
			end := []int{step + 1, 0, 0}
			if _, err := ff.Writer(v, begin, end).Write(buf); err != nil && err != io.EOF {
				t.Fatal(err)
			}
		}
	}

	if err := cdf.UpdateNumRecs(f); err != nil {
		t.Fatal(err)
	}
}

// monthlyTimes returns n mid-month time values (days since the epoch on a
// 360-day calendar) along with matching month bounds.
func monthlyTimes(n int) ([]float64, [][2]float64) {
	times := make([]float64, n)
	bounds := make([][2]float64, n)
	for i := 0; i < n; i++ {
		times[i] = float64(i)*30 + 15
		bounds[i] = [2]float64{float64(i) * 30, float64(i+1) * 30}
	}
	return times, bounds
}

// writeMonthlyGroup writes n monthly history files named like model history
// output ("{prefix}.YYYY-MM.nc") under dir and returns their paths.
func writeMonthlyGroup(t *testing.T, dir, prefix string, n int, variables []string) []string {
	t.Helper()
	times, bounds := monthlyTimes(n)
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s.%04d-%02d.nc", prefix, 1850+i/12, i%12+1)
		p := filepath.Join(dir, name)
		writeHistoryFile(t, p, historyFileOptions{
			times:     times[i : i+1],
			bounds:    bounds[i : i+1],
			variables: variables,
		})
		paths[i] = p
	}
	return paths
}
