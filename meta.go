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
	"sort"
	"strings"

	"github.com/ctessum/cdf"
)

// timeBoundsCandidates are the accepted names for the time-bounds variable,
// in priority order. History files from different model components disagree
// on the spelling.
var timeBoundsCandidates = []string{"time_bnds", "time_bnd", "time_bounds", "time_bound"}

// auxiliaryDims tag variables that carry bookkeeping rather than model output
// (bounds pairs, fixed-width strings, history intervals).
var auxiliaryDims = map[string]bool{
	"nbnd":          true,
	"chars":         true,
	"string_length": true,
	"hist_interval": true,
}

// FileMeta holds the time axis and variable inventory extracted from one
// history file. It is created once and never modified afterwards.
type FileMeta struct {
	Path string

	// TimeName is the time coordinate variable's name as spelled in the
	// file; BoundsName is the time-bounds variable, or empty when absent.
	TimeName   string
	BoundsName string

	Times      []CFTime
	TimeBounds [][2]CFTime
	RawTimes   []float64
	RawBounds  [][2]float64

	// Variables is the sorted name set, partitioned into Primary (one
	// output file each) and Secondary (copied into every output).
	Variables []string
	Primary   []string
	Secondary []string

	GlobalAttrs map[string]interface{}

	// DimBounds maps each coordinate dimension to its [min,max] values,
	// used to reconcile spatially fragmented groups.
	DimBounds map[string][2]float64

	enc timeEncoding
}

// Valid reports whether the file can participate in a time series: it must
// have a time or time-bounds series and at least one variable, and must not
// itself be a file this package produced.
func (m *FileMeta) Valid() bool {
	if m == nil {
		return false
	}
	if len(m.RawTimes) == 0 && len(m.RawBounds) == 0 {
		return false
	}
	if len(m.Variables) == 0 {
		return false
	}
	if _, ok := m.GlobalAttrs[VersionAttribute]; ok {
		return false
	}
	return true
}

// RepresentativeTime is the timestamp used to place the file in a year
// window: the midpoint of its time-bound interval when bounds exist,
// otherwise its first time value.
func (m *FileMeta) RepresentativeTime() (CFTime, bool) {
	if len(m.RawBounds) > 0 {
		mid := (m.RawBounds[0][0] + m.RawBounds[len(m.RawBounds)-1][1]) / 2
		return m.enc.decode(mid), true
	}
	if len(m.Times) > 0 {
		return m.Times[0], true
	}
	return CFTime{}, false
}

// ExtractMeta opens the file at path and extracts its metadata. A missing
// time coordinate returns an error wrapping ErrMissingTimeAxis; callers treat
// any error as "file invalid" and drop the file with a warning rather than
// aborting the run.
func ExtractMeta(path string) (*FileMeta, error) {
	c, err := openContainer(path)
	if err != nil {
		return nil, fmt.Errorf("tsgen: extracting metadata for %s: %v", path, err)
	}
	defer c.Close()
	h := c.File.Header

	m := &FileMeta{
		Path:        path,
		GlobalAttrs: make(map[string]interface{}),
		DimBounds:   make(map[string][2]float64),
	}

	for _, a := range h.Attributes("") {
		m.GlobalAttrs[a] = h.GetAttribute("", a)
	}

	m.TimeName = findVariable(h, "time")
	if m.TimeName == "" {
		return nil, fmt.Errorf("tsgen: extracting metadata for %s: %w", path, ErrMissingTimeAxis)
	}

	units, _ := h.GetAttribute(m.TimeName, "units").(string)
	calendar, _ := h.GetAttribute(m.TimeName, "calendar").(string)
	m.enc, err = parseTimeUnits(units, calendar)
	if err != nil {
		return nil, fmt.Errorf("tsgen: extracting metadata for %s: %v", path, err)
	}

	m.RawTimes, err = readFloats(c, m.TimeName)
	if err != nil {
		return nil, fmt.Errorf("tsgen: extracting metadata for %s: %v", path, err)
	}
	m.Times = make([]CFTime, len(m.RawTimes))
	for i, v := range m.RawTimes {
		m.Times[i] = m.enc.decode(v)
	}

	if err := m.extractBounds(c, units, calendar); err != nil {
		return nil, fmt.Errorf("tsgen: extracting metadata for %s: %v", path, err)
	}

	for _, v := range h.Variables() {
		m.Variables = append(m.Variables, v)
		if isSecondaryVariable(h, v) {
			m.Secondary = append(m.Secondary, v)
		} else {
			m.Primary = append(m.Primary, v)
		}
	}
	sort.Strings(m.Variables)
	sort.Strings(m.Primary)
	sort.Strings(m.Secondary)

	m.extractDimBounds(c)

	return m, nil
}

// extractBounds locates and decodes the time-bounds variable if one exists.
// Bounds missing their own units/calendar attributes inherit the time
// coordinate's.
func (m *FileMeta) extractBounds(c *Container, timeUnits, timeCalendar string) error {
	h := c.File.Header
	for _, cand := range timeBoundsCandidates {
		if name := findVariable(h, cand); name != "" {
			m.BoundsName = name
			break
		}
	}
	if m.BoundsName == "" {
		return nil
	}

	units, _ := h.GetAttribute(m.BoundsName, "units").(string)
	calendar, _ := h.GetAttribute(m.BoundsName, "calendar").(string)
	if units == "" {
		units = timeUnits
	}
	if calendar == "" {
		calendar = timeCalendar
	}
	enc, err := parseTimeUnits(units, calendar)
	if err != nil {
		return fmt.Errorf("decoding bounds %s: %v", m.BoundsName, err)
	}

	vals, err := readFloats(c, m.BoundsName)
	if err != nil {
		return fmt.Errorf("reading bounds %s: %v", m.BoundsName, err)
	}
	if len(vals)%2 != 0 {
		// Not (start,end) pairs; tolerate the variable but ignore its values.
		m.BoundsName = ""
		return nil
	}
	for i := 0; i+1 < len(vals); i += 2 {
		raw := [2]float64{vals[i], vals[i+1]}
		m.RawBounds = append(m.RawBounds, raw)
		m.TimeBounds = append(m.TimeBounds, [2]CFTime{enc.decode(raw[0]), enc.decode(raw[1])})
	}
	return nil
}

// extractDimBounds records the value range of every coordinate variable other
// than time. Read failures here are not fatal; the bounds are only needed
// for fragmented groups.
func (m *FileMeta) extractDimBounds(c *Container) {
	h := c.File.Header
	for _, d := range h.Dimensions("") {
		if strings.EqualFold(d, "time") || auxiliaryDims[d] {
			continue
		}
		if h.Lengths(d) == nil { // no coordinate variable for this dimension
			continue
		}
		vals, err := readFloats(c, d)
		if err != nil || len(vals) == 0 {
			continue
		}
		lo, hi := vals[0], vals[0]
		for _, v := range vals[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		m.DimBounds[d] = [2]float64{lo, hi}
	}
}

// isSecondaryVariable classifies a variable as auxiliary payload. The rule
// order matters: bounds names and auxiliary-dimension tags win before the
// dimensionality test.
func isSecondaryVariable(h *cdf.Header, name string) bool {
	for _, cand := range timeBoundsCandidates {
		if strings.EqualFold(name, cand) {
			return true
		}
	}
	dims := h.Dimensions(name)
	for _, d := range dims {
		if auxiliaryDims[strings.ToLower(d)] {
			return true
		}
	}
	return len(dims) <= 1
}

// findVariable matches a variable name case-insensitively.
func findVariable(h *cdf.Header, name string) string {
	for _, v := range h.Variables() {
		if strings.EqualFold(v, name) {
			return v
		}
	}
	return ""
}

// readFloats reads a variable's entire contents as float64, resolving the
// record dimension length from the file size.
func readFloats(c *Container, name string) ([]float64, error) {
	buf, err := readVariable(c, name)
	if err != nil {
		return nil, err
	}
	return asFloats(buf)
}

// readVariable reads a variable's entire contents in its native type.
func readVariable(c *Container, name string) (interface{}, error) {
	h := c.File.Header
	dims := h.Lengths(name)
	if dims == nil {
		return nil, fmt.Errorf("variable %v not in file", name)
	}
	n := 1
	for i, d := range dims {
		if i == 0 && d == 0 {
			d = c.NumRecs()
		}
		n *= d
	}
	if n == 0 {
		return h.ZeroValue(name, 0), nil
	}

	var r cdf.Reader
	if h.IsRecordVariable(name) {
		begin := make([]int, len(dims))
		end := make([]int, len(dims))
		end[0] = c.NumRecs()
		r = c.File.Reader(name, begin, end)
	} else {
		r = c.File.Reader(name, nil, nil)
	}
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %v", name, err)
	}
	return buf, nil
}

// asFloats converts a typed netCDF buffer to float64 values.
func asFloats(buf interface{}) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []uint8:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T to float64", buf)
}
