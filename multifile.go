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

	"github.com/ctessum/sparse"
)

// A MultiFileView presents one group's member files as a single dataset
// concatenated along the time axis. It handles two physical layouts: simple
// temporal concatenation (each file owns a disjoint time range) and spatial
// fragmentation (several files share every timestamp but cover disjoint
// coordinate tiles that are merged into one grid).
type MultiFileView struct {
	paths []string
	files []*Container
	metas []*FileMeta

	rawTimes []float64 // sorted, unique
	times    []CFTime
	timeMap  map[float64][]int // raw time value -> indices into files
	localIdx []map[float64]int // per file: raw time value -> record index

	fragmented bool
	coords     map[string][]float64 // per dimension: sorted union of coordinate values
	fileCoords []map[string][]float64
}

// NewMultiFileView opens the given files and stitches them together. metas
// may carry already-extracted metadata by path; files not covered are
// extracted here. Construction fails with ErrFragmentationInconsistent
// (wrapped) when timestamps are covered by differing numbers of files, since
// partial fragmentation cannot be merged safely. The caller must Close the
// view.
func NewMultiFileView(paths []string, metas map[string]*FileMeta) (*MultiFileView, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("tsgen: building multi-file view: no source files")
	}
	v := &MultiFileView{timeMap: make(map[float64][]int)}

	for _, p := range paths {
		m := metas[p]
		if m == nil {
			var err error
			m, err = ExtractMeta(p)
			if err != nil {
				return nil, fmt.Errorf("tsgen: building multi-file view: %v", err)
			}
		}
		v.paths = append(v.paths, p)
		v.metas = append(v.metas, m)
	}

	// Order members by their first time value so concatenation is
	// chronological regardless of name sorting.
	order := make([]int, len(v.paths))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := v.metas[order[a]], v.metas[order[b]]
		if len(ma.RawTimes) == 0 || len(mb.RawTimes) == 0 {
			return len(ma.RawTimes) > len(mb.RawTimes)
		}
		return ma.RawTimes[0] < mb.RawTimes[0]
	})
	paths2 := make([]string, len(order))
	metas2 := make([]*FileMeta, len(order))
	for i, j := range order {
		paths2[i], metas2[i] = v.paths[j], v.metas[j]
	}
	v.paths, v.metas = paths2, metas2

	v.localIdx = make([]map[float64]int, len(v.paths))
	for i, m := range v.metas {
		v.localIdx[i] = make(map[float64]int, len(m.RawTimes))
		for t, raw := range m.RawTimes {
			v.localIdx[i][raw] = t
			if len(v.timeMap[raw]) == 0 {
				v.rawTimes = append(v.rawTimes, raw)
				v.times = append(v.times, m.enc.decode(raw))
			}
			v.timeMap[raw] = append(v.timeMap[raw], i)
		}
	}
	sort.Float64s(v.rawTimes)
	sort.Slice(v.times, func(a, b int) bool {
		return v.times[a].secondsSinceEpoch() < v.times[b].secondsSinceEpoch()
	})

	count := len(v.timeMap[v.rawTimes[0]])
	for _, raw := range v.rawTimes {
		if len(v.timeMap[raw]) != count {
			return nil, fmt.Errorf("tsgen: building multi-file view for %s: %w",
				v.paths[0], ErrFragmentationInconsistent)
		}
	}
	v.fragmented = count > 1

	for _, p := range v.paths {
		c, err := openContainer(p)
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("tsgen: building multi-file view: %v", err)
		}
		v.files = append(v.files, c)
	}

	if v.fragmented {
		if err := v.buildCoordUnion(); err != nil {
			v.Close()
			return nil, err
		}
	}
	return v, nil
}

// buildCoordUnion reads every non-time coordinate variable from every file
// and forms the sorted union of values per dimension, which defines the
// merged grid of a fragmented group.
func (v *MultiFileView) buildCoordUnion() error {
	v.coords = make(map[string][]float64)
	v.fileCoords = make([]map[string][]float64, len(v.files))
	h := v.files[0].File.Header
	for i, c := range v.files {
		v.fileCoords[i] = make(map[string][]float64)
		for _, d := range h.Dimensions("") {
			if strings.EqualFold(d, "time") || auxiliaryDims[strings.ToLower(d)] {
				continue
			}
			if c.File.Header.Lengths(d) == nil {
				continue
			}
			vals, err := readFloats(c, d)
			if err != nil {
				return fmt.Errorf("tsgen: building multi-file view: reading coordinate %s from %s: %v", d, v.paths[i], err)
			}
			v.fileCoords[i][d] = vals
		}
	}
	for _, d := range h.Dimensions("") {
		seen := make(map[float64]bool)
		var union []float64
		for i := range v.files {
			for _, x := range v.fileCoords[i][d] {
				if !seen[x] {
					seen[x] = true
					union = append(union, x)
				}
			}
		}
		if len(union) > 0 {
			sort.Float64s(union)
			v.coords[d] = union
		}
	}
	return nil
}

// Close closes all member files.
func (v *MultiFileView) Close() error {
	var first error
	for _, c := range v.files {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Times returns the concatenated, sorted, unique time values.
func (v *MultiFileView) Times() []CFTime { return v.times }

// RawTimes returns the concatenated time coordinate values as stored.
func (v *MultiFileView) RawTimes() []float64 { return v.rawTimes }

// NumSteps is the length of the concatenated time axis.
func (v *MultiFileView) NumSteps() int { return len(v.rawTimes) }

// Fragmented reports whether the group's files are spatial tiles sharing
// timestamps rather than disjoint time ranges.
func (v *MultiFileView) Fragmented() bool { return v.fragmented }

// Variables lists the variable names, per the first member file.
func (v *MultiFileView) Variables() []string { return v.files[0].File.Header.Variables() }

// Dimensions returns the dimension names of a variable (or all dimensions
// for "").
func (v *MultiFileView) Dimensions(name string) []string {
	return v.files[0].File.Header.Dimensions(name)
}

// IsRecordVariable reports whether the variable varies along the time axis.
func (v *MultiFileView) IsRecordVariable(name string) bool {
	return v.files[0].File.Header.IsRecordVariable(name)
}

// Attributes lists a variable's attribute names ("" for global).
func (v *MultiFileView) Attributes(name string) []string {
	return v.files[0].File.Header.Attributes(name)
}

// GetAttribute returns a variable attribute value, per the first member file.
func (v *MultiFileView) GetAttribute(name, attr string) interface{} {
	return v.files[0].File.Header.GetAttribute(name, attr)
}

// GlobalAttributes merges the member files' global attributes; later files
// win on conflicts.
func (v *MultiFileView) GlobalAttributes() map[string]interface{} {
	out := make(map[string]interface{})
	for _, c := range v.files {
		h := c.File.Header
		for _, a := range h.Attributes("") {
			out[a] = h.GetAttribute("", a)
		}
	}
	return out
}

// ZeroValue returns a zeroed slice of the variable's native type.
func (v *MultiFileView) ZeroValue(name string, n int) interface{} {
	return v.files[0].File.Header.ZeroValue(name, n)
}

// Shape returns a variable's dimension lengths on the concatenated view: the
// time axis resolves to NumSteps, fragmented coordinate dimensions to the
// length of their merged coordinate union.
func (v *MultiFileView) Shape(name string) []int {
	h := v.files[0].File.Header
	dims := h.Dimensions(name)
	lengths := h.Lengths(name)
	if lengths == nil {
		return nil
	}
	out := make([]int, len(lengths))
	copy(out, lengths)
	for i, d := range dims {
		if i == 0 && lengths[0] == 0 {
			out[0] = v.NumSteps()
			continue
		}
		if u, ok := v.coords[d]; ok {
			out[i] = len(u)
		}
	}
	return out
}

// ReadTimeStep reads one record of a record variable at the global time
// index step, merging tiles when the group is fragmented. The result is a
// flat slice of the variable's native type covering the non-time dimensions.
func (v *MultiFileView) ReadTimeStep(name string, step int) (interface{}, error) {
	if step < 0 || step >= v.NumSteps() {
		return nil, fmt.Errorf("tsgen: reading %s: time step %d out of range [0,%d)", name, step, v.NumSteps())
	}
	if !v.IsRecordVariable(name) {
		return nil, fmt.Errorf("tsgen: reading %s: not a record variable", name)
	}
	raw := v.rawTimes[step]
	idxs := v.timeMap[raw]

	if !v.fragmented || !v.hasFragmentedDims(name) {
		return v.readRecord(idxs[0], name, v.localIdx[idxs[0]][raw])
	}

	shape := v.Shape(name)[1:]
	dims := v.Dimensions(name)[1:]
	global := sparse.ZerosDense(shape...)
	for _, i := range idxs {
		buf, err := v.readRecord(i, name, v.localIdx[i][raw])
		if err != nil {
			return nil, err
		}
		vals, err := asFloats(buf)
		if err != nil {
			return nil, fmt.Errorf("tsgen: reading %s from %s: %v", name, v.paths[i], err)
		}
		local := v.files[i].File.Header.Lengths(name)[1:]
		if err := v.placeTile(global, vals, local, shape, dims, i); err != nil {
			return nil, fmt.Errorf("tsgen: reading %s from %s: %v", name, v.paths[i], err)
		}
	}
	return fromFloats(v.ZeroValue(name, 0), global.Elements), nil
}

// ReadAll reads a non-record variable in full. For fragmented groups the
// merged coordinate union is returned for coordinate variables, and other
// fragmented variables are assembled tile by tile; otherwise the first
// member file's values are used.
func (v *MultiFileView) ReadAll(name string) (interface{}, error) {
	if v.IsRecordVariable(name) {
		return nil, fmt.Errorf("tsgen: reading %s: record variables are read per time step", name)
	}
	if v.fragmented {
		if u, ok := v.coords[name]; ok {
			return fromFloats(v.ZeroValue(name, 0), u), nil
		}
		if v.hasFragmentedDims(name) {
			return v.assembleFixed(name)
		}
	}
	buf, err := readVariable(v.files[0], name)
	if err != nil {
		return nil, fmt.Errorf("tsgen: reading %s from %s: %v", name, v.paths[0], err)
	}
	return buf, nil
}

// hasFragmentedDims reports whether any of the variable's dimensions has a
// merged coordinate union longer than the first file's local length.
func (v *MultiFileView) hasFragmentedDims(name string) bool {
	h := v.files[0].File.Header
	lengths := h.Lengths(name)
	for i, d := range h.Dimensions(name) {
		if u, ok := v.coords[d]; ok && len(u) != lengths[i] {
			return true
		}
	}
	return false
}

// assembleFixed merges a fragmented non-record variable across all files.
func (v *MultiFileView) assembleFixed(name string) (interface{}, error) {
	shape := v.Shape(name)
	dims := v.Dimensions(name)
	global := sparse.ZerosDense(shape...)
	for i, c := range v.files {
		buf, err := readVariable(c, name)
		if err != nil {
			return nil, fmt.Errorf("tsgen: reading %s from %s: %v", name, v.paths[i], err)
		}
		vals, err := asFloats(buf)
		if err != nil {
			return nil, fmt.Errorf("tsgen: reading %s from %s: %v", name, v.paths[i], err)
		}
		local := c.File.Header.Lengths(name)
		if err := v.placeTile(global, vals, local, shape, dims, i); err != nil {
			return nil, fmt.Errorf("tsgen: reading %s from %s: %v", name, v.paths[i], err)
		}
	}
	return fromFloats(v.ZeroValue(name, 0), global.Elements), nil
}

// placeTile copies one file's flat values into the global buffer at the
// offsets implied by the file's coordinate ranges. A dimension without a
// matching coordinate defaults to a full-range copy when the local size
// matches the global size, else to offset 0 (assumed broadcastable).
func (v *MultiFileView) placeTile(global *sparse.DenseArray, vals []float64, local, shape []int, dims []string, fileIdx int) error {
	offs := make([]int, len(dims))
	for k, d := range dims {
		fc := v.fileCoords[fileIdx][d]
		u, ok := v.coords[d]
		if !ok || len(fc) == 0 {
			if local[k] != shape[k] && local[k] != 1 {
				return fmt.Errorf("dimension %s length %d does not fit target %d", d, local[k], shape[k])
			}
			continue
		}
		j := sort.SearchFloat64s(u, fc[0])
		if j >= len(u) || u[j] != fc[0] {
			return fmt.Errorf("coordinate %s start value %g not in merged axis", d, fc[0])
		}
		if j+local[k] > shape[k] {
			return fmt.Errorf("tile exceeds merged axis %s", d)
		}
		offs[k] = j
	}

	n := 1
	for _, l := range local {
		n *= l
	}
	if n != len(vals) {
		return fmt.Errorf("read %d values, expected %d", len(vals), n)
	}
	idx := make([]int, len(local))
	gidx := make([]int, len(local))
	for flat := 0; flat < n; flat++ {
		rem := flat
		for k := len(local) - 1; k >= 0; k-- {
			idx[k] = rem % local[k]
			rem /= local[k]
		}
		for k := range idx {
			gidx[k] = idx[k] + offs[k]
		}
		global.Set(vals[flat], gidx...)
	}
	return nil
}

// readRecord reads one record of a record variable from one member file in
// the variable's native type.
func (v *MultiFileView) readRecord(fileIdx int, name string, rec int) (interface{}, error) {
	f := v.files[fileIdx].File
	dims := f.Header.Lengths(name)
	if dims == nil {
		return nil, fmt.Errorf("tsgen: variable %v not in %s", name, v.paths[fileIdx])
	}
	n := 1
	for _, d := range dims[1:] {
		n *= d
	}
	begin := make([]int, len(dims))
	end := make([]int, len(dims))
	begin[0], end[0] = rec, rec+1
	r := f.Reader(name, begin, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("tsgen: reading %s record %d from %s: %v", name, rec, v.paths[fileIdx], err)
	}
	return buf, nil
}

// fromFloats converts float64 values back to the netCDF type of sample.
func fromFloats(sample interface{}, vals []float64) interface{} {
	switch sample.(type) {
	case []float64:
		out := make([]float64, len(vals))
		copy(out, vals)
		return out
	case []float32:
		out := make([]float32, len(vals))
		for i, x := range vals {
			out[i] = float32(x)
		}
		return out
	case []int32:
		out := make([]int32, len(vals))
		for i, x := range vals {
			out[i] = int32(x)
		}
		return out
	case []int16:
		out := make([]int16, len(vals))
		for i, x := range vals {
			out[i] = int16(x)
		}
		return out
	case []uint8:
		out := make([]uint8, len(vals))
		for i, x := range vals {
			out[i] = uint8(x)
		}
		return out
	}
	return vals
}
