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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	log "github.com/sirupsen/logrus"
)

// CheckIntegrity reports whether path is a complete output of this package:
// it must open, carry the version-stamp attribute, and have a finalized
// record count. A file failing the check is treated as corrupt and
// regenerated regardless of the overwrite flag.
func CheckIntegrity(path string) bool {
	c, err := openContainer(path)
	if err != nil {
		return false
	}
	defer c.Close()
	if c.File.Header.GetAttribute("", VersionAttribute) == nil {
		return false
	}
	nr, err := c.numRecsField()
	return err == nil && nr >= 0
}

// WriteOrder materializes one order: it opens the source files as a
// multi-file view, streams the primary variable into the output one timestep
// at a time, copies the secondary variables, and stamps the version
// attribute. The write is idempotent: an existing output that passes
// CheckIntegrity is returned as-is unless the order asks to overwrite.
func WriteOrder(order TimeSeriesOrder) (string, error) {
	out := order.OutputPath()

	fail := func(err error) (string, error) {
		log.WithFields(log.Fields{
			"output":      out,
			"variable":    order.PrimaryVariable,
			"sources":     strings.Join(order.SourcePaths, " "),
			"compression": fmt.Sprintf("%s:%d", order.CompressionAlgorithm, order.CompressionLevel),
			"overwrite":   order.Overwrite,
		}).Errorf("order failed: %v", err)
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0777); err != nil {
		return fail(fmt.Errorf("tsgen: creating output directory for %s: %v", out, err))
	}

	if _, err := os.Stat(out); err == nil {
		if !order.Overwrite && CheckIntegrity(out) {
			log.WithFields(log.Fields{"output": out}).Info("output exists and is intact; skipping")
			return out, nil
		}
		if err := os.Remove(out); err != nil {
			return fail(fmt.Errorf("tsgen: removing stale output %s: %v", out, err))
		}
	}

	view, err := NewMultiFileView(order.SourcePaths, nil)
	if err != nil {
		return fail(err)
	}
	defer view.Close()

	writeVars, err := outputVariables(order, view)
	if err != nil {
		return fail(err)
	}

	h, err := buildHeader(view, writeVars)
	if err != nil {
		return fail(err)
	}

	tmp := out + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fail(fmt.Errorf("tsgen: creating %s: %v", tmp, err))
	}
	if err := writeData(f, h, view, writeVars); err != nil {
		f.Close()
		os.Remove(tmp)
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fail(fmt.Errorf("tsgen: closing %s: %v", tmp, err))
	}

	if order.CompressionLevel > 0 {
		if err := compressFile(tmp, out, order.CompressionAlgorithm, order.CompressionLevel); err != nil {
			os.Remove(tmp)
			return fail(err)
		}
	} else if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return fail(fmt.Errorf("tsgen: renaming %s: %v", tmp, err))
	}

	log.WithFields(log.Fields{"output": out, "variable": order.PrimaryVariable}).Info("wrote time series file")
	return out, nil
}

// outputVariables resolves which variables the output will contain: the
// primary variable (when not auxiliary-only) followed by every secondary
// variable present in the sources.
func outputVariables(order TimeSeriesOrder, view *MultiFileView) ([]string, error) {
	present := make(map[string]bool)
	for _, vn := range view.Variables() {
		present[vn] = true
	}
	var out []string
	if order.PrimaryVariable != AuxiliaryVariable {
		if !present[order.PrimaryVariable] {
			return nil, fmt.Errorf("tsgen: variable %s not in source files", order.PrimaryVariable)
		}
		out = append(out, order.PrimaryVariable)
	}
	for _, s := range order.SecondaryVariables {
		if present[s] && s != order.PrimaryVariable {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tsgen: no variables to write")
	}
	return out, nil
}

// buildHeader constructs the output header: the source's record dimension
// stays unlimited, all other referenced dimensions are fixed at their
// resolved (possibly merged) lengths, variable attributes are copied
// verbatim, and the global attributes are the union of the sources' plus the
// version stamp.
func buildHeader(view *MultiFileView, writeVars []string) (*cdf.Header, error) {
	recDim := ""
	for _, vn := range view.Variables() {
		if view.IsRecordVariable(vn) {
			recDim = view.Dimensions(vn)[0]
			break
		}
	}

	var dimNames []string
	dimLen := make(map[string]int)
	for _, vn := range writeVars {
		dims := view.Dimensions(vn)
		shape := view.Shape(vn)
		for i, d := range dims {
			if _, ok := dimLen[d]; ok {
				continue
			}
			dimNames = append(dimNames, d)
			if d == recDim {
				dimLen[d] = 0
			} else {
				dimLen[d] = shape[i]
			}
		}
	}
	lengths := make([]int, len(dimNames))
	for i, d := range dimNames {
		lengths[i] = dimLen[d]
	}

	h := cdf.NewHeader(dimNames, lengths)
	for _, vn := range writeVars {
		h.AddVariable(vn, view.Dimensions(vn), view.ZeroValue(vn, 0))
		for _, a := range view.Attributes(vn) {
			h.AddAttribute(vn, a, view.GetAttribute(vn, a))
		}
	}

	global := view.GlobalAttributes()
	keys := make([]string, 0, len(global))
	for k := range global {
		if k == VersionAttribute {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.AddAttribute("", k, global[k])
	}
	h.AddAttribute("", VersionAttribute, Version)

	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("tsgen: invalid output header: %v", errs[0])
	}
	return h, nil
}

// writeData copies the variable data into the output file: fixed variables
// in one shot, record variables one timestep at a time so memory stays
// bounded by a single record, then finalizes the record count.
func writeData(f *os.File, h *cdf.Header, view *MultiFileView, writeVars []string) error {
	ff, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("tsgen: writing header: %v", err)
	}

	var recVars []string
	for _, vn := range writeVars {
		if view.IsRecordVariable(vn) {
			recVars = append(recVars, vn)
			continue
		}
		buf, err := view.ReadAll(vn)
		if err != nil {
			return err
		}
		if _, err := ff.Writer(vn, nil, nil).Write(buf); err != nil {
			return fmt.Errorf("tsgen: writing variable %s: %v", vn, err)
		}
	}

	for t := 0; t < view.NumSteps(); t++ {
		for _, vn := range recVars {
			buf, err := view.ReadTimeStep(vn, t)
			if err != nil {
				return err
			}
			ndim := len(view.Dimensions(vn))
			begin := make([]int, ndim)
			end := make([]int, ndim)
			begin[0], end[0] = t, t+1
			if _, err := ff.Writer(vn, begin, end).Write(buf); err != nil {
				return fmt.Errorf("tsgen: writing variable %s at step %d: %v", vn, t, err)
			}
		}
	}

	if err := cdf.UpdateNumRecs(f); err != nil {
		return fmt.Errorf("tsgen: finalizing record count: %v", err)
	}
	return nil
}
