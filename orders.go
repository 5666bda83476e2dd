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
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// AuxiliaryVariable is the primary-variable tag of an order for a group with
// no primary variables, so secondary-only groups still produce one output.
const AuxiliaryVariable = "auxiliary"

const outputExtension = ".nc"

// A TimeSeriesOrder is one deferred unit of work: concatenate one primary
// variable from a set of source files into one output file. Orders are value
// objects; transforms on a TimeSeriesCollection copy and modify them, never
// edit them in place.
type TimeSeriesOrder struct {
	// SourcePaths are the member files, sorted by time.
	SourcePaths []string
	// OutputTemplate is the output path up to the variable/timestamp/
	// extension suffix that OutputPath appends.
	OutputTemplate string
	// PrimaryVariable is the variable this order extracts, or
	// AuxiliaryVariable when the group has none.
	PrimaryVariable string
	// SecondaryVariables are copied into the output alongside the primary.
	SecondaryVariables []string
	// Timestamp is the precomputed start-end label for the output name.
	Timestamp string

	CompressionLevel     int
	CompressionAlgorithm string
	Overwrite            bool

	stepHours float64 // dominant cadence, for timestep directories
	freq      string  // time_period_freq attribute override, if any
}

// OutputPath is the file this order will write:
// {template}.{variable}.{timestamp}{ext}.
func (o TimeSeriesOrder) OutputPath() string {
	return o.OutputTemplate + "." + o.PrimaryVariable + "." + o.Timestamp + outputExtension
}

// matches reports whether the order is selected by a source-path glob and a
// primary-variable glob. Empty globs match everything.
func (o TimeSeriesOrder) matches(pathGlob, varGlob string) bool {
	if !matchGlob(varGlob, o.PrimaryVariable) {
		return false
	}
	if pathGlob == "" || pathGlob == "*" {
		return true
	}
	for _, p := range o.SourcePaths {
		if matchGlob(pathGlob, p) {
			return true
		}
	}
	return false
}

// A TimeSeriesCollection holds the orders derived from a FileCollection's
// groups and exposes copy-on-transform filters over them. It references the
// source collection but owns its order list: transforming one never touches
// the other.
type TimeSeriesCollection struct {
	source *FileCollection
	orders []TimeSeriesOrder
}

// NewTimeSeriesCollection derives one order per (group, primary variable)
// pair from the collection's groups. Output templates are built from
// outputRoot plus each group's directory relative to the collection root,
// with dirSwaps substitutions applied per path segment (the longest matching
// key wins). Groups without metadata are skipped with a warning; pull
// metadata and filter validity first.
func NewTimeSeriesCollection(c *FileCollection, outputRoot string, dirSwaps map[string]string) *TimeSeriesCollection {
	ts := &TimeSeriesCollection{source: c}
	for _, g := range c.Groups() {
		metas := make([]*FileMeta, 0, len(g.Paths))
		paths := make([]string, 0, len(g.Paths))
		for _, p := range g.Paths {
			if m := c.Meta(p); m != nil {
				metas = append(metas, m)
				paths = append(paths, p)
			}
		}
		if len(metas) == 0 {
			log.WithFields(log.Fields{"group": g.Key}).Warn("no metadata in group; skipping")
			continue
		}

		// Chronological member order.
		idx := make([]int, len(paths))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			ma, mb := metas[idx[a]], metas[idx[b]]
			if len(ma.RawTimes) == 0 || len(mb.RawTimes) == 0 {
				return len(ma.RawTimes) > len(mb.RawTimes)
			}
			return ma.RawTimes[0] < mb.RawTimes[0]
		})
		sorted := make([]string, len(paths))
		sortedMeta := make([]*FileMeta, len(paths))
		for i, j := range idx {
			sorted[i], sortedMeta[i] = paths[j], metas[j]
		}

		first, last := sortedMeta[0], sortedMeta[len(sortedMeta)-1]
		start, okS := seriesStart(first)
		end, okE := seriesEnd(last)
		if !okS || !okE {
			log.WithFields(log.Fields{"group": g.Key}).Warn("no usable time values in group; skipping")
			continue
		}
		dh := groupDeltaHours(sortedMeta)
		freq, _ := first.GlobalAttrs["time_period_freq"].(string)

		template := filepath.Join(outputRoot, swapDirs(relativeDir(c.Root(), g.Dir), dirSwaps), g.Prefix)
		base := TimeSeriesOrder{
			SourcePaths:        sorted,
			OutputTemplate:     template,
			SecondaryVariables: first.Secondary,
			Timestamp:          timestampRange(start, end, dh),
			stepHours:          dh,
			freq:               freq,
		}
		if len(first.Primary) == 0 {
			o := base
			o.PrimaryVariable = AuxiliaryVariable
			ts.orders = append(ts.orders, o)
			continue
		}
		for _, pv := range first.Primary {
			o := base
			o.PrimaryVariable = pv
			ts.orders = append(ts.orders, o)
		}
	}
	return ts
}

// seriesStart is the first timestamp of a file, preferring time values over
// bounds.
func seriesStart(m *FileMeta) (CFTime, bool) {
	if len(m.Times) > 0 {
		return m.Times[0], true
	}
	if len(m.TimeBounds) > 0 {
		return m.TimeBounds[0][0], true
	}
	return CFTime{}, false
}

func seriesEnd(m *FileMeta) (CFTime, bool) {
	if len(m.Times) > 0 {
		return m.Times[len(m.Times)-1], true
	}
	if len(m.TimeBounds) > 0 {
		return m.TimeBounds[len(m.TimeBounds)-1][1], true
	}
	return CFTime{}, false
}

// groupDeltaHours derives the dominant timestep: from consecutive time
// values within the first file when it has several, else from the first time
// values of consecutive files, else from the first file's bound width.
func groupDeltaHours(metas []*FileMeta) float64 {
	m := metas[0]
	if len(m.RawTimes) >= 2 {
		return m.enc.deltaHours(m.RawTimes)
	}
	if len(metas) >= 2 && len(m.RawTimes) == 1 && len(metas[1].RawTimes) >= 1 {
		return (metas[1].RawTimes[0] - m.RawTimes[0]) * m.enc.unitSeconds / 3600
	}
	if len(m.RawBounds) > 0 {
		return (m.RawBounds[0][1] - m.RawBounds[0][0]) * m.enc.unitSeconds / 3600
	}
	return 0
}

// relativeDir strips the collection root prefix from a group directory.
func relativeDir(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(dir)
	}
	if rel == "." {
		return ""
	}
	return rel
}

// swapDirs applies directory-name substitutions segment by segment. When
// several keys occur in one segment the longest key wins.
func swapDirs(rel string, swaps map[string]string) string {
	if len(swaps) == 0 || rel == "" {
		return rel
	}
	segs := strings.Split(rel, string(filepath.Separator))
	for i, seg := range segs {
		bestKey := ""
		for k := range swaps {
			if k != "" && strings.Contains(seg, k) && len(k) > len(bestKey) {
				bestKey = k
			}
		}
		if bestKey != "" {
			segs[i] = strings.Replace(seg, bestKey, swaps[bestKey], -1)
		}
	}
	return strings.Join(segs, string(filepath.Separator))
}

// Orders returns a copy of the collection's orders.
func (ts *TimeSeriesCollection) Orders() []TimeSeriesOrder {
	out := make([]TimeSeriesOrder, len(ts.orders))
	copy(out, ts.orders)
	return out
}

// Source returns the FileCollection the orders were derived from.
func (ts *TimeSeriesCollection) Source() *FileCollection { return ts.source }

func (ts *TimeSeriesCollection) copyOrders() *TimeSeriesCollection {
	return &TimeSeriesCollection{source: ts.source, orders: ts.Orders()}
}

// Include keeps orders whose source paths match pathGlob and whose primary
// variable matches varGlob. Empty globs match everything.
func (ts *TimeSeriesCollection) Include(pathGlob, varGlob string) *TimeSeriesCollection {
	nc := &TimeSeriesCollection{source: ts.source}
	for _, o := range ts.orders {
		if o.matches(pathGlob, varGlob) {
			nc.orders = append(nc.orders, o)
		}
	}
	return nc
}

// Exclude drops orders whose source paths match pathGlob and whose primary
// variable matches varGlob.
func (ts *TimeSeriesCollection) Exclude(pathGlob, varGlob string) *TimeSeriesCollection {
	nc := &TimeSeriesCollection{source: ts.source}
	for _, o := range ts.orders {
		if !o.matches(pathGlob, varGlob) {
			nc.orders = append(nc.orders, o)
		}
	}
	return nc
}

// ApplyPathSwap substitutes match with replacement in the output templates
// of the selected orders.
func (ts *TimeSeriesCollection) ApplyPathSwap(match, replacement, pathGlob, varGlob string) *TimeSeriesCollection {
	nc := ts.copyOrders()
	for i, o := range nc.orders {
		if o.matches(pathGlob, varGlob) {
			nc.orders[i].OutputTemplate = strings.Replace(o.OutputTemplate, match, replacement, -1)
		}
	}
	return nc
}

// ApplyCompression sets the compression level and algorithm ("gzip" or
// "zstd") on the selected orders.
func (ts *TimeSeriesCollection) ApplyCompression(level int, algorithm, pathGlob, varGlob string) *TimeSeriesCollection {
	nc := ts.copyOrders()
	for i, o := range nc.orders {
		if o.matches(pathGlob, varGlob) {
			nc.orders[i].CompressionLevel = level
			nc.orders[i].CompressionAlgorithm = algorithm
		}
	}
	return nc
}

// ApplyOverwrite marks the selected orders to regenerate existing outputs.
func (ts *TimeSeriesCollection) ApplyOverwrite(pathGlob, varGlob string) *TimeSeriesCollection {
	return ts.setOverwrite(true, pathGlob, varGlob)
}

// RemoveOverwrite clears the overwrite flag on the selected orders.
func (ts *TimeSeriesCollection) RemoveOverwrite(pathGlob, varGlob string) *TimeSeriesCollection {
	return ts.setOverwrite(false, pathGlob, varGlob)
}

func (ts *TimeSeriesCollection) setOverwrite(v bool, pathGlob, varGlob string) *TimeSeriesCollection {
	nc := ts.copyOrders()
	for i, o := range nc.orders {
		if o.matches(pathGlob, varGlob) {
			nc.orders[i].Overwrite = v
		}
	}
	return nc
}

// AppendTimestepDirs inserts a "{unit}_{count}" directory named after each
// order's dominant cadence (e.g. month_1) in front of the output file name.
func (ts *TimeSeriesCollection) AppendTimestepDirs() *TimeSeriesCollection {
	nc := ts.copyOrders()
	for i, o := range nc.orders {
		label := timestepLabel(o.stepHours, o.freq)
		nc.orders[i].OutputTemplate = filepath.Join(filepath.Dir(o.OutputTemplate), label, filepath.Base(o.OutputTemplate))
	}
	return nc
}

// Execute writes every order, fanning out over pool (nil runs serially), and
// returns the output paths of the successful orders plus one error per
// failed order. A failing order never aborts its siblings.
func (ts *TimeSeriesCollection) Execute(pool *WorkerPool) ([]string, []error) {
	paths := make([]string, len(ts.orders))
	errs := pool.Map(len(ts.orders), func(i int) error {
		p, err := WriteOrder(ts.orders[i])
		if err != nil {
			return fmt.Errorf("tsgen: writing order for %s: %v", ts.orders[i].OutputPath(), err)
		}
		paths[i] = p
		return nil
	})
	var written []string
	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, err)
			continue
		}
		written = append(written, paths[i])
	}
	return written, failed
}
