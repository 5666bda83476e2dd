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
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Filename grouping parameters: the discriminator is the part of a filename
// before the groupKeyDepth-th-from-last delimiter, which strips the trailing
// date stamp and extension while keeping the component/stream tag
// ("case.cam.h0.2001-01.nc" groups on "case.cam.h0").
const (
	groupDelimiter = "."
	groupKeyDepth  = 2
)

// A Group is the set of history files that belong to one logical time
// series: same parent directory, same filename discriminator, and (after
// slicing) the same year window.
type Group struct {
	// Key is the display form "{dir}/{prefix}*" with "{start}-{end}"
	// appended for sliced groups.
	Key    string
	Dir    string
	Prefix string
	// YearRange is [start,end] for a sliced group, or [0,0] when unsliced.
	YearRange [2]int
	Paths     []string
}

// A FileCollection is a set of discovered history files, optionally paired
// with extracted metadata, plus a derived grouping. All transforms return a
// new collection; a FileCollection is never mutated after construction, so
// concurrent readers need no locking.
type FileCollection struct {
	root   string
	paths  []string
	meta   map[string]*FileMeta
	groups []Group
}

// FindHistoryFiles walks root recursively and collects every file whose name
// matches pattern (a filepath.Match pattern applied to the base name only,
// e.g. "*.nc"). Unreadable directories are logged and skipped.
func FindHistoryFiles(root, pattern string) (*FileCollection, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("tsgen: finding history files under %s: bad pattern %q: %v", root, pattern, err)
	}
	var paths []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			log.WithFields(log.Fields{"path": p}).Warnf("skipping unreadable path: %v", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, info.Name()); ok {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tsgen: finding history files under %s: %v", root, err)
	}
	sort.Strings(paths)
	return &FileCollection{root: root, paths: paths, meta: make(map[string]*FileMeta)}, nil
}

// Root returns the directory the collection was discovered under.
func (c *FileCollection) Root() string { return c.root }

// Paths returns the collection's file paths in sorted order.
func (c *FileCollection) Paths() []string {
	out := make([]string, len(c.paths))
	copy(out, c.paths)
	return out
}

// Meta returns the extracted metadata for path, or nil if none has been
// pulled.
func (c *FileCollection) Meta(path string) *FileMeta { return c.meta[path] }

// copyWith builds a new collection holding the given paths, carrying over
// any metadata already extracted for them. The groups cache is not carried:
// a narrower path set invalidates it.
func (c *FileCollection) copyWith(paths []string) *FileCollection {
	nc := &FileCollection{root: c.root, paths: paths, meta: make(map[string]*FileMeta, len(paths))}
	for _, p := range paths {
		if m, ok := c.meta[p]; ok {
			nc.meta[p] = m
		}
	}
	return nc
}

// PullMetadata extracts metadata for every file that does not have it yet,
// fanning the per-file work out over pool (nil runs serially). Extraction
// failures are logged and leave the file without metadata; CheckValidity
// removes such files.
func (c *FileCollection) PullMetadata(pool *WorkerPool) *FileCollection {
	nc := c.copyWith(c.paths)
	var missing []string
	for _, p := range c.paths {
		if nc.meta[p] == nil {
			missing = append(missing, p)
		}
	}
	metas := make([]*FileMeta, len(missing))
	errs := pool.Map(len(missing), func(i int) error {
		m, err := ExtractMeta(missing[i])
		metas[i] = m
		return err
	})
	for i, p := range missing {
		if errs[i] != nil {
			log.WithFields(log.Fields{"path": p}).Warnf("excluding file: %v", errs[i])
			continue
		}
		nc.meta[p] = metas[i]
	}
	return nc
}

// CheckValidity drops every file whose metadata is missing or invalid and
// returns the narrowed collection along with the removed paths.
func (c *FileCollection) CheckValidity() (*FileCollection, []string) {
	var kept, removed []string
	for _, p := range c.paths {
		if c.meta[p].Valid() {
			kept = append(kept, p)
		} else {
			removed = append(removed, p)
			log.WithFields(log.Fields{"path": p}).Warn("excluding file with invalid metadata")
		}
	}
	return c.copyWith(kept), removed
}

// Include keeps only files matching at least one of the path globs.
func (c *FileCollection) Include(globs ...string) *FileCollection {
	var kept []string
	for _, p := range c.paths {
		if matchAnyGlob(globs, p) {
			kept = append(kept, p)
		}
	}
	return c.copyWith(kept)
}

// Exclude drops every file matching at least one of the path globs.
func (c *FileCollection) Exclude(globs ...string) *FileCollection {
	var kept []string
	for _, p := range c.paths {
		if !matchAnyGlob(globs, p) {
			kept = append(kept, p)
		}
	}
	return c.copyWith(kept)
}

// IncludeYears keeps, among the files matching the path globs (nil means
// all), only those whose representative year falls within [startYear,
// endYear]. Files outside the globs pass through unchanged. Files without
// metadata cannot be placed in a year and are dropped with a warning.
func (c *FileCollection) IncludeYears(startYear, endYear int, globs ...string) *FileCollection {
	var kept []string
	for _, p := range c.paths {
		if len(globs) > 0 && !matchAnyGlob(globs, p) {
			kept = append(kept, p)
			continue
		}
		rep, ok := CFTime{}, false
		if m := c.meta[p]; m != nil {
			rep, ok = m.RepresentativeTime()
		}
		if !ok {
			log.WithFields(log.Fields{"path": p}).Warn("cannot determine year; excluding file")
			continue
		}
		if rep.Year >= startYear && rep.Year <= endYear {
			kept = append(kept, p)
		}
	}
	return c.copyWith(kept)
}

// groupDiscriminator strips the trailing groupKeyDepth delimiter-separated
// segments from a filename. Names with too few segments fall back to the
// whole name, so mixed naming schemes in one directory never crash grouping.
func groupDiscriminator(name string) string {
	parts := strings.Split(name, groupDelimiter)
	if len(parts) <= groupKeyDepth {
		return name
	}
	return strings.Join(parts[:len(parts)-groupKeyDepth], groupDelimiter)
}

// Groups partitions the collection's files into groups by parent directory
// and filename discriminator. The result is deterministic (sorted by key)
// and exact: every file lands in exactly one group. SliceGroups and
// CheckGroupVariables refine the grouping of the collections they return.
func (c *FileCollection) Groups() []Group {
	if c.groups != nil {
		return c.groups
	}
	byKey := make(map[string]*Group)
	var keys []string
	for _, p := range c.paths {
		dir := filepath.Dir(p)
		disc := groupDiscriminator(filepath.Base(p))
		key := dir + "/" + disc + "*"
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, Dir: dir, Prefix: disc}
			byKey[key] = g
			keys = append(keys, key)
		}
		g.Paths = append(g.Paths, p)
	}
	sort.Strings(keys)
	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		sort.Strings(byKey[k].Paths)
		groups = append(groups, *byKey[k])
	}
	return groups
}

// CalculateYearSlices produces contiguous [start,end] year windows of length
// sliceSize covering [minYear,maxYear]. Window boundaries align to multiples
// of sliceSize; the first window's start is clamped up to minYear and the
// last window's end down to maxYear, so only the outer windows may be short.
func CalculateYearSlices(sliceSize, minYear, maxYear int) [][2]int {
	if sliceSize <= 0 || maxYear < minYear {
		return nil
	}
	start := int(floorDiv(int64(minYear), int64(sliceSize))) * sliceSize
	var out [][2]int
	for s := start; s <= maxYear; s += sliceSize {
		lo, hi := s, s+sliceSize-1
		if lo < minYear {
			lo = minYear
		}
		if hi > maxYear {
			hi = maxYear
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

// SliceGroups returns a collection whose groups are partitioned into year
// windows of sliceYears. Each member file is assigned to the one window
// containing its representative year. A single-file group is ambiguous to
// slice and is kept intact with a warning. sliceYears <= 0 leaves the
// grouping unchanged.
func (c *FileCollection) SliceGroups(sliceYears int) *FileCollection {
	nc := c.copyWith(c.paths)
	if sliceYears <= 0 {
		nc.groups = c.Groups()
		return nc
	}
	var out []Group
	for _, g := range c.Groups() {
		if len(g.Paths) == 1 {
			log.WithFields(log.Fields{"group": g.Key}).Warn("cannot slice single-file group; keeping intact")
			out = append(out, g)
			continue
		}
		years := make(map[string]int, len(g.Paths))
		minY, maxY := 0, 0
		first := true
		for _, p := range g.Paths {
			m := c.meta[p]
			rep, ok := CFTime{}, false
			if m != nil {
				rep, ok = m.RepresentativeTime()
			}
			if !ok {
				log.WithFields(log.Fields{"path": p, "group": g.Key}).Warn("no representative time; excluding from sliced group")
				continue
			}
			years[p] = rep.Year
			if first || rep.Year < minY {
				minY = rep.Year
			}
			if first || rep.Year > maxY {
				maxY = rep.Year
			}
			first = false
		}
		if first { // no member had a usable time
			log.WithFields(log.Fields{"group": g.Key}).Warn("no time metadata in group; keeping unsliced")
			out = append(out, g)
			continue
		}
		for _, w := range CalculateYearSlices(sliceYears, minY, maxY) {
			var sub []string
			for _, p := range g.Paths {
				if y, ok := years[p]; ok && y >= w[0] && y <= w[1] {
					sub = append(sub, p)
				}
			}
			if len(sub) == 0 {
				continue
			}
			out = append(out, Group{
				Key:       fmt.Sprintf("%s%d-%d", g.Key, w[0], w[1]),
				Dir:       g.Dir,
				Prefix:    g.Prefix,
				YearRange: w,
				Paths:     sub,
			})
		}
	}
	nc.groups = out
	return nc
}

// CheckGroupVariables enforces a consistent variable schema within every
// group: members whose variable-name set differs from the group's majority
// set are dropped with a warning. When no unique majority exists the whole
// group is dropped; ambiguous schemas are not guessed at.
func (c *FileCollection) CheckGroupVariables() *FileCollection {
	nc := c.copyWith(c.paths)
	var out []Group
	for _, g := range c.Groups() {
		counts := make(map[string]int)
		sigs := make(map[string]string, len(g.Paths))
		for _, p := range g.Paths {
			sig := ""
			if m := c.meta[p]; m != nil {
				sig = strings.Join(m.Variables, "\x00")
			}
			sigs[p] = sig
			counts[sig]++
		}
		best, nbest := 0, 0
		bestSig := ""
		for sig, n := range counts {
			if n > best {
				best, nbest, bestSig = n, 1, sig
			} else if n == best {
				nbest++
			}
		}
		if nbest > 1 {
			log.WithFields(log.Fields{"group": g.Key}).Warn("no majority variable set; dropping group")
			continue
		}
		kept := g
		kept.Paths = nil
		for _, p := range g.Paths {
			if sigs[p] == bestSig {
				kept.Paths = append(kept.Paths, p)
			} else {
				log.WithFields(log.Fields{"path": p, "group": g.Key}).Warn("variable set differs from group majority; excluding file")
			}
		}
		out = append(out, kept)
	}
	nc.groups = out
	return nc
}

// matchAnyGlob reports whether s matches any of the fnmatch-style globs.
// Unlike filepath.Match, '*' crosses path separators.
func matchAnyGlob(globs []string, s string) bool {
	for _, g := range globs {
		if matchGlob(g, s) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return globRegexp(pattern).MatchString(s)
}

func globRegexp(pattern string) *regexp.Regexp {
	q := regexp.QuoteMeta(pattern)
	q = strings.Replace(q, `\*`, `.*`, -1)
	q = strings.Replace(q, `\?`, `.`, -1)
	return regexp.MustCompile(`^` + q + `$`)
}
