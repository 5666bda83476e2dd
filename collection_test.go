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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestGroupDiscriminator(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"case.cam.h0.2001-01.nc", "case.cam.h0"},
		{"case.cam.h0.2001-01-01-00000.nc", "case.cam.h0"},
		{"b.e21.BHIST.f09.pop.h.2001.nc", "b.e21.BHIST.f09.pop"},
		{"a.b.c", "a"},
		{"foo.nc", "foo.nc"}, // too few segments: whole name
		{"bare", "bare"},
	}
	for _, test := range tests {
		if got := groupDiscriminator(test.name); got != test.want {
			t.Errorf("groupDiscriminator(%q) = %q, want %q", test.name, got, test.want)
		}
	}
}

func TestCalculateYearSlices(t *testing.T) {
	tests := []struct {
		size, min, max int
		want           [][2]int
	}{
		{10, 1850, 1859, [][2]int{{1850, 1859}}},
		{5, 1850, 1861, [][2]int{{1850, 1854}, {1855, 1859}, {1860, 1861}}},
		{10, 1855, 1872, [][2]int{{1855, 1859}, {1860, 1869}, {1870, 1872}}},
		{10, 1850, 1850, [][2]int{{1850, 1850}}},
		{1, 1850, 1852, [][2]int{{1850, 1850}, {1851, 1851}, {1852, 1852}}},
		{0, 1850, 1859, nil},
		{10, 1860, 1850, nil},
	}
	for _, test := range tests {
		got := CalculateYearSlices(test.size, test.min, test.max)
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("CalculateYearSlices(%d, %d, %d) = %v, want %v",
				test.size, test.min, test.max, got, test.want)
		}
	}
}

func TestFindAndGroup(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"atm/case.cam.h0.2001-01.nc",
		"atm/case.cam.h0.2001-02.nc",
		"atm/case.cam.h1.2001-01.nc",
		"ocn/case.pop.h.2001-01.nc",
		"atm/notes.txt", // does not match the pattern
	}
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.MkdirAll(filepath.Dir(p), 0777); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0666); err != nil {
			t.Fatal(err)
		}
	}

	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Paths()) != 4 {
		t.Fatalf("found %d files, want 4", len(c.Paths()))
	}

	groups := c.Groups()
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	// The grouping partitions the input exactly.
	total := 0
	seen := make(map[string]bool)
	for _, g := range groups {
		total += len(g.Paths)
		for _, p := range g.Paths {
			if seen[p] {
				t.Errorf("path %s in more than one group", p)
			}
			seen[p] = true
		}
	}
	if total != len(c.Paths()) {
		t.Errorf("groups hold %d paths, want %d", total, len(c.Paths()))
	}
	// Deterministic.
	if !reflect.DeepEqual(groups, c.Groups()) {
		t.Error("grouping is not deterministic")
	}
	if groups[0].Key != filepath.Join(dir, "atm")+"/case.cam.h0*" {
		t.Errorf("unexpected first group key %q", groups[0].Key)
	}
}

func TestIncludeExclude(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a/x.h0.2001-01.nc", "a/x.h1.2001-01.nc", "rest/x.h0.2001-01.nc"} {
		p := filepath.Join(dir, n)
		os.MkdirAll(filepath.Dir(p), 0777)
		if err := os.WriteFile(p, nil, 0666); err != nil {
			t.Fatal(err)
		}
	}
	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Exclude("*/rest/*"); len(got.Paths()) != 2 {
		t.Errorf("Exclude left %d paths, want 2", len(got.Paths()))
	}
	if got := c.Include("*.h0.*"); len(got.Paths()) != 2 {
		t.Errorf("Include kept %d paths, want 2", len(got.Paths()))
	}
	// The original is not modified.
	if len(c.Paths()) != 3 {
		t.Errorf("transform mutated the original collection")
	}
}

func TestPullMetadataAndValidity(t *testing.T) {
	dir := t.TempDir()
	good := writeMonthlyGroup(t, dir, "case.cam.h0", 2, []string{"T"})
	bad := filepath.Join(dir, "case.cam.h0.9999-01.nc")
	if err := os.WriteFile(bad, []byte("not netcdf"), 0666); err != nil {
		t.Fatal(err)
	}

	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)
	c, removed := c.CheckValidity()
	if len(removed) != 1 || removed[0] != bad {
		t.Errorf("removed = %v, want [%s]", removed, bad)
	}
	if !reflect.DeepEqual(c.Paths(), good) {
		t.Errorf("kept = %v, want %v", c.Paths(), good)
	}
	m := c.Meta(good[0])
	if m == nil {
		t.Fatal("no metadata for valid file")
	}
	if m.TimeName != "time" || m.BoundsName != "time_bnds" {
		t.Errorf("time=%q bounds=%q", m.TimeName, m.BoundsName)
	}
	if !reflect.DeepEqual(m.Primary, []string{"T"}) {
		t.Errorf("primary = %v, want [T]", m.Primary)
	}
	for _, s := range []string{"lat", "lon", "time", "time_bnds"} {
		found := false
		for _, v := range m.Secondary {
			if v == s {
				found = true
			}
		}
		if !found {
			t.Errorf("%s missing from secondary variables %v", s, m.Secondary)
		}
	}
}

func TestMissingTimeAxis(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "case.cam.h0.2001-01.nc")
	writeHistoryFile(t, p, historyFileOptions{
		times:     []float64{15},
		noTimeVar: true,
	})
	_, err := ExtractMeta(p)
	if !errors.Is(err, ErrMissingTimeAxis) {
		t.Errorf("ExtractMeta error = %v, want ErrMissingTimeAxis", err)
	}
}

func TestOutputNotReingested(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "case.cam.h0.2001-01.nc")
	writeHistoryFile(t, p, historyFileOptions{
		times:       []float64{15},
		variables:   []string{"T"},
		globalAttrs: map[string]interface{}{VersionAttribute: Version},
	})
	m, err := ExtractMeta(p)
	if err != nil {
		t.Fatal(err)
	}
	if m.Valid() {
		t.Error("file carrying the version marker should be invalid as input")
	}
}

func TestSliceGroups(t *testing.T) {
	dir := t.TempDir()
	writeMonthlyGroup(t, dir, "case.cam.h0", 24, []string{"T"})

	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)
	c, _ = c.CheckValidity()

	sliced := c.SliceGroups(1)
	groups := sliced.Groups()
	if len(groups) != 2 {
		t.Fatalf("got %d sliced groups, want 2", len(groups))
	}
	for i, g := range groups {
		if len(g.Paths) != 12 {
			t.Errorf("group %d has %d members, want 12", i, len(g.Paths))
		}
	}
	if groups[0].YearRange != [2]int{1850, 1850} || groups[1].YearRange != [2]int{1851, 1851} {
		t.Errorf("year ranges = %v, %v", groups[0].YearRange, groups[1].YearRange)
	}
	if want := c.Groups()[0].Key + "1850-1850"; groups[0].Key != want {
		t.Errorf("sliced key = %q, want %q", groups[0].Key, want)
	}
}

func TestSliceSingleFileGroup(t *testing.T) {
	dir := t.TempDir()
	writeMonthlyGroup(t, dir, "case.cam.h0", 1, []string{"T"})
	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)
	groups := c.SliceGroups(10).Groups()
	if len(groups) != 1 || len(groups[0].Paths) != 1 {
		t.Fatalf("single-file group not kept intact: %v", groups)
	}
	if groups[0].YearRange != [2]int{} {
		t.Errorf("single-file group should stay unsliced, got %v", groups[0].YearRange)
	}
}

func TestIncludeYears(t *testing.T) {
	dir := t.TempDir()
	paths := writeMonthlyGroup(t, dir, "case.cam.h0", 36, []string{"T"}) // 1850-1852
	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)

	got := c.IncludeYears(1851, 1851)
	if len(got.Paths()) != 12 {
		t.Fatalf("IncludeYears kept %d files, want 12", len(got.Paths()))
	}
	if !reflect.DeepEqual(got.Paths(), paths[12:24]) {
		t.Errorf("IncludeYears kept %v", got.Paths())
	}
}

func TestCheckGroupVariables(t *testing.T) {
	dir := t.TempDir()
	times, bounds := monthlyTimes(4)
	for i := 0; i < 4; i++ {
		vars := []string{"T", "Q"}
		if i == 3 {
			vars = []string{"U"} // divergent schema
		}
		writeHistoryFile(t, filepath.Join(dir, fmt4(i)), historyFileOptions{
			times:     times[i : i+1],
			bounds:    bounds[i : i+1],
			variables: vars,
		})
	}
	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)

	groups := c.CheckGroupVariables().Groups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Paths) != 3 {
		t.Errorf("majority filter kept %d members, want 3", len(groups[0].Paths))
	}
}

func TestCheckGroupVariablesTie(t *testing.T) {
	dir := t.TempDir()
	times, bounds := monthlyTimes(4)
	for i := 0; i < 4; i++ {
		vars := []string{"T"}
		if i >= 2 {
			vars = []string{"U"}
		}
		writeHistoryFile(t, filepath.Join(dir, fmt4(i)), historyFileOptions{
			times:     times[i : i+1],
			bounds:    bounds[i : i+1],
			variables: vars,
		})
	}
	c, err := FindHistoryFiles(dir, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)

	if groups := c.CheckGroupVariables().Groups(); len(groups) != 0 {
		t.Errorf("tied group should be dropped, got %v", groups)
	}
}

func fmt4(i int) string {
	return fmt.Sprintf("case.cam.h0.2001-%02d.nc", i+1)
}
