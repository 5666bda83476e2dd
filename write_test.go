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
	"os"
	"path/filepath"
	"testing"
	"time"
)

// singleOrder prepares one order for variable v over a monthly stream of n
// files.
func singleOrder(t *testing.T, root, out string, n int, vars []string, v string) TimeSeriesOrder {
	t.Helper()
	writeMonthlyGroup(t, filepath.Join(root, "atm"), "case.cam.h0", n, vars)
	c, err := FindHistoryFiles(root, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(nil)
	c, _ = c.CheckValidity()
	for _, o := range NewTimeSeriesCollection(c, out, nil).Orders() {
		if o.PrimaryVariable == v {
			return o
		}
	}
	t.Fatalf("no order for variable %s", v)
	return TimeSeriesOrder{}
}

func TestWriteOrderRoundTrip(t *testing.T) {
	order := singleOrder(t, t.TempDir(), t.TempDir(), 3, []string{"T", "Q"}, "T")

	out, err := WriteOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	if out != order.OutputPath() {
		t.Errorf("wrote %s, want %s", out, order.OutputPath())
	}
	if !CheckIntegrity(out) {
		t.Fatal("output fails the integrity check")
	}

	c, err := openContainer(out)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if got := c.File.Header.GetAttribute("", VersionAttribute); got != Version {
		t.Errorf("version attribute = %v, want %v", got, Version)
	}
	if got := c.File.Header.GetAttribute("", "case"); got != "testcase" {
		t.Errorf("case attribute = %v", got)
	}
	if nr := c.NumRecs(); nr != 3 {
		t.Errorf("output holds %d records, want 3", nr)
	}

	vars := c.File.Header.Variables()
	for _, want := range []string{"T", "time", "time_bnds", "lat", "lon"} {
		found := false
		for _, v := range vars {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Errorf("variable %s missing from output %v", want, vars)
		}
	}
	// The other primary variable stays out of this order's output.
	for _, v := range vars {
		if v == "Q" {
			t.Error("foreign primary variable Q leaked into output")
		}
	}

	// Every timestep carries the matching source record.
	for step := 0; step < 3; step++ {
		r := c.File.Reader("T", []int{step, 0, 0}, []int{step + 1, 0, 0})
		buf := r.Zero(12)
		if _, err := r.Read(buf); err != nil {
			t.Fatal(err)
		}
		// Source files hold one timestep each, so each record was written
		// as local step 0.
		for cell, got := range buf.([]float32) {
			if want := historyValue(0, 0, cell); got != want {
				t.Errorf("step %d cell %d = %g, want %g", step, cell, got, want)
			}
		}
		tr := c.File.Reader("time", []int{step}, []int{step + 1})
		tbuf := tr.Zero(1)
		if _, err := tr.Read(tbuf); err != nil {
			t.Fatal(err)
		}
		if got, want := tbuf.([]float64)[0], float64(step)*30+15; got != want {
			t.Errorf("time[%d] = %g, want %g", step, got, want)
		}
	}
}

func TestWriteOrderIdempotent(t *testing.T) {
	order := singleOrder(t, t.TempDir(), t.TempDir(), 2, []string{"T"}, "T")

	out, err := WriteOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(out, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := WriteOrder(order); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if fi.ModTime().After(old.Add(time.Minute)) {
		t.Error("intact output was rewritten without the overwrite flag")
	}

	// With the flag set the file is regenerated.
	order.Overwrite = true
	if _, err := WriteOrder(order); err != nil {
		t.Fatal(err)
	}
	fi, err = os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().After(old.Add(time.Minute)) {
		t.Error("overwrite flag did not regenerate the output")
	}
}

func TestWriteOrderRepairsCorruptOutput(t *testing.T) {
	order := singleOrder(t, t.TempDir(), t.TempDir(), 2, []string{"T"}, "T")

	out, err := WriteOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	// Truncate to simulate an interrupted write.
	if err := os.Truncate(out, fi.Size()/2); err != nil {
		t.Fatal(err)
	}
	if CheckIntegrity(out) {
		t.Fatal("truncated file passes the integrity check")
	}

	if _, err := WriteOrder(order); err != nil {
		t.Fatal(err)
	}
	if !CheckIntegrity(out) {
		t.Error("corrupt output was not regenerated")
	}
}

func TestCompression(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	order := singleOrder(t, root, out, 4, []string{"T"}, "T")

	plain, err := WriteOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	plainSize := fileSize(t, plain)

	for _, algorithm := range []string{CompressionGzip, CompressionZstd} {
		o := order
		o.CompressionLevel = 5
		o.CompressionAlgorithm = algorithm
		o.OutputTemplate = filepath.Join(out, algorithm, "case.cam.h0")
		p, err := WriteOrder(o)
		if err != nil {
			t.Fatal(err)
		}
		if got := fileSize(t, p); got >= plainSize {
			t.Errorf("%s output (%d bytes) not smaller than plain (%d bytes)", algorithm, got, plainSize)
		}
		// The compressed file reads back transparently.
		if !CheckIntegrity(p) {
			t.Errorf("%s output fails the integrity check", algorithm)
		}
		c, err := openContainer(p)
		if err != nil {
			t.Fatal(err)
		}
		if nr := c.NumRecs(); nr != 4 {
			t.Errorf("%s output holds %d records, want 4", algorithm, nr)
		}
		c.Close()
	}
}

func TestEndToEnd(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	vars := []string{"T", "Q", "U", "V", "PS", "TS"}
	writeMonthlyGroup(t, filepath.Join(root, "atm"), "case.cam.h0", 120, vars)

	c, err := FindHistoryFiles(root, "*.nc")
	if err != nil {
		t.Fatal(err)
	}
	c = c.PullMetadata(&WorkerPool{Workers: 4})
	c, removed := c.CheckValidity()
	if len(removed) != 0 {
		t.Fatalf("valid files removed: %v", removed)
	}
	if got := c.Groups(); len(got) != 1 {
		t.Fatalf("got %d groups, want 1", len(got))
	}

	sliced := c.SliceGroups(1).CheckGroupVariables()
	if got := sliced.Groups(); len(got) != 10 {
		t.Fatalf("got %d year slices, want 10", len(got))
	}

	ts := NewTimeSeriesCollection(sliced, out, nil)
	if got := ts.Orders(); len(got) != 60 {
		t.Fatalf("got %d orders, want 60", len(got))
	}

	paths, errs := ts.Execute(&WorkerPool{Workers: 2})
	if len(errs) > 0 {
		t.Fatalf("execute errors: %v", errs)
	}
	if len(paths) != 60 {
		t.Fatalf("wrote %d files, want 60", len(paths))
	}
	for _, p := range paths {
		if !CheckIntegrity(p) {
			t.Errorf("%s fails the integrity check", p)
		}
		cc, err := openContainer(p)
		if err != nil {
			t.Fatal(err)
		}
		if nr := cc.NumRecs(); nr != 12 {
			t.Errorf("%s holds %d records, want 12", p, nr)
		}
		cc.Close()
	}

	// A second run touches nothing.
	again, errs := ts.Execute(nil)
	if len(errs) > 0 || len(again) != 60 {
		t.Fatalf("rerun wrote %d files with errors %v", len(again), errs)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi.Size()
}
