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

import "sync"

// WorkerPool runs independent work items concurrently. Components that can
// parallelize take a *WorkerPool parameter; passing nil runs the same work
// serially with identical results, so callers choose a worker count, not a
// different algorithm.
type WorkerPool struct {
	// Workers is the number of concurrent workers. Values below 2 run
	// serially.
	Workers int
}

// Map runs fn for every index in [0,n) and returns one error slot per index
// (nil on success). A failed item never stops the others.
func (p *WorkerPool) Map(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	if p == nil || p.Workers < 2 {
		for i := 0; i < n; i++ {
			errs[i] = fn(i)
		}
		return errs
	}

	jobChan := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobChan {
				errs[i] = fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()
	return errs
}
