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

// Package tsgen reorganizes climate-model "history" output files into
// per-variable time series files.
//
// A model run writes one netCDF history file per timestep (or small batch of
// timesteps), each holding every output variable. Analysis wants the opposite
// layout: one file per variable spanning the whole run. This package
// discovers history files under a directory tree, partitions them into groups
// that belong to one logical time series, slices groups into bounded year
// windows, reconciles fragmented spatial tiling, and streams each primary
// variable into its own output file.
//
// The main entry points are FindHistoryFiles, which builds a FileCollection,
// and NewTimeSeriesCollection, which turns a collection's groups into
// TimeSeriesOrders that WriteOrder (or TimeSeriesCollection.Execute)
// materializes on disk. Collections are value-semantic: every transform
// returns a new collection and never mutates its receiver.
package tsgen

import "errors"

// Version is stamped into every output file as the VersionAttribute global
// attribute and checked when deciding whether an existing output is intact.
const Version = "1.0.0"

// VersionAttribute is the global attribute marking a file as produced by this
// package. Files carrying it are never re-ingested as input.
const VersionAttribute = "tsgen_version"

// ErrMissingTimeAxis indicates an input file with no time coordinate
// variable. A file without a time axis cannot participate in any time series.
var ErrMissingTimeAxis = errors.New("tsgen: no time coordinate variable")

// ErrFragmentationInconsistent indicates a group where some timestamps are
// covered by a different number of files than others, so the spatial tiles
// cannot be merged safely.
var ErrFragmentationInconsistent = errors.New("tsgen: inconsistent fragmentation")
