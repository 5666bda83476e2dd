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
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithm names accepted by TimeSeriesOrder.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// A Container is an open netCDF file. Classic-format netCDF has no native
// compression, so outputs may be whole-file gzip or zstd streams; openContainer
// sniffs the magic bytes and decompresses into memory transparently, which
// keeps reads and the integrity check working on compressed outputs.
type Container struct {
	File *cdf.File

	path string
	size int64
	f    *os.File   // nil when decompressed in memory
	rw   cdf.ReaderWriterAt
}

func openContainer(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("tsgen: reading magic bytes of %s: %v", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	c := &Container{path: path}
	switch {
	case bytes.Equal(magic[:2], gzipMagic):
		err = c.decompress(f, func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) })
	case bytes.Equal(magic[:], zstdMagic):
		err = c.decompress(f, func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		})
	default:
		fi, err2 := f.Stat()
		if err2 != nil {
			f.Close()
			return nil, err2
		}
		c.f = f
		c.rw = f
		c.size = fi.Size()
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tsgen: decompressing %s: %v", path, err)
	}

	cf, err := cdf.Open(c.rw)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("tsgen: opening %s: %v", path, err)
	}
	c.File = cf
	return c, nil
}

func (c *Container) decompress(f *os.File, open func(io.Reader) (io.ReadCloser, error)) error {
	defer f.Close()
	r, err := open(f)
	if err != nil {
		return err
	}
	defer r.Close()
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.rw = readOnlyAt{bytes.NewReader(buf)}
	c.size = int64(len(buf))
	return nil
}

func (c *Container) Close() error {
	if c.f != nil {
		return c.f.Close()
	}
	return nil
}

// NumRecs returns the number of complete records in the file, derived from
// its size.
func (c *Container) NumRecs() int {
	return int(c.File.Header.NumRecs(c.size))
}

// numRecsField reads the numrecs header field directly. A value of -1
// ("streaming") means the writer never finished the file.
func (c *Container) numRecsField() (int32, error) {
	var buf [4]byte
	if _, err := c.rw.ReadAt(buf[:], 4); err != nil {
		return 0, err
	}
	return int32(buf[0])<<24 | int32(buf[1])<<16 | int32(buf[2])<<8 | int32(buf[3]), nil
}

// readOnlyAt adapts a bytes.Reader to the cdf storage interface for
// decompressed in-memory files.
type readOnlyAt struct {
	r *bytes.Reader
}

func (r readOnlyAt) ReadAt(p []byte, off int64) (int, error) { return r.r.ReadAt(p, off) }

func (r readOnlyAt) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("tsgen: file is read-only")
}

// compressFile streams src through the named compression algorithm into dst
// and removes src. Level follows the algorithm's own scale (gzip 1-9,
// zstd 1-22).
func compressFile(src, dst, algorithm string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	var w io.WriteCloser
	switch algorithm {
	case CompressionZstd:
		w, err = zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	case CompressionGzip, "":
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		w, err = gzip.NewWriterLevel(out, level)
	default:
		err = fmt.Errorf("unknown compression algorithm %q", algorithm)
	}
	if err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("tsgen: compressing %s: %v", dst, err)
	}

	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("tsgen: compressing %s: %v", dst, err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("tsgen: compressing %s: %v", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
