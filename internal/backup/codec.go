package backup

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression names.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionXZ   = "xz"
)

type codec struct {
	name   string
	ext    string
	writer func(io.Writer) (io.WriteCloser, error)
	reader func(io.Reader) (io.ReadCloser, error)
}

var codecs = []codec{
	{
		name: CompressionNone,
		ext:  "",
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return nopWriteCloser{w}, nil
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
	},
	{
		name: CompressionZstd,
		ext:  ".zst",
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}

			return d.IOReadCloser(), nil
		},
	},
	{
		name: CompressionXZ,
		ext:  ".xz",
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}

			return io.NopCloser(xr), nil
		},
	},
}

func codecByName(name string) (codec, error) {
	if name == "" {
		name = CompressionZstd
	}

	for _, c := range codecs {
		if c.name == name {
			return c, nil
		}
	}

	return codec{}, errors.Newf("unknown backup compression %q", name)
}

// codecForFile picks the codec from a backup file's extension. Files without
// a compression extension are stored as is.
func codecForFile(name string) codec {
	for _, c := range codecs {
		if c.ext != "" && len(name) > len(c.ext) && name[len(name)-len(c.ext):] == c.ext {
			return c
		}
	}

	return codecs[0]
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
