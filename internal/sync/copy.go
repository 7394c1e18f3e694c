package sync

import (
	"io"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/fetcher"
)

// copyFile copies src to dst through a temporary file in dst's directory, so
// dst is either the old file or a complete copy.
func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating directory %s", dir)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(dst)+"-*"+fetcher.PartSuffix)
	if err != nil {
		return errors.Wrapf(err, "creating temporary file in %s", dir)
	}

	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)

		return errors.Wrapf(err, "copying %s", src)
	}

	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)

		return errors.Wrapf(err, "writing %s", dst)
	}

	if err := fs.Rename(tmpName, dst); err != nil {
		_ = fs.Remove(tmpName)

		return errors.Wrapf(err, "replacing %s", dst)
	}

	return nil
}

// sameContent reports whether dst exists with the same content as src.
func sameContent(fs afero.Fs, src, dst string) (bool, error) {
	exists, err := afero.Exists(fs, dst)
	if err != nil || !exists {
		return false, err
	}

	srcInfo, err := fs.Stat(src)
	if err != nil {
		return false, err
	}

	dstInfo, err := fs.Stat(dst)
	if err != nil {
		return false, err
	}

	if srcInfo.Size() != dstInfo.Size() {
		return false, nil
	}

	return digest.SameFile(fs, src, dst)
}
