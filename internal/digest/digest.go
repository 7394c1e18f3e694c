// Package digest computes and compares "algo:hex" file checksums.
package digest

import (
	"crypto/md5" //nolint:gosec // CurseForge and some manifests publish md5
	"crypto/sha1" //nolint:gosec // Modrinth and CurseForge publish sha1
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Supported algorithms.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
	BLAKE3 = "blake3"
)

// FileHashAlgo is used for installed file fingerprints.
const FileHashAlgo = BLAKE3

// New returns a hasher for algo.
func New(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case MD5:
		return md5.New(), nil //nolint:gosec // checksum comparison only
	case SHA1:
		return sha1.New(), nil //nolint:gosec // checksum comparison only
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, errors.Newf("unsupported checksum algorithm %q", algo)
	}
}

// Parse splits "algo:hex". A bare 64-character hex string is taken as sha256.
func Parse(checksum string) (algo, sum string, err error) {
	checksum = strings.TrimSpace(checksum)
	if checksum == "" {
		return "", "", errors.New("empty checksum")
	}

	algo, sum, ok := strings.Cut(checksum, ":")
	if !ok {
		if len(checksum) == sha256.Size*2 {
			return SHA256, strings.ToLower(checksum), nil
		}

		return "", "", errors.Newf("checksum %q must be in algo:hex form", checksum)
	}

	algo = strings.ToLower(algo)
	if _, err := New(algo); err != nil {
		return "", "", err
	}

	if _, err := hex.DecodeString(sum); err != nil {
		return "", "", errors.Wrapf(err, "checksum %q is not hex", checksum)
	}

	return algo, strings.ToLower(sum), nil
}

// Format joins algo and sum.
func Format(algo, sum string) string {
	return strings.ToLower(algo) + ":" + strings.ToLower(sum)
}

// Reader hashes everything read from r.
func Reader(r io.Reader, algo string) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "hashing")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// File hashes the file at path.
func File(fs afero.Fs, path, algo string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	sum, err := Reader(f, algo)
	if err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}

	return sum, nil
}

// Fingerprint returns the blake3 "algo:hex" fingerprint of a file.
func Fingerprint(fs afero.Fs, path string) (string, error) {
	sum, err := File(fs, path, FileHashAlgo)
	if err != nil {
		return "", err
	}

	return Format(FileHashAlgo, sum), nil
}

// Verify checks the file at path against an "algo:hex" checksum.
func Verify(fs afero.Fs, path, checksum string) error {
	algo, want, err := Parse(checksum)
	if err != nil {
		return err
	}

	got, err := File(fs, path, algo)
	if err != nil {
		return err
	}

	if got != want {
		return errors.Newf("%s checksum mismatch: expected %s, got %s", algo, want, got)
	}

	return nil
}

// SameFile reports whether two files have identical content.
func SameFile(fs afero.Fs, a, b string) (bool, error) {
	ha, err := File(fs, a, FileHashAlgo)
	if err != nil {
		return false, err
	}

	hb, err := File(fs, b, FileHashAlgo)
	if err != nil {
		return false, err
	}

	return ha == hb, nil
}
