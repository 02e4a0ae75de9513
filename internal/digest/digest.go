// Package digest implements the configurable cryptographic hash primitives
// used throughout the stage, seal, and verify pipelines.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// Algorithm names recognized by the provider, matching cryptography.checksum_algorithm.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA224 = "sha224"
	SHA256 = "sha256"
	SHA384 = "sha384"
	SHA512 = "sha512"
)

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA256, "":
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, pkgerr.New(pkgerr.AlgorithmNotSup, "unknown checksum algorithm "+algorithm)
	}
}

// Bytes returns the lowercase hex digest of b under algorithm.
func Bytes(algorithm string, b []byte) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// String returns the lowercase hex digest of s under algorithm.
func String(algorithm string, s string) (string, error) {
	return Bytes(algorithm, []byte(s))
}

// File streams path in bounded chunks and returns its lowercase hex digest.
func File(algorithm string, path string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.PathNotFound, "opening "+path, err)
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", pkgerr.Wrap(pkgerr.Undefined, "reading "+path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Supported reports whether algorithm is one of the provider's known names.
func Supported(algorithm string) bool {
	_, err := newHash(algorithm)
	return err == nil
}
