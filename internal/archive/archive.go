// Package archive implements the gzipped-tar codec: packing and
// unpacking directories on disk and in memory, including extracting a
// single named member from an in-memory archive without ever staging the
// archive itself to disk.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// gzipMagic are the two leading bytes of every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// countingWriter wraps an io.Writer and counts bytes written, matching the
// teacher's helper used when assembling ar/tar streams.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// CompressDir archives everything reachable under srcDir into a gzipped tar
// at outPath. The archive's sole top-level entry is filepath.Base(srcDir);
// every path inside is relative to that top.
func CompressDir(srcDir, outPath string) error {
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "resolving "+srcDir, err)
	}
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "resolving "+outPath, err)
	}
	if absSrc == absOut {
		return pkgerr.New(pkgerr.CopyFailed, "source and destination are the same path")
	}
	if _, err := os.Stat(filepath.Dir(absOut)); err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "output parent directory missing", err)
	}

	info, err := os.Lstat(absSrc)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "statting "+absSrc, err)
	}
	if !info.IsDir() {
		return pkgerr.New(pkgerr.PathNotDirectory, absSrc+" is not a directory")
	}

	f, err := os.Create(absOut)
	if err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "creating "+absOut, err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	top := filepath.Base(absSrc)

	var paths []string
	if err := filepath.Walk(absSrc, func(p string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	}); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "walking "+absSrc, err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := addEntry(tw, absSrc, top, p); err != nil {
			return pkgerr.Wrap(pkgerr.CopyFailed, "archiving "+p, err)
		}
	}
	return nil
}

func addEntry(tw *tar.Writer, srcRoot, top, path string) error {
	lst, err := os.Lstat(path)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(srcRoot, path)
	if err != nil {
		return err
	}
	name := top
	if rel != "." {
		name = filepath.ToSlash(filepath.Join(top, rel))
	}

	var link string
	if lst.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(lst, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if lst.IsDir() {
		hdr.Name += "/"
	}
	fillOwnership(hdr, lst)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if lst.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
	}
	return nil
}

// ExtractArchive is the inverse of CompressDir: it strips exactly one
// leading path component from every entry and reconstructs the tree under
// outDir, preserving mode and empty directories.
func ExtractArchive(archivePath, outDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "opening "+archivePath, err)
	}
	defer f.Close()

	return extractFrom(f, outDir)
}

func extractFrom(r io.Reader, outDir string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return pkgerr.Wrap(pkgerr.ArchiveCorrupt, "not a gzip stream", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "creating "+outDir, err)
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerr.Wrap(pkgerr.ArchiveCorrupt, "reading tar entries", err)
		}
		rel := stripFirstComponent(hdr.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(outDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0777); err != nil {
				return pkgerr.Wrap(pkgerr.CopyFailed, "creating dir "+target, err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return pkgerr.Wrap(pkgerr.CopyFailed, "creating symlink "+target, err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return pkgerr.Wrap(pkgerr.CopyFailed, "creating parent of "+target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return pkgerr.Wrap(pkgerr.CopyFailed, "creating "+target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return pkgerr.Wrap(pkgerr.CopyFailed, "writing "+target, err)
			}
			out.Close()
		}
	}
}

func stripFirstComponent(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimSuffix(name, "/")
	parts := strings.SplitN(name, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// ExtractMemberFromFile opens the archive at archivePath and returns the
// bytes of the first entry whose pathname equals memberPath exactly.
func ExtractMemberFromFile(archivePath, memberPath string) ([]byte, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.PathNotFound, "opening "+archivePath, err)
	}
	defer f.Close()
	return extractMember(f, memberPath)
}

// ExtractMemberFromBytes is ExtractMemberFromFile sourced from a memory
// buffer rather than disk. This is the operation that lets verification
// run without ever trusting extraction side effects.
func ExtractMemberFromBytes(archiveBytes []byte, memberPath string) ([]byte, error) {
	return extractMember(bytes.NewReader(archiveBytes), memberPath)
}

func extractMember(r io.Reader, memberPath string) ([]byte, error) {
	hdr, tr, err := findMember(r, memberPath)
	if err != nil {
		return nil, err
	}
	if hdr.Typeflag == tar.TypeSymlink {
		return nil, pkgerr.New(pkgerr.MemberNotFound, memberPath+" is a symlink, not a regular file")
	}
	return io.ReadAll(tr)
}

// ExtractSymlinkTargetFromBytes returns the link target string of the
// symlink member named memberPath, sourced from a memory buffer. Symlinks
// carry no body in a tar stream, so this reads the header's Linkname rather
// than the entry's content bytes.
func ExtractSymlinkTargetFromBytes(archiveBytes []byte, memberPath string) (string, error) {
	hdr, _, err := findMember(bytes.NewReader(archiveBytes), memberPath)
	if err != nil {
		return "", err
	}
	if hdr.Typeflag != tar.TypeSymlink {
		return "", pkgerr.New(pkgerr.MemberNotFound, memberPath+" is not a symlink")
	}
	return hdr.Linkname, nil
}

func findMember(r io.Reader, memberPath string) (*tar.Header, *tar.Reader, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.ArchiveCorrupt, "not a gzip stream", err)
	}
	tr := tar.NewReader(gr)

	want := strings.TrimPrefix(memberPath, "./")
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, nil, pkgerr.New(pkgerr.MemberNotFound, memberPath+" not found in archive")
		}
		if err != nil {
			return nil, nil, pkgerr.Wrap(pkgerr.ArchiveCorrupt, "reading tar entries", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		name = strings.TrimSuffix(name, "/")
		if name == want {
			return hdr, tr, nil
		}
	}
}

// IsGzipped checks the magic bytes 0x1F 0x8B at the start of path.
func IsGzipped(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.PathNotFound, "opening "+path, err)
	}
	defer f.Close()
	buf := make([]byte, 2)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false, pkgerr.Wrap(pkgerr.Undefined, "reading magic bytes of "+path, err)
	}
	return n == 2 && bytes.Equal(buf, gzipMagic), nil
}

// SmartCompress is an idempotence helper used by the sealer: it no-ops when
// componentPath already names a gzipped file, compresses-then-replaces it
// when it is a directory, and fails for anything else.
func SmartCompress(componentPath string) error {
	info, err := os.Lstat(componentPath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "statting "+componentPath, err)
	}
	if info.Mode().IsRegular() {
		gz, err := IsGzipped(componentPath)
		if err != nil {
			return err
		}
		if gz {
			return nil
		}
		return pkgerr.New(pkgerr.ArchiveCorrupt, componentPath+" is a regular file but not gzipped")
	}
	if !info.IsDir() {
		return pkgerr.New(pkgerr.PathNotDirectory, componentPath+" is neither a directory nor a gzip file")
	}

	tmp := componentPath + ".tmp"
	_ = os.Remove(tmp)
	if err := CompressDir(componentPath, tmp); err != nil {
		return err
	}
	if err := os.RemoveAll(componentPath); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "removing "+componentPath, err)
	}
	if err := os.Rename(tmp, componentPath); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "renaming compressed component into place", err)
	}
	return nil
}

// SmartUncompress is the inverse of SmartCompress: a no-op on an existing
// directory, and an atomic extract-then-replace when componentPath names a
// gzipped file. On any failure the sibling temporary is removed and the
// original file is left intact.
func SmartUncompress(componentPath string) error {
	info, err := os.Lstat(componentPath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "statting "+componentPath, err)
	}
	if info.IsDir() {
		return nil
	}
	if !info.Mode().IsRegular() {
		return pkgerr.New(pkgerr.PathNotDirectory, componentPath+" is neither a directory nor a regular file")
	}

	tmp := componentPath + ".tmp"
	_ = os.RemoveAll(tmp)
	if err := ExtractArchive(componentPath, tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	backup := componentPath + ".orig"
	_ = os.Remove(backup)
	if err := os.Rename(componentPath, backup); err != nil {
		os.RemoveAll(tmp)
		return pkgerr.Wrap(pkgerr.CopyFailed, "moving aside "+componentPath, err)
	}
	if err := os.Rename(tmp, componentPath); err != nil {
		os.Rename(backup, componentPath)
		os.RemoveAll(tmp)
		return pkgerr.Wrap(pkgerr.CopyFailed, "renaming extracted component into place", err)
	}
	os.Remove(backup)
	return nil
}

// fillOwnership resolves numeric uid/gid from the local passwd/group
// databases, falling back to the bare id when no entry exists. Mirrors
// the fallback behavior the metadata engine's manifest lines need.
func fillOwnership(hdr *tar.Header, info os.FileInfo) {
	uid, gid, ok := platformOwnership(info)
	if !ok {
		return
	}
	hdr.Uid = uid
	hdr.Gid = gid
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		hdr.Uname = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
		hdr.Gname = g.Name
	}
}
