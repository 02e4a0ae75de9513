// Package metadata implements the metadata engine: generating and
// refreshing the digest-chain files inside a stage, and parsing them back
// into structured records for the verifier.
package metadata

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// FileSet is the fixed set of metadata files a fresh stage carries,
// matching the external-interfaces metadata file set exactly.
var FileSet = []string{
	"NAME", "VERSION", "ARCHITECTURE", "AUTHOR", "MAINTAINER",
	"DEPENDENCIES", "DESCRIPTION", "LICENSE", "PROVIDES", "REPLACES",
	"SOURCE", "CHANGELOG", "CONTENTS_MANIFEST_DIGEST", "HOOKS_DIGEST",
	"PACKAGE_DIGEST",
}

// ControlledDesignation marks a file as controlled by the package; the
// reserved extension point for future non-controlled entries.
const ControlledDesignation = "C"

// SymlinkDesignation marks a contents/ entry that is a symlink rather than
// a regular file. The manifest digests the link target string, not
// resolved content.
const SymlinkDesignation = "L"

// GenerateSkeleton writes the fixed metadata file set into stageDir/metadata.
// NAME/VERSION/ARCHITECTURE get the supplied values with no trailing
// newline; everything else starts as an empty placeholder. It does not
// compute any digest.
func GenerateSkeleton(stageDir, name, version, arch string) error {
	metaDir := filepath.Join(stageDir, "metadata")
	known := map[string]string{
		"NAME":         name,
		"VERSION":      version,
		"ARCHITECTURE": arch,
	}
	for _, f := range FileSet {
		path := filepath.Join(metaDir, f)
		content := known[f]
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return pkgerr.Wrap(pkgerr.CopyFailed, "writing metadata file "+f, err)
		}
	}
	return nil
}

// ManifestLine is one parsed entry of CONTENTS_MANIFEST_DIGEST.
type ManifestLine struct {
	Control string
	Hex     string
	Octal   string
	Owner   string
	Group   string
	Path    string // absolute, leading "/"
}

// GenerateContentsManifest walks stageDir/contents in lexicographic order
// on the relative path and writes metadata/CONTENTS_MANIFEST_DIGEST.
// Directories are skipped; symlinks are recorded with SymlinkDesignation
// and a digest of their target string rather than resolved content.
func GenerateContentsManifest(stageDir, algorithm string) error {
	contentsDir := filepath.Join(stageDir, "contents")
	manifestPath := filepath.Join(stageDir, "metadata", "CONTENTS_MANIFEST_DIGEST")

	var relPaths []string
	if err := filepath.Walk(contentsDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == contentsDir {
			return nil
		}
		rel, relErr := filepath.Rel(contentsDir, p)
		if relErr != nil {
			return relErr
		}
		relPaths = append(relPaths, rel)
		return nil
	}); err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "walking "+contentsDir, err)
	}
	sort.Strings(relPaths)

	var lines []string
	for _, rel := range relPaths {
		full := filepath.Join(contentsDir, rel)
		lst, err := os.Lstat(full)
		if err != nil {
			return pkgerr.Wrap(pkgerr.PathNotFound, "statting "+full, err)
		}
		if lst.IsDir() {
			continue
		}

		absPath := "/" + filepath.ToSlash(rel)
		perms := fmt.Sprintf("%04o", uint32(lst.Mode().Perm()))
		owner, group := resolveOwnership(lst)

		if lst.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return pkgerr.Wrap(pkgerr.Undefined, "reading symlink "+full, err)
			}
			hex, err := digest.String(algorithm, target)
			if err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("%s %s %s %s:%s %s", SymlinkDesignation, hex, perms, owner, group, absPath))
			continue
		}

		if !lst.Mode().IsRegular() {
			continue
		}

		hex, err := digest.File(algorithm, full)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s:%s %s", ControlledDesignation, hex, perms, owner, group, absPath))
	}

	out := strings.Join(lines, "\n")
	if len(lines) > 0 {
		out += "\n"
	}
	if err := os.WriteFile(manifestPath, []byte(out), 0644); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "writing "+manifestPath, err)
	}
	return nil
}

func resolveOwnership(info os.FileInfo) (owner, group string) {
	uid, gid, ok := statOwnership(info)
	if !ok {
		return "0", "0"
	}
	owner = strconv.Itoa(uid)
	group = strconv.Itoa(gid)
	if u, err := user.LookupId(owner); err == nil {
		owner = u.Username
	}
	if g, err := user.LookupGroupId(group); err == nil {
		group = g.Name
	}
	return owner, group
}

// HookLine is one parsed entry of HOOKS_DIGEST.
type HookLine struct {
	Hex      string
	Filename string
}

// GenerateHooksDigest walks stageDir/hooks in lexicographic order and
// writes one "HEX filename" line per regular file to metadata/HOOKS_DIGEST.
func GenerateHooksDigest(stageDir, algorithm string) error {
	hooksDir := filepath.Join(stageDir, "hooks")
	digestPath := filepath.Join(stageDir, "metadata", "HOOKS_DIGEST")

	entries, err := os.ReadDir(hooksDir)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "reading "+hooksDir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		hex, err := digest.File(algorithm, filepath.Join(hooksDir, name))
		if err != nil {
			return err
		}
		lines = append(lines, hex+" "+name)
	}
	out := strings.Join(lines, "\n")
	if len(lines) > 0 {
		out += "\n"
	}
	if err := os.WriteFile(digestPath, []byte(out), 0644); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "writing "+digestPath, err)
	}
	return nil
}

// GeneratePackageDigest reads CONTENTS_MANIFEST_DIGEST and HOOKS_DIGEST as
// raw bytes, computes H(H(contents) || H(hooks)) by concatenating the two
// lowercase hex strings, and writes the result to metadata/PACKAGE_DIGEST.
func GeneratePackageDigest(stageDir, algorithm string) error {
	contentsHex, hooksHex, err := DigestChainInputs(stageDir, algorithm)
	if err != nil {
		return err
	}
	composed, err := digest.String(algorithm, contentsHex+hooksHex)
	if err != nil {
		return err
	}
	path := filepath.Join(stageDir, "metadata", "PACKAGE_DIGEST")
	if err := os.WriteFile(path, []byte(composed), 0644); err != nil {
		return pkgerr.Wrap(pkgerr.CopyFailed, "writing "+path, err)
	}
	return nil
}

// DigestChainInputs computes H(CONTENTS_MANIFEST_DIGEST file bytes) and
// H(HOOKS_DIGEST file bytes), the two operands of the package digest
// composition law, shared by both generation and verification.
func DigestChainInputs(stageDir, algorithm string) (contentsHex, hooksHex string, err error) {
	metaDir := filepath.Join(stageDir, "metadata")
	contentsHex, err = digest.File(algorithm, filepath.Join(metaDir, "CONTENTS_MANIFEST_DIGEST"))
	if err != nil {
		return "", "", err
	}
	hooksHex, err = digest.File(algorithm, filepath.Join(metaDir, "HOOKS_DIGEST"))
	if err != nil {
		return "", "", err
	}
	return contentsHex, hooksHex, nil
}

// Refresh regenerates the full digest chain from current disk state, in
// the mandated order: contents manifest, then hooks digest, then package
// digest. Any failure aborts before later steps run, per the propagation
// policy (a failure in metadata refresh aborts sealing before any byte is
// written to the component archives).
func Refresh(stageDir, algorithm string) error {
	if err := GenerateContentsManifest(stageDir, algorithm); err != nil {
		return err
	}
	if err := GenerateHooksDigest(stageDir, algorithm); err != nil {
		return err
	}
	return GeneratePackageDigest(stageDir, algorithm)
}

// ParseContentsManifest parses CONTENTS_MANIFEST_DIGEST bytes into
// ManifestLine records. Malformed lines are reported via malformed and
// skipped rather than aborting the parse.
func ParseContentsManifest(data []byte) (lines []ManifestLine, malformed []string) {
	for _, raw := range strings.Split(string(data), "\n") {
		if raw == "" {
			continue
		}
		fields := strings.SplitN(raw, " ", 5)
		if len(fields) != 5 {
			malformed = append(malformed, raw)
			continue
		}
		ownerGroup := strings.SplitN(fields[3], ":", 2)
		if len(ownerGroup) != 2 {
			malformed = append(malformed, raw)
			continue
		}
		lines = append(lines, ManifestLine{
			Control: fields[0],
			Hex:     fields[1],
			Octal:   fields[2],
			Owner:   ownerGroup[0],
			Group:   ownerGroup[1],
			Path:    fields[4],
		})
	}
	return lines, malformed
}

// ParseHooksDigest parses HOOKS_DIGEST bytes into HookLine records.
func ParseHooksDigest(data []byte) (lines []HookLine, malformed []string) {
	for _, raw := range strings.Split(string(data), "\n") {
		if raw == "" {
			continue
		}
		fields := strings.SplitN(raw, " ", 2)
		if len(fields) != 2 {
			malformed = append(malformed, raw)
			continue
		}
		lines = append(lines, HookLine{Hex: fields[0], Filename: fields[1]})
	}
	return lines, malformed
}
