// Package verify implements the verifier: disk-based and in-memory
// checksum and signature verification of a stage or a sealed package. The
// in-memory path never extracts an attacker-controlled byte to disk before
// its digest has been checked.
package verify

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/darkhorselinux/dpm/internal/archive"
	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/metadata"
	"github.com/darkhorselinux/dpm/internal/pkgerr"
	"github.com/darkhorselinux/dpm/internal/seal"
	"github.com/darkhorselinux/dpm/internal/signature"
)

// Report accumulates the outcome of a verification pass: a count of
// mismatches and the human-readable detail for each, so a caller (e.g. the
// info module) can render a PASS/FAIL table without the verifier itself
// erroring out before the report is printed.
type Report struct {
	Checked  int
	Mismatch []string
	Warnings []string
}

func (r *Report) OK() bool { return len(r.Mismatch) == 0 }

// VerifyStage runs the full disk-based verification sequence against
// stageDir: it first uncompresses components (idempotent if already
// uncompressed), then checks the package digest, the contents manifest,
// and the hooks digest.
func VerifyStage(stageDir, algorithm string) (*Report, error) {
	if err := seal.UnsealStageComponents(stageDir); err != nil {
		return nil, err
	}

	report := &Report{}

	if err := verifyPackageDigestOnDisk(stageDir, algorithm, report); err != nil {
		return report, err
	}
	if err := verifyContentsManifestOnDisk(stageDir, algorithm, report); err != nil {
		return report, err
	}
	if err := verifyHooksDigestOnDisk(stageDir, algorithm, report); err != nil {
		return report, err
	}

	if !report.OK() {
		return report, pkgerr.New(pkgerr.DigestMismatch, fmt.Sprintf("%d digest mismatch(es)", len(report.Mismatch)))
	}
	return report, nil
}

func verifyPackageDigestOnDisk(stageDir, algorithm string, report *Report) error {
	contentsHex, hooksHex, err := metadata.DigestChainInputs(stageDir, algorithm)
	if err != nil {
		return err
	}
	recomputed, err := digest.String(algorithm, contentsHex+hooksHex)
	if err != nil {
		return err
	}
	stored, err := readTrim(filepath.Join(stageDir, "metadata", "PACKAGE_DIGEST"))
	if err != nil {
		return err
	}
	report.Checked++
	if recomputed != stored {
		report.Mismatch = append(report.Mismatch, "PACKAGE_DIGEST: stored "+stored+" != recomputed "+recomputed)
	}
	return nil
}

func verifyContentsManifestOnDisk(stageDir, algorithm string, report *Report) error {
	data, err := readFile(filepath.Join(stageDir, "metadata", "CONTENTS_MANIFEST_DIGEST"))
	if err != nil {
		return err
	}
	lines, malformed := metadata.ParseContentsManifest(data)
	for _, m := range malformed {
		report.Warnings = append(report.Warnings, "malformed manifest line: "+m)
	}
	for _, l := range lines {
		report.Checked++
		full := filepath.Join(stageDir, "contents", strings.TrimPrefix(l.Path, "/"))
		var gotHex string
		if l.Control == metadata.SymlinkDesignation {
			gotHex, err = digestSymlinkTarget(full, algorithm)
		} else {
			gotHex, err = digest.File(algorithm, full)
		}
		if err != nil {
			report.Mismatch = append(report.Mismatch, l.Path+": "+err.Error())
			continue
		}
		if gotHex != l.Hex {
			report.Mismatch = append(report.Mismatch, fmt.Sprintf("%s: stored %s != actual %s", l.Path, l.Hex, gotHex))
		}
	}
	return nil
}

func verifyHooksDigestOnDisk(stageDir, algorithm string, report *Report) error {
	data, err := readFile(filepath.Join(stageDir, "metadata", "HOOKS_DIGEST"))
	if err != nil {
		return err
	}
	lines, malformed := metadata.ParseHooksDigest(data)
	for _, m := range malformed {
		report.Warnings = append(report.Warnings, "malformed hooks digest line: "+m)
	}
	for _, l := range lines {
		report.Checked++
		full := filepath.Join(stageDir, "hooks", l.Filename)
		gotHex, err := digest.File(algorithm, full)
		if err != nil {
			report.Mismatch = append(report.Mismatch, l.Filename+": "+err.Error())
			continue
		}
		if gotHex != l.Hex {
			report.Mismatch = append(report.Mismatch, fmt.Sprintf("%s: stored %s != actual %s", l.Filename, l.Hex, gotHex))
		}
	}
	return nil
}

// InMemoryReport carries the same check tallies as Report, plus signature
// results, for a verification pass that never touched disk.
type InMemoryReport struct {
	Report
	Signatures map[string]signature.Result
}

// VerifyPackageInMemory performs the in-memory verification surface: it
// pulls the four inner archives out of the outer .dpm via
// archive.ExtractMemberFromFile, then never reads another byte from disk.
// Every subsequent extraction is archive.ExtractMemberFromBytes against an
// already-resident buffer.
func VerifyPackageInMemory(dpmPath, algorithm string, keyring *signature.Keyring, expectedKeyID string) (*InMemoryReport, error) {
	stageName := strings.TrimSuffix(filepath.Base(dpmPath), ".dpm")

	metadataArchive, err := archive.ExtractMemberFromFile(dpmPath, filepath.Join(stageName, "metadata"))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.MemberNotFound, "extracting metadata component", err)
	}
	contentsArchive, err := archive.ExtractMemberFromFile(dpmPath, filepath.Join(stageName, "contents"))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.MemberNotFound, "extracting contents component", err)
	}
	hooksArchive, err := archive.ExtractMemberFromFile(dpmPath, filepath.Join(stageName, "hooks"))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.MemberNotFound, "extracting hooks component", err)
	}
	signaturesArchive, sigErr := archive.ExtractMemberFromFile(dpmPath, filepath.Join(stageName, "signatures"))
	hasSignatures := sigErr == nil

	report := &InMemoryReport{Signatures: map[string]signature.Result{}}

	packageDigestBuf, err := archive.ExtractMemberFromBytes(metadataArchive, "metadata/PACKAGE_DIGEST")
	if err != nil {
		return nil, err
	}
	contentsManifestBuf, err := archive.ExtractMemberFromBytes(metadataArchive, "metadata/CONTENTS_MANIFEST_DIGEST")
	if err != nil {
		return nil, err
	}
	hooksDigestBuf, err := archive.ExtractMemberFromBytes(metadataArchive, "metadata/HOOKS_DIGEST")
	if err != nil {
		return nil, err
	}

	contentsHex, err := digest.Bytes(algorithm, contentsManifestBuf)
	if err != nil {
		return nil, err
	}
	hooksHex, err := digest.Bytes(algorithm, hooksDigestBuf)
	if err != nil {
		return nil, err
	}
	recomputed, err := digest.String(algorithm, contentsHex+hooksHex)
	if err != nil {
		return nil, err
	}
	report.Checked++
	stored := strings.TrimSpace(string(packageDigestBuf))
	if recomputed != stored {
		report.Mismatch = append(report.Mismatch, "PACKAGE_DIGEST: stored "+stored+" != recomputed "+recomputed)
	}

	lines, malformed := metadata.ParseContentsManifest(contentsManifestBuf)
	for _, m := range malformed {
		report.Warnings = append(report.Warnings, "malformed manifest line: "+m)
	}
	for _, l := range lines {
		report.Checked++
		memberName := "contents" + l.Path
		var gotHex string
		if l.Control == metadata.SymlinkDesignation {
			var target string
			target, err = archive.ExtractSymlinkTargetFromBytes(contentsArchive, memberName)
			if err == nil {
				gotHex, err = digest.String(algorithm, target)
			}
		} else {
			var fileBuf []byte
			fileBuf, err = archive.ExtractMemberFromBytes(contentsArchive, memberName)
			if err == nil {
				gotHex, err = digest.Bytes(algorithm, fileBuf)
			}
		}
		if err != nil {
			report.Mismatch = append(report.Mismatch, l.Path+": "+err.Error())
			continue
		}
		if gotHex != l.Hex {
			report.Mismatch = append(report.Mismatch, fmt.Sprintf("%s: stored %s != actual %s", l.Path, l.Hex, gotHex))
		}
	}

	// Recompute per-file hook digests and compare line-by-line, symmetric
	// with contents verification above, not a whole-archive digest against
	// a single-line HOOKS_DIGEST.
	hookLines, hookMalformed := metadata.ParseHooksDigest(hooksDigestBuf)
	for _, m := range hookMalformed {
		report.Warnings = append(report.Warnings, "malformed hooks digest line: "+m)
	}
	for _, l := range hookLines {
		report.Checked++
		memberName := "hooks/" + l.Filename
		fileBuf, err := archive.ExtractMemberFromBytes(hooksArchive, memberName)
		if err != nil {
			report.Mismatch = append(report.Mismatch, l.Filename+": "+err.Error())
			continue
		}
		gotHex, err := digest.Bytes(algorithm, fileBuf)
		if err != nil {
			return nil, err
		}
		if gotHex != l.Hex {
			report.Mismatch = append(report.Mismatch, fmt.Sprintf("%s: stored %s != actual %s", l.Filename, l.Hex, gotHex))
		}
	}

	if hasSignatures && keyring != nil {
		for _, comp := range []struct {
			name string
			buf  []byte
		}{{"contents", contentsArchive}, {"hooks", hooksArchive}, {"metadata", metadataArchive}} {
			sigBuf, err := archive.ExtractMemberFromBytes(signaturesArchive, "signatures/"+comp.name+".signature")
			if err != nil {
				continue // signatures/ may legitimately omit a component
			}
			result, verr := keyring.VerifyDetached(bytes.NewReader(comp.buf), sigBuf, expectedKeyID)
			report.Signatures[comp.name] = result
			if verr != nil {
				report.Mismatch = append(report.Mismatch, comp.name+" signature: "+verr.Error())
			}
		}
	}

	if !report.OK() {
		return report, pkgerr.New(pkgerr.DigestMismatch, fmt.Sprintf("%d mismatch(es)", len(report.Mismatch)))
	}
	return report, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.PathNotFound, "reading "+path, err)
	}
	return data, nil
}

func readTrim(path string) (string, error) {
	data, err := readFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func digestSymlinkTarget(linkPath, algorithm string) (string, error) {
	target, err := os.Readlink(linkPath)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.Undefined, "reading symlink "+linkPath, err)
	}
	return digest.String(algorithm, target)
}
