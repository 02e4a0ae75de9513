package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/darkhorselinux/dpm/internal/digest"
)

func setupStage(t *testing.T) string {
	t.Helper()
	stage := filepath.Join(t.TempDir(), "foo-1.0.dhl2.x86_64")
	for _, d := range []string{"contents", "hooks", "metadata", "signatures"} {
		if err := os.MkdirAll(filepath.Join(stage, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := GenerateSkeleton(stage, "foo", "1.0", "x86_64"); err != nil {
		t.Fatalf("GenerateSkeleton: %v", err)
	}
	return stage
}

func TestGenerateSkeletonFieldsAndPlaceholders(t *testing.T) {
	stage := setupStage(t)
	name, err := os.ReadFile(filepath.Join(stage, "metadata", "NAME"))
	if err != nil || string(name) != "foo" {
		t.Fatalf("NAME = %q, %v", name, err)
	}
	desc, err := os.ReadFile(filepath.Join(stage, "metadata", "DESCRIPTION"))
	if err != nil || string(desc) != "" {
		t.Fatalf("DESCRIPTION should start empty, got %q", desc)
	}
	for _, f := range FileSet {
		if _, err := os.Stat(filepath.Join(stage, "metadata", f)); err != nil {
			t.Errorf("metadata file %s missing: %v", f, err)
		}
	}
}

func TestContentsManifestAndPackageDigest(t *testing.T) {
	stage := setupStage(t)
	os.MkdirAll(filepath.Join(stage, "contents", "a"), 0755)
	os.WriteFile(filepath.Join(stage, "contents", "a", "b.txt"), []byte("hello\n"), 0644)
	os.WriteFile(filepath.Join(stage, "contents", "c.bin"), []byte{0x00, 0xFF}, 0755)

	if err := Refresh(stage, digest.SHA256); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(stage, "metadata", "CONTENTS_MANIFEST_DIGEST"))
	if err != nil {
		t.Fatal(err)
	}
	lines, malformed := ParseContentsManifest(manifestBytes)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed lines: %v", malformed)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 manifest lines, got %d", len(lines))
	}

	wantHex, _ := digest.File(digest.SHA256, filepath.Join(stage, "contents", "a", "b.txt"))
	found := false
	for _, l := range lines {
		if l.Path == "/a/b.txt" {
			found = true
			if l.Hex != wantHex {
				t.Errorf("digest mismatch for /a/b.txt: got %s want %s", l.Hex, wantHex)
			}
		}
	}
	if !found {
		t.Fatal("manifest missing /a/b.txt")
	}

	contentsHex, hooksHex, err := DigestChainInputs(stage, digest.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	wantPackageDigest, err := digest.String(digest.SHA256, contentsHex+hooksHex)
	if err != nil {
		t.Fatal(err)
	}
	gotPackageDigest, err := os.ReadFile(filepath.Join(stage, "metadata", "PACKAGE_DIGEST"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(gotPackageDigest)) != wantPackageDigest {
		t.Fatalf("PACKAGE_DIGEST = %s, want %s", gotPackageDigest, wantPackageDigest)
	}
}

func TestContentsManifestRecordsSymlinkTarget(t *testing.T) {
	stage := setupStage(t)
	os.WriteFile(filepath.Join(stage, "contents", "real.txt"), []byte("hello\n"), 0644)
	if err := os.Symlink("real.txt", filepath.Join(stage, "contents", "link.txt")); err != nil {
		t.Fatal(err)
	}

	if err := GenerateContentsManifest(stage, digest.SHA256); err != nil {
		t.Fatalf("GenerateContentsManifest: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(stage, "metadata", "CONTENTS_MANIFEST_DIGEST"))
	if err != nil {
		t.Fatal(err)
	}
	lines, malformed := ParseContentsManifest(data)
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed lines: %v", malformed)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 manifest lines, got %d", len(lines))
	}

	var link *ManifestLine
	for i := range lines {
		if lines[i].Path == "/link.txt" {
			link = &lines[i]
		}
	}
	if link == nil {
		t.Fatal("manifest missing /link.txt")
	}
	if link.Control != SymlinkDesignation {
		t.Errorf("control designation = %s, want %s", link.Control, SymlinkDesignation)
	}
	wantHex, err := digest.String(digest.SHA256, "real.txt")
	if err != nil {
		t.Fatal(err)
	}
	if link.Hex != wantHex {
		t.Errorf("symlink digest = %s, want digest of target string %q (%s)", link.Hex, "real.txt", wantHex)
	}
}

func TestManifestLineRoundTrips(t *testing.T) {
	stage := setupStage(t)
	os.WriteFile(filepath.Join(stage, "contents", "x.txt"), []byte("x"), 0644)
	if err := GenerateContentsManifest(stage, digest.SHA256); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(stage, "metadata", "CONTENTS_MANIFEST_DIGEST"))
	if err != nil {
		t.Fatal(err)
	}
	lines, malformed := ParseContentsManifest(data)
	if len(malformed) != 0 || len(lines) != 1 {
		t.Fatalf("unexpected parse: %v %v", lines, malformed)
	}
	if lines[0].Control != ControlledDesignation {
		t.Errorf("control designation = %s, want %s", lines[0].Control, ControlledDesignation)
	}
	wantHex, err := digest.File(digest.SHA256, filepath.Join(stage, "contents", "x.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if lines[0].Hex != wantHex || lines[0].Path != "/x.txt" {
		t.Errorf("parsed line = %+v, want hex %s and path /x.txt", lines[0], wantHex)
	}
}

func TestHooksDigestLexicographicOrder(t *testing.T) {
	stage := setupStage(t)
	os.WriteFile(filepath.Join(stage, "hooks", "POST-REMOVE"), []byte("#!/bin/sh\nexit 0\n"), 0755)
	os.WriteFile(filepath.Join(stage, "hooks", "PRE-INSTALL"), []byte("#!/bin/sh\nexit 0\n"), 0755)

	if err := GenerateHooksDigest(stage, digest.SHA256); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(stage, "metadata", "HOOKS_DIGEST"))
	lines, _ := ParseHooksDigest(data)
	if len(lines) != 2 || lines[0].Filename != "POST-REMOVE" || lines[1].Filename != "PRE-INSTALL" {
		t.Fatalf("hooks digest not lexicographically ordered: %+v", lines)
	}
}
