package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhorselinux/dpm/internal/archive"
	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/metadata"
	"github.com/darkhorselinux/dpm/internal/seal"
	"github.com/darkhorselinux/dpm/internal/stage"
)

func buildSealedPackage(t *testing.T) (stagePath, dpmPath string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b.txt"), []byte("hello\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "c.bin"), []byte{0x00, 0xFF}, 0755))

	out := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(out, 0755))

	stagePath, err := stage.Create(stage.Options{
		OutputDir: out, ContentsSource: src,
		Name: "foo", Version: "1.0", Architecture: "x86_64", OS: "dhl2",
		Algorithm: digest.SHA256,
	})
	require.NoError(t, err, "stage.Create")

	dpmPath, err = seal.SealFinal(stagePath, "", digest.SHA256, false)
	require.NoError(t, err, "seal.SealFinal")
	return stagePath, dpmPath
}

// buildSealedPackageWithSymlink is buildSealedPackage plus one symlinked
// entry in contents/, exercising the "L" manifest designation end to end.
func buildSealedPackageWithSymlink(t *testing.T) (stagePath, dpmPath string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("hello\n"), 0644))
	require.NoError(t, os.Symlink("real.txt", filepath.Join(src, "link.txt")))

	out := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(out, 0755))

	stagePath, err := stage.Create(stage.Options{
		OutputDir: out, ContentsSource: src,
		Name: "foo", Version: "1.0", Architecture: "x86_64", OS: "dhl2",
		Algorithm: digest.SHA256,
	})
	require.NoError(t, err, "stage.Create")

	dpmPath, err = seal.SealFinal(stagePath, "", digest.SHA256, false)
	require.NoError(t, err, "seal.SealFinal")
	return stagePath, dpmPath
}

func TestVerifyStageHappyPath(t *testing.T) {
	stagePath, _ := buildSealedPackage(t)
	report, err := VerifyStage(stagePath, digest.SHA256)
	require.NoError(t, err)
	assert.True(t, report.OK(), "expected OK report, got mismatches: %v", report.Mismatch)
}

func TestVerifyStageDetectsTamper(t *testing.T) {
	stagePath, _ := buildSealedPackage(t)
	require.NoError(t, seal.UnsealStageComponents(stagePath))

	path := filepath.Join(stagePath, "contents", "a", "b.txt")
	require.NoError(t, os.WriteFile(path, []byte("tampered\n"), 0644))

	report, err := VerifyStage(stagePath, digest.SHA256)
	assert.Error(t, err, "expected verification failure on tampered content")
	assert.Len(t, report.Mismatch, 1)
}

func TestVerifyStageSymlinkRoundTrip(t *testing.T) {
	stagePath, _ := buildSealedPackageWithSymlink(t)
	require.NoError(t, seal.UnsealStageComponents(stagePath))

	report, err := VerifyStage(stagePath, digest.SHA256)
	require.NoError(t, err)
	assert.True(t, report.OK(), "expected OK report, got mismatches: %v", report.Mismatch)

	data, err := os.ReadFile(filepath.Join(stagePath, "metadata", "CONTENTS_MANIFEST_DIGEST"))
	require.NoError(t, err)
	lines, malformed := metadata.ParseContentsManifest(data)
	assert.Empty(t, malformed)

	var sawSymlink bool
	for _, l := range lines {
		if l.Path == "/link.txt" {
			sawSymlink = true
			assert.Equal(t, metadata.SymlinkDesignation, l.Control)
		}
	}
	assert.True(t, sawSymlink, "expected /link.txt in the contents manifest")
}

func TestVerifyStageDetectsRetargetedSymlink(t *testing.T) {
	stagePath, _ := buildSealedPackageWithSymlink(t)
	require.NoError(t, seal.UnsealStageComponents(stagePath))

	linkPath := filepath.Join(stagePath, "contents", "link.txt")
	require.NoError(t, os.Remove(linkPath))
	require.NoError(t, os.Symlink("elsewhere.txt", linkPath))

	report, err := VerifyStage(stagePath, digest.SHA256)
	assert.Error(t, err, "expected verification failure on a retargeted symlink")
	assert.Len(t, report.Mismatch, 1)
}

func TestVerifyPackageInMemory(t *testing.T) {
	_, dpmPath := buildSealedPackage(t)
	report, err := VerifyPackageInMemory(dpmPath, digest.SHA256, nil, "")
	require.NoError(t, err)
	assert.True(t, report.OK(), "expected OK report, got mismatches: %v", report.Mismatch)
}

func TestVerifyPackageInMemorySymlinkRoundTrip(t *testing.T) {
	_, dpmPath := buildSealedPackageWithSymlink(t)
	report, err := VerifyPackageInMemory(dpmPath, digest.SHA256, nil, "")
	require.NoError(t, err)
	assert.True(t, report.OK(), "expected OK report, got mismatches: %v", report.Mismatch)
	assert.GreaterOrEqual(t, report.Checked, 2, "expected both the real file and the symlink to be checked")
}

func TestVerifyPackageInMemoryDetectsComponentTamper(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("hello\n"), 0644))

	stagePath, err := stage.Create(stage.Options{
		OutputDir: root, ContentsSource: src,
		Name: "foo", Version: "1.0", Architecture: "x86_64", OS: "dhl2",
		Algorithm: digest.SHA256,
	})
	require.NoError(t, err)

	// Seal components only (contents/hooks/metadata become opaque gzip
	// files), then unpack the sealed contents archive, flip a byte of the
	// payload file, and repack it before packing the final .dpm: a repack
	// with a flipped byte that does not disturb the digest chain itself.
	require.NoError(t, seal.SealStageComponents(stagePath, digest.SHA256, false))

	contentsArchivePath := filepath.Join(stagePath, "contents")
	require.NoError(t, archive.SmartUncompress(contentsArchivePath))
	payloadPath := filepath.Join(contentsArchivePath, "f.txt")
	data, err := os.ReadFile(payloadPath)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(payloadPath, data, 0644))
	require.NoError(t, archive.SmartCompress(contentsArchivePath))

	dpmPath := filepath.Join(root, filepath.Base(stagePath)+".dpm")
	require.NoError(t, archive.CompressDir(stagePath, dpmPath))

	_, err = VerifyPackageInMemory(dpmPath, digest.SHA256, nil, "")
	assert.Error(t, err, "expected verification failure on tampered contents component")
}
