package seal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/stage"
)

func buildStage(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	os.MkdirAll(filepath.Join(src, "a"), 0755)
	os.WriteFile(filepath.Join(src, "a", "b.txt"), []byte("hello\n"), 0644)
	os.WriteFile(filepath.Join(src, "c.bin"), []byte{0x00, 0xFF}, 0755)

	out := filepath.Join(root, "out")
	os.MkdirAll(out, 0755)

	stagePath, err := stage.Create(stage.Options{
		OutputDir: out, ContentsSource: src,
		Name: "foo", Version: "1.0", Architecture: "x86_64", OS: "dhl2",
		Algorithm: digest.SHA256,
	})
	if err != nil {
		t.Fatalf("stage.Create: %v", err)
	}
	return stagePath
}

func TestSealStageComponentsReplacesDirsWithFiles(t *testing.T) {
	stagePath := buildStage(t)
	if err := SealStageComponents(stagePath, digest.SHA256, false); err != nil {
		t.Fatalf("SealStageComponents: %v", err)
	}
	for _, c := range []string{"contents", "hooks", "metadata"} {
		info, err := os.Lstat(filepath.Join(stagePath, c))
		if err != nil {
			t.Fatal(err)
		}
		if info.IsDir() {
			t.Errorf("%s should be a file after sealing", c)
		}
	}
	info, err := os.Lstat(filepath.Join(stagePath, "signatures"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Error("empty signatures/ should remain a directory")
	}
}

func TestSealIsIdempotentAtComponentLevel(t *testing.T) {
	stagePath := buildStage(t)
	if err := SealStageComponents(stagePath, digest.SHA256, false); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(filepath.Join(stagePath, "contents"))
	if err != nil {
		t.Fatal(err)
	}
	if err := SealStageComponents(stagePath, digest.SHA256, false); err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(filepath.Join(stagePath, "contents"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("re-sealing an already-sealed component changed its bytes")
	}
}

func TestSealFinalAndUnsealRoundTrip(t *testing.T) {
	stagePath := buildStage(t)
	dpmPath, err := SealFinal(stagePath, "", digest.SHA256, false)
	if err != nil {
		t.Fatalf("SealFinal: %v", err)
	}
	if filepath.Ext(dpmPath) != ".dpm" {
		t.Fatalf("output %s does not end in .dpm", dpmPath)
	}

	restoreDir := filepath.Join(filepath.Dir(stagePath), "restored")
	os.MkdirAll(restoreDir, 0755)
	restoredStage, err := UnsealPackage(dpmPath, restoreDir, false)
	if err != nil {
		t.Fatalf("UnsealPackage: %v", err)
	}
	if err := UnsealStageComponents(restoredStage); err != nil {
		t.Fatalf("UnsealStageComponents: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(restoredStage, "contents", "a", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("got %q", got)
	}
}

func TestUnsealRejectsWrongExtension(t *testing.T) {
	if _, err := UnsealPackage("/tmp/not-a-package.tar.gz", "", false); err == nil {
		t.Fatal("expected rejection of non-.dpm extension")
	}
}
