package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/seal"
	"github.com/darkhorselinux/dpm/internal/stage"
)

func buildSealedPackage(t *testing.T) (stagePath, dpmPath string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	os.MkdirAll(src, 0755)
	os.WriteFile(filepath.Join(src, "f.txt"), []byte("hello\n"), 0644)

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
	dpmPath, err = seal.SealFinal(stagePath, "", digest.SHA256, false)
	if err != nil {
		t.Fatalf("seal.SealFinal: %v", err)
	}
	return stagePath, dpmPath
}

func TestExecuteVerifiesSealedPackage(t *testing.T) {
	_, dpmPath := buildSealedPackage(t)
	m := &Module{}
	if code := m.Execute([]string{"verify", dpmPath}); code != 0 {
		t.Fatalf("Execute = %d, want 0", code)
	}
}

func TestExecuteVerifiesStage(t *testing.T) {
	stagePath, _ := buildSealedPackage(t)
	m := &Module{}
	if code := m.Execute([]string{"verify", stagePath}); code != 0 {
		t.Fatalf("Execute = %d, want 0", code)
	}
}

func TestExecuteRejectsMissingTarget(t *testing.T) {
	m := &Module{}
	if code := m.Execute([]string{"verify"}); code == 0 {
		t.Fatal("expected nonzero exit for missing target argument")
	}
}
