// Package seal implements the two-phase sealer/unsealer: idempotent
// directory<->archive transformation for components, then for the whole
// package.
package seal

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/darkhorselinux/dpm/internal/archive"
	"github.com/darkhorselinux/dpm/internal/metadata"
	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// components lists the four stage children in the order compression must
// apply them: metadata embeds the digest chain over the other two in their
// directory form, so it must never be compressed first.
var components = []string{"contents", "hooks", "metadata", "signatures"}

// SealStageComponents refreshes the metadata, then replaces each component
// directory in place with a gzipped tar of itself. signatures/ is left as
// an empty directory when it has no entries, never archived empty. When
// metadata is already an archive (the stage is sealed at component level)
// the refresh is skipped and already-compressed components keep their bytes.
func SealStageComponents(stageDir, algorithm string, force bool) error {
	_ = force // force only relaxes filesystem collisions, not digest validation; nothing to relax here
	metaInfo, err := os.Lstat(filepath.Join(stageDir, "metadata"))
	alreadySealed := err == nil && metaInfo.Mode().IsRegular()
	if !alreadySealed {
		if err := metadata.Refresh(stageDir, algorithm); err != nil {
			return pkgerr.Wrap(pkgerr.Undefined, "refreshing metadata before sealing", err)
		}
	}

	for _, c := range components {
		path := filepath.Join(stageDir, c)
		if c == "signatures" {
			empty, err := dirIsEmpty(path)
			if err != nil {
				return err
			}
			if empty {
				continue
			}
		}
		if err := archive.SmartCompress(path); err != nil {
			return pkgerr.Wrap(pkgerr.Undefined, "compressing component "+c, err)
		}
	}
	return nil
}

func dirIsEmpty(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.PathNotFound, "statting "+path, err)
	}
	if !info.IsDir() {
		return false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.Undefined, "reading "+path, err)
	}
	return len(entries) == 0, nil
}

// SealFinal runs SealStageComponents, then packs the whole stage directory
// into a single gzipped tar at outputDir/<stage-basename>.dpm (or next to
// the stage if outputDir is empty).
func SealFinal(stageDir, outputDir, algorithm string, force bool) (string, error) {
	if err := SealStageComponents(stageDir, algorithm, force); err != nil {
		return "", err
	}

	base := filepath.Base(stageDir)
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(stageDir)
	}
	outputPath := filepath.Join(dir, base+".dpm")

	if err := archive.CompressDir(stageDir, outputPath); err != nil {
		return "", pkgerr.Wrap(pkgerr.Undefined, "sealing final package", err)
	}
	return outputPath, nil
}

// UnsealPackage extracts a .dpm archive back into a stage directory.
// Refuses any path without the mandatory, case-sensitive .dpm extension.
func UnsealPackage(dpmPath, outputDir string, force bool) (string, error) {
	if !strings.HasSuffix(dpmPath, ".dpm") {
		return "", pkgerr.New(pkgerr.PathNotDirectory, dpmPath+" does not have the mandatory .dpm extension")
	}
	base := strings.TrimSuffix(filepath.Base(dpmPath), ".dpm")

	parent := outputDir
	if parent == "" {
		parent = filepath.Dir(dpmPath)
	}
	stagePath := filepath.Join(parent, base)

	if err := checkUnsealTarget(stagePath, base, force); err != nil {
		return "", err
	}

	if err := archive.ExtractArchive(dpmPath, stagePath); err != nil {
		return "", pkgerr.Wrap(pkgerr.Undefined, "unsealing "+dpmPath, err)
	}
	return stagePath, nil
}

// checkUnsealTarget refuses to unseal into a target directory unless it
// is absent, empty, or its name matches the sealed stage's basename
// exactly.
func checkUnsealTarget(stagePath, stageBase string, force bool) error {
	info, err := os.Stat(stagePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return pkgerr.Wrap(pkgerr.Undefined, "statting unseal target", err)
	}
	if !info.IsDir() {
		if !force {
			return pkgerr.New(pkgerr.OutputExists, stagePath+" exists and is not a directory")
		}
		return nil
	}
	if filepath.Base(stagePath) == stageBase {
		return nil
	}
	entries, err := os.ReadDir(stagePath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.Undefined, "reading unseal target", err)
	}
	if len(entries) == 0 {
		return nil
	}
	if !force {
		return pkgerr.New(pkgerr.OutputExists, stagePath+" exists, is non-empty, and does not match the sealed stage name")
	}
	return nil
}

// UnsealStageComponents requires that contents, hooks, metadata, and
// signatures all exist (signatures may be a file or an empty directory),
// and restores each compressed component to a directory via
// archive.SmartUncompress.
func UnsealStageComponents(stageDir string) error {
	for _, c := range components {
		path := filepath.Join(stageDir, c)
		if _, err := os.Lstat(path); err != nil {
			return pkgerr.Wrap(pkgerr.PathNotFound, "component "+c+" missing from stage", err)
		}
	}
	for _, c := range components {
		path := filepath.Join(stageDir, c)
		if err := archive.SmartUncompress(path); err != nil {
			return pkgerr.Wrap(pkgerr.Undefined, "uncompressing component "+c, err)
		}
	}
	return nil
}
