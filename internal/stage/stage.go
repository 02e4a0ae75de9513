// Package stage implements the stage layout: creating and
// populating the four-directory layout of an unsealed package.
package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/darkhorselinux/dpm/internal/metadata"
	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// TemplateHooks is the fixed set of twelve lifecycle hook names written as
// no-op shell scripts when the caller supplies no hooks_source.
var TemplateHooks = []string{
	"PRE-INSTALL", "PRE-INSTALL_ROLLBACK",
	"POST-INSTALL", "POST-INSTALL_ROLLBACK",
	"PRE-UPDATE", "PRE-UPDATE_ROLLBACK",
	"POST-UPDATE", "POST-UPDATE_ROLLBACK",
	"PRE-REMOVE", "PRE-REMOVE_ROLLBACK",
	"POST-REMOVE", "POST-REMOVE_ROLLBACK",
}

const noopHookScript = "#!/bin/sh\nexit 0\n"

// Options describes a stage-build request.
type Options struct {
	OutputDir      string
	ContentsSource string
	HooksSource    string // optional
	Name           string
	Version        string
	Architecture   string
	OS             string
	Force          bool
	Algorithm      string
}

// StageName returns the canonical stage directory basename NAME-VERSION.OS.ARCH.
func (o Options) StageName() string {
	return fmt.Sprintf("%s-%s.%s.%s", o.Name, o.Version, o.OS, o.Architecture)
}

// Create builds a new stage directory under opts.OutputDir and returns its
// path. It copies contents_source and hooks_source, writes the hook
// templates when hooks_source is absent, and hands off to the metadata
// engine for the skeleton and initial digest chain.
func Create(opts Options) (string, error) {
	if opts.ContentsSource == "" {
		return "", pkgerr.New(pkgerr.CopyFailed, "contents_source is required")
	}
	if _, err := os.Stat(opts.ContentsSource); err != nil {
		return "", pkgerr.Wrap(pkgerr.PathNotFound, "contents_source "+opts.ContentsSource, err)
	}
	if opts.HooksSource != "" {
		if _, err := os.Stat(opts.HooksSource); err != nil {
			return "", pkgerr.Wrap(pkgerr.PathNotFound, "hooks_source "+opts.HooksSource, err)
		}
	}

	stagePath := filepath.Join(opts.OutputDir, opts.StageName())
	if _, err := os.Stat(stagePath); err == nil {
		if !opts.Force {
			return "", pkgerr.New(pkgerr.OutputExists, stagePath+" already exists")
		}
		if err := os.RemoveAll(stagePath); err != nil {
			return "", pkgerr.Wrap(pkgerr.CopyFailed, "removing existing stage", err)
		}
	}

	for _, d := range []string{"contents", "hooks", "metadata", "signatures"} {
		if err := os.MkdirAll(filepath.Join(stagePath, d), 0755); err != nil {
			return "", pkgerr.Wrap(pkgerr.CopyFailed, "creating "+d, err)
		}
	}

	if err := copyContents(opts.ContentsSource, filepath.Join(stagePath, "contents")); err != nil {
		return "", pkgerr.Wrap(pkgerr.CopyFailed, "copying contents_source", err)
	}

	if opts.HooksSource != "" {
		if err := copyHooks(opts.HooksSource, filepath.Join(stagePath, "hooks")); err != nil {
			return "", pkgerr.Wrap(pkgerr.CopyFailed, "copying hooks_source", err)
		}
	} else {
		if err := writeTemplateHooks(filepath.Join(stagePath, "hooks")); err != nil {
			return "", err
		}
	}

	if err := metadata.GenerateSkeleton(stagePath, opts.Name, opts.Version, opts.Architecture); err != nil {
		return "", err
	}
	if err := metadata.Refresh(stagePath, opts.Algorithm); err != nil {
		return "", err
	}

	return stagePath, nil
}

func writeTemplateHooks(hooksDir string) error {
	for _, name := range TemplateHooks {
		if err := os.WriteFile(filepath.Join(hooksDir, name), []byte(noopHookScript), 0755); err != nil {
			return pkgerr.Wrap(pkgerr.CopyFailed, "writing hook template "+name, err)
		}
	}
	return nil
}

// copyHooks mirrors src into dst and forces the executable bit 0755 on
// every regular file, per the stage-build contract for hooks_source.
func copyHooks(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, filepath.Join(dst, filepath.Base(src)), 0755)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue // hooks/ is flat, no subdirectories
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name()), 0755); err != nil {
			return err
		}
	}
	return nil
}

// copyContents recursively copies src into dst preserving file modes and
// symlinks. If src is a single file, it is copied as dst/<basename>.
func copyContents(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, filepath.Join(dst, filepath.Base(src)), info.Mode().Perm())
	}

	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel == "." {
			return nil
		}

		lst, err := os.Lstat(p)
		if err != nil {
			return err
		}
		switch {
		case lst.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case lst.IsDir():
			return os.MkdirAll(target, lst.Mode().Perm())
		default:
			return copyFile(p, target, lst.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
