// Package manifest implements the batch build descriptor: a YAML file
// listing several packages to stage and seal in one CLI invocation,
// reusing the stage and seal packages unchanged per entry. It promises no
// partial-batch rollback. The run stops at the first failing entry,
// matching the single-threaded, no-transaction model the rest of the
// pipeline follows.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/darkhorselinux/dpm/internal/pkgerr"
	"github.com/darkhorselinux/dpm/internal/seal"
	"github.com/darkhorselinux/dpm/internal/stage"
)

// BatchPackage is one manifest entry: the same fields stage.Options takes,
// expressed as YAML-tagged strings so they can reference a batch's Defines
// via "{{.key}}" template substitution.
type BatchPackage struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Architecture string            `yaml:"architecture"`
	OS           string            `yaml:"os"`
	Contents     string            `yaml:"contents"`
	Hooks        string            `yaml:"hooks,omitempty"`
	OutputDir    string            `yaml:"output_dir"`
	Seal         bool              `yaml:"seal"`
	Algorithm    string            `yaml:"checksum_algorithm,omitempty"`
	Force        bool              `yaml:"force,omitempty"`
	Defines      map[string]string `yaml:"defines,omitempty"`
}

// Batch is a parsed manifest: shared defines plus an ordered package list.
type Batch struct {
	Defines  map[string]string `yaml:"defines,omitempty"`
	Packages []BatchPackage    `yaml:"packages"`

	filePath string
}

// LoadBatch parses a YAML batch manifest at path.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.PathNotFound, "reading batch manifest "+path, err)
	}
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, pkgerr.Wrap(pkgerr.ManifestParseFail, "parsing batch manifest "+path, err)
	}
	b.filePath = path
	return &b, nil
}

// Result is the outcome of staging (and optionally sealing) one batch entry.
type Result struct {
	Name      string
	StagePath string
	DpmPath   string
	Sealed    bool
}

// Run stages and seals each package in manifest order, stopping at the
// first error. notify, if non-nil, receives one event per staged and per
// sealed (or skipped) entry, plus a failure event before the error returns.
func (b *Batch) Run(notify Listener) ([]Result, error) {
	resolvedDir := "."
	if b.filePath != "" {
		resolvedDir = filepath.Dir(b.filePath)
	}

	var results []Result
	for _, pkg := range b.Packages {
		engine, err := newTemplateEngine(mergeDefines(b.Defines, pkg.Defines))
		if err != nil {
			notifyFailure(notify, pkg.Name, err)
			return results, err
		}

		opts, err := resolvePackageOptions(engine, pkg, resolvedDir)
		if err != nil {
			notifyFailure(notify, pkg.Name, err)
			return results, err
		}

		stagePath, err := stage.Create(opts)
		if err != nil {
			notifyFailure(notify, pkg.Name, err)
			return results, err
		}
		if notify != nil {
			notify(EventPackageStaged{Name: pkg.Name, Version: pkg.Version, Architecture: pkg.Architecture, StagePath: stagePath})
		}

		result := Result{Name: pkg.Name, StagePath: stagePath}
		if pkg.Seal {
			algorithm := pkg.Algorithm
			if algorithm == "" {
				algorithm = opts.Algorithm
			}
			dpmPath, err := seal.SealFinal(stagePath, opts.OutputDir, algorithm, pkg.Force)
			if err != nil {
				notifyFailure(notify, pkg.Name, err)
				return results, err
			}
			result.DpmPath = dpmPath
			result.Sealed = true
		}
		if notify != nil {
			notify(EventPackageSealed{Name: pkg.Name, DpmPath: result.DpmPath, Skipped: !pkg.Seal})
		}
		results = append(results, result)
	}
	return results, nil
}

func resolvePackageOptions(engine *templateEngine, pkg BatchPackage, baseDir string) (stage.Options, error) {
	render := func(field, value string) (string, error) {
		out, err := engine.render(field, value)
		if err != nil {
			return "", pkgerr.Wrap(pkgerr.ManifestParseFail, "rendering "+field, err)
		}
		return out, nil
	}

	name, err := render("name", pkg.Name)
	if err != nil {
		return stage.Options{}, err
	}
	version, err := render("version", pkg.Version)
	if err != nil {
		return stage.Options{}, err
	}
	arch, err := render("architecture", pkg.Architecture)
	if err != nil {
		return stage.Options{}, err
	}
	osTag, err := render("os", pkg.OS)
	if err != nil {
		return stage.Options{}, err
	}
	contents, err := render("contents", pkg.Contents)
	if err != nil {
		return stage.Options{}, err
	}
	hooks, err := render("hooks", pkg.Hooks)
	if err != nil {
		return stage.Options{}, err
	}
	outputDir, err := render("output_dir", pkg.OutputDir)
	if err != nil {
		return stage.Options{}, err
	}

	return stage.Options{
		OutputDir:      resolvePath(baseDir, outputDir),
		ContentsSource: resolvePath(baseDir, contents),
		HooksSource:    resolvePath(baseDir, hooks),
		Name:           name,
		Version:        version,
		Architecture:   arch,
		OS:             osTag,
		Force:          pkg.Force,
		Algorithm:      pkg.Algorithm,
	}, nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func mergeDefines(global, local map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(local))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	return merged
}

func notifyFailure(notify Listener, name string, err error) {
	if notify != nil {
		notify(EventBatchFailed{Name: name, Error: fmt.Sprint(err)})
	}
}
