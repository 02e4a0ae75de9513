// Package build implements the "build" lifecycle verb as a statically
// linked module: stage-build followed by sealing, driven through pflag for
// its GNU-style long options.
package build

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/logger"
	"github.com/darkhorselinux/dpm/internal/metrics"
	"github.com/darkhorselinux/dpm/internal/module"
	"github.com/darkhorselinux/dpm/internal/seal"
	"github.com/darkhorselinux/dpm/internal/stage"
)

const version = "1.0.0"
const description = "stage a contents tree and seal it into a .dpm package"

// Module is the build verb, registered with the runtime as a builtin.
type Module struct {
	Ctx     *module.Context
	Metrics *metrics.Collector
}

func (m *Module) Version() string     { return version }
func (m *Module) Description() string { return description }

// Execute parses argv (argv[0] == "build") and runs stage + seal.
func (m *Module) Execute(argv []string) int {
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	contentsSource := fs.String("contents", "", "path to the contents source tree or file")
	hooksSource := fs.String("hooks", "", "path to a hooks source tree (optional)")
	name := fs.String("name", "", "package name")
	version := fs.String("package-version", "", "package version")
	arch := fs.String("arch", "", "target architecture")
	osTag := fs.String("os", "", "target OS tag")
	outputDir := fs.String("output-dir", "", "directory to write the stage/sealed package into")
	force := fs.Bool("force", false, "overwrite an existing stage or sealed package")
	sealFinal := fs.Bool("seal", true, "seal the stage into a .dpm after staging")
	algorithm := fs.String("checksum-algorithm", digest.SHA256, "digest algorithm for the digest chain")

	if len(argv) > 1 {
		if err := fs.Parse(argv[1:]); err != nil {
			m.logError("parsing build arguments: " + err.Error())
			return 1
		}
	}

	if *name == "" || *version == "" || *arch == "" {
		m.logError("build requires --name, --package-version, and --arch")
		return 1
	}
	if *osTag == "" {
		if cfgOS, ok := m.Ctx.GetConfig("build", "os"); ok {
			*osTag = cfgOS
		}
	}

	stagePath, err := stage.Create(stage.Options{
		OutputDir:      *outputDir,
		ContentsSource: *contentsSource,
		HooksSource:    *hooksSource,
		Name:           *name,
		Version:        *version,
		Architecture:   *arch,
		OS:             *osTag,
		Force:          *force,
		Algorithm:      *algorithm,
	})
	if err != nil {
		m.logError("stage: " + err.Error())
		return 1
	}
	m.logInfo("staged " + stagePath)

	if !*sealFinal {
		return 0
	}

	sealStart := time.Now()
	dpmPath, err := seal.SealFinal(stagePath, *outputDir, *algorithm, *force)
	if m.Metrics != nil {
		m.Metrics.SealDuration.Observe(time.Since(sealStart).Seconds())
	}
	if err != nil {
		m.logError("seal: " + err.Error())
		return 1
	}
	m.logInfo("sealed " + dpmPath)
	return 0
}

func (m *Module) logError(msg string) {
	if m.Ctx != nil {
		m.Ctx.Log(logger.ERROR, msg)
		return
	}
	fmt.Println("error:", msg)
}

func (m *Module) logInfo(msg string) {
	if m.Ctx != nil {
		m.Ctx.Con(logger.INFO, msg)
	}
}
