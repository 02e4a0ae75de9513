// Command dpm routes a verb (build, verify, info, or a dynamically loaded
// extension) to its module: find and load modules, route the command, and
// provide a module-agnostic callback surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/darkhorselinux/dpm/internal/config"
	"github.com/darkhorselinux/dpm/internal/logger"
	"github.com/darkhorselinux/dpm/internal/metrics"
	"github.com/darkhorselinux/dpm/internal/module"
	"github.com/darkhorselinux/dpm/internal/modules/build"
	"github.com/darkhorselinux/dpm/internal/modules/info"
	"github.com/darkhorselinux/dpm/internal/modules/verify"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	modulePathFlag := flag.String("module-path", "", "override the module search path")
	configDirFlag := flag.String("config-dir", "/etc/dpm", "directory of *.conf configuration files")
	logPathFlag := flag.String("log-file", "", "path to the log file (disabled when empty)")
	logLevelFlag := flag.String("log-level", "INFO", "FATAL, ERROR, WARN, INFO, or DEBUG")
	flag.CommandLine.Parse(argv[1:])

	cfg, err := config.Load(*configDirFlag)
	if err != nil {
		cfg = nil // an unconfigured host still runs with defaults
	}

	log, err := logger.New(*logPathFlag, logger.ParseLevel(*logLevelFlag))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dpm: opening log file:", err)
		return 1
	}
	defer log.Close()

	collector := metrics.New()
	if cfg != nil && cfg.GetBool("observability", "metrics_enabled", false) {
		defer func() {
			dumpPath := filepath.Join(filepath.Dir(*logPathFlag), "dpm.prom")
			if *logPathFlag == "" {
				dumpPath = "dpm.prom"
			}
			_ = collector.WriteTextDump(dumpPath)
		}()
	}

	modulePath := module.ResolveModulePath(*modulePathFlag, cfg)
	host := module.NewHost(modulePath, cfg, log)
	ctx := module.NewContext(host)

	host.RegisterBuiltin("build", &build.Module{Ctx: ctx, Metrics: collector})
	host.RegisterBuiltin("verify", &verify.Module{Ctx: ctx})
	host.RegisterBuiltin("info", &info.Module{Ctx: ctx})

	args := flag.Args()
	if len(args) == 0 {
		return listModules(host)
	}

	name := args[0]
	switch name {
	case "build":
		collector.BuildTotal.Inc()
	case "verify":
		collector.VerifyTotal.Inc()
	}

	code, err := host.ExecuteModule(name, joinArgv(args))
	if err != nil {
		log.Log(logger.ERROR, err.Error())
	}
	return code
}

func listModules(host *module.Host) int {
	fmt.Println("available modules:")
	for _, name := range host.ListAvailableModules() {
		fmt.Println(" ", name)
	}
	return 0
}

func joinArgv(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
