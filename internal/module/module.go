// Package module implements the module runtime: discovering, loading,
// validating, and invoking plugin modules, and the stable callback
// surface those plugins consume. Subcommands are recast as statically
// linked modules behind a common interface within this binary; genuine
// dynamic loading (Go's plugin package) is reserved for third-party
// extensions and wrapped behind the same narrow Host surface so no
// untyped handle escapes it.
package module

import (
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/darkhorselinux/dpm/internal/config"
	"github.com/darkhorselinux/dpm/internal/logger"
	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// Module is the three-symbol contract every subcommand satisfies, whether
// statically linked into this binary or dynamically loaded from a .so.
type Module interface {
	// Execute runs the module's verb dispatcher with a pre-tokenized
	// argv (argv[0] is the command name) and returns its exit code.
	Execute(argv []string) int
	Version() string
	Description() string
}

// requiredSymbols names the three exported Go plugin symbols a dynamically
// loaded module must provide: the Go-plugin analogue of module_execute,
// module_get_version, and module_get_description.
var requiredSymbols = []string{"ModuleExecute", "ModuleGetVersion", "ModuleGetDescription"}

// Handle is a loaded module, static or dynamic, behind one narrow type.
// Callers never see a raw *plugin.Plugin or an untyped symbol.
type Handle struct {
	Name string
	mod  Module
	plug *plugin.Plugin // nil for statically registered builtins
}

// Host is the runtime: it owns the builtin registry, the configured module
// path, and the callback surface (config, logger) handed to every module
// at Execute time via the Context passed into ExecuteModule callers.
type Host struct {
	ModulePath string
	Config     *config.Registry
	Logger     *logger.Logger

	builtins map[string]Module
}

// NewHost builds a runtime bound to the given dependencies, injected
// explicitly rather than reached through process-wide singletons.
func NewHost(modulePath string, cfg *config.Registry, log *logger.Logger) *Host {
	return &Host{
		ModulePath: modulePath,
		Config:     cfg,
		Logger:     log,
		builtins:   map[string]Module{},
	}
}

// RegisterBuiltin adds a statically linked module under name. Builtins
// always validate (the Go type system already enforces the contract).
func (h *Host) RegisterBuiltin(name string, m Module) {
	h.builtins[name] = m
}

// ResolveModulePath implements the module path resolution order: CLI
// override, then modules.modules_path config key, then a built-in default.
func ResolveModulePath(cliOverride string, cfg *config.Registry) string {
	if cliOverride != "" {
		return cliOverride
	}
	if cfg != nil {
		if v, ok := cfg.Get("modules", "modules_path"); ok {
			return v
		}
	}
	return "/usr/lib/dpm/modules/"
}

// ListAvailableModules enumerates builtin names plus the basenames of
// every dynamically loadable object file found in the module path. Sort
// stability is not required by the contract but is provided here for
// deterministic test assertions.
func (h *Host) ListAvailableModules() []string {
	names := map[string]bool{}
	for name := range h.builtins {
		names[name] = true
	}
	matches, _ := filepath.Glob(filepath.Join(h.ModulePath, "*.so"))
	for _, m := range matches {
		names[strings.TrimSuffix(filepath.Base(m), ".so")] = true
	}
	var out []string
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LoadModule resolves name to a builtin first, falling back to dynamic
// loading from the module path.
func (h *Host) LoadModule(name string) (*Handle, error) {
	if m, ok := h.builtins[name]; ok {
		return &Handle{Name: name, mod: m}, nil
	}

	path := filepath.Join(h.ModulePath, name+".so")
	if _, err := os.Stat(path); err != nil {
		return nil, pkgerr.Wrap(pkgerr.ModuleNotFound, "module "+name+" not found in "+h.ModulePath, err)
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.ModuleLoadFailed, "loading "+path, err)
	}
	return &Handle{Name: name, plug: p}, nil
}

// ValidateModuleInterface attempts to resolve each contract symbol and
// returns the names that could not be resolved; the handle is valid iff
// the result is empty. Builtins are always valid.
func (h *Host) ValidateModuleInterface(handle *Handle) []string {
	if handle.plug == nil {
		return nil
	}
	var missing []string
	for _, sym := range requiredSymbols {
		if _, err := handle.plug.Lookup(sym); err != nil {
			missing = append(missing, sym)
		}
	}
	return missing
}

// GetModuleVersion invokes the version symbol and returns its string.
func (h *Host) GetModuleVersion(handle *Handle) (string, error) {
	if handle.mod != nil {
		return handle.mod.Version(), nil
	}
	sym, err := handle.plug.Lookup("ModuleGetVersion")
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.SymbolNotFound, "ModuleGetVersion", err)
	}
	fn, ok := sym.(func() string)
	if !ok {
		return "", pkgerr.New(pkgerr.InvalidModule, "ModuleGetVersion has the wrong signature")
	}
	return fn(), nil
}

// GetModuleDescription invokes the description symbol and returns its string.
func (h *Host) GetModuleDescription(handle *Handle) (string, error) {
	if handle.mod != nil {
		return handle.mod.Description(), nil
	}
	sym, err := handle.plug.Lookup("ModuleGetDescription")
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.SymbolNotFound, "ModuleGetDescription", err)
	}
	fn, ok := sym.(func() string)
	if !ok {
		return "", pkgerr.New(pkgerr.InvalidModule, "ModuleGetDescription has the wrong signature")
	}
	return fn(), nil
}

// ExecuteModule loads name, validates it, tokenizes commandString on
// whitespace into argv, invokes its execute entry point, and propagates
// the exit code. The module is unloaded (a no-op for in-process Go
// modules) before returning.
func (h *Host) ExecuteModule(name, commandString string) (int, error) {
	handle, err := h.LoadModule(name)
	if err != nil {
		return 1, err
	}
	defer h.UnloadModule(handle)

	if missing := h.ValidateModuleInterface(handle); len(missing) > 0 {
		return 1, pkgerr.New(pkgerr.InvalidModule, name+" is missing symbols: "+strings.Join(missing, ", "))
	}

	argv := strings.Fields(commandString)
	if len(argv) == 0 {
		return 1, pkgerr.New(pkgerr.Undefined, "empty command string")
	}

	if handle.mod != nil {
		return handle.mod.Execute(argv), nil
	}

	sym, err := handle.plug.Lookup("ModuleExecute")
	if err != nil {
		return 1, pkgerr.Wrap(pkgerr.SymbolNotFound, "ModuleExecute", err)
	}
	fn, ok := sym.(func([]string) int)
	if !ok {
		return 1, pkgerr.New(pkgerr.InvalidModule, "ModuleExecute has the wrong signature")
	}
	return fn(argv), nil
}

// UnloadModule is idempotent; Go has no handle to release for either
// builtins or loaded plugins, but the call exists so callers follow the
// acquire/release discipline uniformly across both kinds.
func (h *Host) UnloadModule(handle *Handle) {}

// SymbolExists reports whether name resolves against a loaded handle,
// without invoking it.
func (h *Host) SymbolExists(handle *Handle, name string) bool {
	if handle.plug == nil {
		return false
	}
	_, err := handle.plug.Lookup(name)
	return err == nil
}

// ExecuteSymbol is the typed, generic plugin-to-plugin dispatch primitive:
// the caller supplies the exact function type F it expects the symbol to
// have. Used by dynamically loaded extensions that need to reach into
// another dynamically loaded extension; statically linked builtins call
// each other directly as ordinary Go functions instead (the redesign
// note's "typed subcommand-to-subcommand call through the same trait").
func ExecuteSymbol[F any](handle *Handle, name string) (F, error) {
	var zero F
	if handle.plug == nil {
		return zero, pkgerr.New(pkgerr.SymbolNotFound, "handle "+handle.Name+" has no dynamic symbol table")
	}
	sym, err := handle.plug.Lookup(name)
	if err != nil {
		return zero, pkgerr.Wrap(pkgerr.SymbolNotFound, name, err)
	}
	fn, ok := sym.(F)
	if !ok {
		return zero, pkgerr.New(pkgerr.SymbolExecFailed, name+" has an unexpected signature")
	}
	return fn, nil
}
