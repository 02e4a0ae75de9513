package module

import "github.com/darkhorselinux/dpm/internal/logger"

// Context is the fixed callback surface handed to every module at
// execution time. It is built fresh per invocation from the Host's
// injected dependencies rather than reached through a global. Plugins
// read it; they do not mutate the registry or replace the logger.
type Context struct {
	host *Host
}

// NewContext builds the callback surface for one module invocation.
func NewContext(host *Host) *Context { return &Context{host: host} }

// GetConfig resolves section.key from the configuration registry, falling
// back from the named section to MAIN when the key is absent there.
func (c *Context) GetConfig(section, key string) (string, bool) {
	if c.host.Config == nil {
		return "", false
	}
	return c.host.Config.Get(section, key)
}

// Log appends message to both sinks at level.
func (c *Context) Log(level logger.Level, message string) {
	if c.host.Logger != nil {
		c.host.Logger.Log(level, message)
	}
}

// Con writes message to the console sink only, never persisted.
func (c *Context) Con(level logger.Level, message string) {
	if c.host.Logger != nil {
		c.host.Logger.Con(level, message)
	}
}

// SetLoggingLevel changes the threshold applied to both sinks.
func (c *Context) SetLoggingLevel(level logger.Level) {
	if c.host.Logger != nil {
		c.host.Logger.SetLevel(level)
	}
}

// GetModulePath returns the resolved module directory, letting a plugin
// compute sibling-plugin paths.
func (c *Context) GetModulePath() string { return c.host.ModulePath }

// ModuleExists reports whether name resolves to a builtin or a loadable
// object in the module path, without loading it.
func (c *Context) ModuleExists(name string) bool {
	for _, n := range c.host.ListAvailableModules() {
		if n == name {
			return true
		}
	}
	return false
}

// LoadModule, SymbolExists, and UnloadModule expose the module-runtime
// surface to plugins through the same Host a plugin was loaded from.
func (c *Context) LoadModule(name string) (*Handle, error)  { return c.host.LoadModule(name) }
func (c *Context) SymbolExists(h *Handle, name string) bool  { return c.host.SymbolExists(h, name) }
func (c *Context) UnloadModule(h *Handle)                    { c.host.UnloadModule(h) }
