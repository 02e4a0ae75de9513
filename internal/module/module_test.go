package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct {
	version, description string
	lastArgv              []string
	exitCode              int
}

func (s *stubModule) Execute(argv []string) int {
	s.lastArgv = argv
	return s.exitCode
}
func (s *stubModule) Version() string     { return s.version }
func (s *stubModule) Description() string { return s.description }

func TestBuiltinAlwaysValidates(t *testing.T) {
	host := NewHost(t.TempDir(), nil, nil)
	host.RegisterBuiltin("build", &stubModule{version: "1.0", description: "stage and seal packages"})

	handle, err := host.LoadModule("build")
	require.NoError(t, err, "LoadModule should find the registered builtin")

	missing := host.ValidateModuleInterface(handle)
	assert.Empty(t, missing, "builtin should always validate")

	version, err := host.GetModuleVersion(handle)
	require.NoError(t, err)
	assert.Equal(t, "1.0", version)
}

func TestExecuteModuleTokenizesAndPropagatesExitCode(t *testing.T) {
	host := NewHost(t.TempDir(), nil, nil)
	stub := &stubModule{exitCode: 7}
	host.RegisterBuiltin("verify", stub)

	code, err := host.ExecuteModule("verify", "verify --force /tmp/foo.dpm")
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	want := []string{"verify", "--force", "/tmp/foo.dpm"}
	assert.Equal(t, want, stub.lastArgv)
}

func TestModuleNotFoundWhenModulePathEmpty(t *testing.T) {
	host := NewHost(t.TempDir(), nil, nil)
	_, err := host.LoadModule("build")
	assert.Error(t, err, "expected ModuleNotFound for an empty module path with no builtin registered")
}

func TestListAvailableModulesIncludesBuiltins(t *testing.T) {
	host := NewHost(t.TempDir(), nil, nil)
	host.RegisterBuiltin("info", &stubModule{})
	assert.Contains(t, host.ListAvailableModules(), "info")
}

func TestResolveModulePathPrefersCLIOverride(t *testing.T) {
	assert.Equal(t, "/custom/path", ResolveModulePath("/custom/path", nil))
	assert.Equal(t, "/usr/lib/dpm/modules/", ResolveModulePath("", nil))
}
