// Package verify implements the "verify" lifecycle verb as a statically
// linked module: disk-based stage verification or in-memory sealed-package
// verification, chosen by whether the target path ends in .dpm.
package verify

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/logger"
	"github.com/darkhorselinux/dpm/internal/module"
	"github.com/darkhorselinux/dpm/internal/signature"
	verifylib "github.com/darkhorselinux/dpm/internal/verify"
)

const version = "1.0.0"
const description = "verify a stage or sealed package against its digest chain"

// Module is the verify verb, registered with the runtime as a builtin.
type Module struct {
	Ctx *module.Context
}

func (m *Module) Version() string     { return version }
func (m *Module) Description() string { return description }

// Execute parses argv (argv[0] == "verify") and runs the appropriate
// verification path against the single positional target argument.
func (m *Module) Execute(argv []string) int {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	algorithm := fs.String("checksum-algorithm", digest.SHA256, "digest algorithm for the digest chain")
	keyringPath := fs.String("keyring", "", "armored OpenPGP public keyring for signature verification")
	keyID := fs.String("key-id", "", "expected signer fingerprint or identity substring")

	if len(argv) > 1 {
		if err := fs.Parse(argv[1:]); err != nil {
			m.logError("parsing verify arguments: " + err.Error())
			return 1
		}
	}
	args := fs.Args()
	if len(args) != 1 {
		m.logError("verify requires exactly one target: a stage directory or a .dpm file")
		return 1
	}
	target := args[0]

	var keyring *signature.Keyring
	if *keyringPath != "" {
		kr, err := signature.LoadKeyring(*keyringPath)
		if err != nil {
			m.logError("loading keyring: " + err.Error())
			return 1
		}
		keyring = kr
	}

	if strings.HasSuffix(target, ".dpm") {
		inMemReport, err := verifylib.VerifyPackageInMemory(target, *algorithm, keyring, *keyID)
		if inMemReport == nil {
			m.logError(err.Error())
			return 1
		}
		return m.report(&inMemReport.Report, inMemReport.Signatures, err)
	}

	report, err := verifylib.VerifyStage(target, *algorithm)
	if report == nil {
		m.logError(err.Error())
		return 1
	}
	return m.report(report, nil, err)
}

func (m *Module) report(report *verifylib.Report, sigs map[string]signature.Result, err error) int {
	m.logInfo(fmt.Sprintf("checked %d digest(s)", report.Checked))
	for _, w := range report.Warnings {
		m.logInfo("warning: " + w)
	}
	for _, mm := range report.Mismatch {
		m.logError(mm)
	}
	for name, result := range sigs {
		m.logInfo(name + " signature: " + result.String())
	}
	if err != nil {
		m.logError(err.Error())
		return 1
	}
	m.logInfo("PASS")
	return 0
}

func (m *Module) logError(msg string) {
	if m.Ctx != nil {
		m.Ctx.Log(logger.ERROR, msg)
	}
}

func (m *Module) logInfo(msg string) {
	if m.Ctx != nil {
		m.Ctx.Con(logger.INFO, msg)
	}
}
