// Package info implements the "info" lifecycle verb as a statically linked
// module: printing a package's metadata, digest-chain PASS/FAIL report, and
// hook inventory, plus a --inspect-deb escape hatch for a vendored .deb
// dropped somewhere under contents/.
package info

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/darkhorselinux/dpm/internal/digest"
	"github.com/darkhorselinux/dpm/internal/logger"
	"github.com/darkhorselinux/dpm/internal/metadata"
	"github.com/darkhorselinux/dpm/internal/module"
	"github.com/darkhorselinux/dpm/internal/pkgerr"
	verifylib "github.com/darkhorselinux/dpm/internal/verify"
)

const version = "1.0.0"
const description = "print metadata, digest-chain status, and hook inventory for a stage or package"

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
	bold  = color.New(color.Bold)
)

// Module is the info verb, registered with the runtime as a builtin.
type Module struct {
	Ctx *module.Context
}

func (m *Module) Version() string     { return version }
func (m *Module) Description() string { return description }

// Execute parses argv (argv[0] == "info") and prints a report for the
// target stage directory, or inspects a .deb when --inspect-deb is given.
func (m *Module) Execute(argv []string) int {
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)
	algorithm := fs.String("checksum-algorithm", digest.SHA256, "digest algorithm used by the digest chain")
	inspectDeb := fs.String("inspect-deb", "", "path to a .deb under contents/ to inspect instead")

	if len(argv) > 1 {
		if err := fs.Parse(argv[1:]); err != nil {
			m.logError("parsing info arguments: " + err.Error())
			return 1
		}
	}

	if *inspectDeb != "" {
		return m.inspectDeb(*inspectDeb)
	}

	args := fs.Args()
	if len(args) != 1 {
		m.logError("info requires exactly one target: a stage directory or a .dpm file")
		return 1
	}
	return m.reportStage(args[0], *algorithm)
}

func (m *Module) reportStage(target, algorithm string) int {
	bold.Println("Metadata")
	metaDir := filepath.Join(target, "metadata")
	allPresent := true
	for _, f := range metadata.FileSet {
		value, err := os.ReadFile(filepath.Join(metaDir, f))
		if err != nil {
			allPresent = false
			fmt.Printf("  %-26s %s\n", f+":", color.RedString("(missing)"))
			continue
		}
		fmt.Printf("  %-26s %s\n", f+":", strings.TrimSpace(string(value)))
	}

	bold.Println("Hooks")
	hooksDir := filepath.Join(target, "hooks")
	entries, err := os.ReadDir(hooksDir)
	if err != nil {
		fmt.Println("  ", color.YellowString("hooks/ not present or not a directory"))
	} else {
		for _, e := range entries {
			if !e.IsDir() {
				fmt.Println("  ", e.Name())
			}
		}
	}

	bold.Println("Digest chain")
	exitCode := 0
	if !allPresent {
		red.Println("  FAIL  metadata files incomplete, skipping digest-chain check")
		exitCode = 1
	} else if strings.HasSuffix(target, ".dpm") {
		report, err := verifylib.VerifyPackageInMemory(target, algorithm, nil, "")
		var r *verifylib.Report
		if report != nil {
			r = &report.Report
		}
		exitCode = m.printDigestReport(r, err)
	} else {
		report, err := verifylib.VerifyStage(target, algorithm)
		exitCode = m.printDigestReport(report, err)
	}
	return exitCode
}

// printDigestReport renders each check's outcome without ever panicking on
// a corrupt or tampered input: a nil report (the target could not even be
// read) is distinguished in its own line from "N digest mismatch(es)".
func (m *Module) printDigestReport(report *verifylib.Report, err error) int {
	if report == nil {
		red.Println("  FAIL  could not read target:", err)
		return 1
	}
	for _, w := range report.Warnings {
		fmt.Println("  ", color.YellowString("WARN  "+w))
	}
	if report.OK() {
		green.Printf("  PASS  %d digest(s) checked\n", report.Checked)
		return 0
	}
	for _, mm := range report.Mismatch {
		red.Println("  FAIL  " + mm)
	}
	return 1
}

func (m *Module) inspectDeb(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		m.logError("reading " + path + ": " + err.Error())
		return 1
	}
	control, err := extractControlStanza(data)
	if err != nil {
		m.logError(err.Error())
		return 1
	}
	bold.Println("Embedded .deb control stanza")
	fmt.Println(control)
	return 0
}

// extractControlStanza walks the outer ar archive of a .deb to find the
// control.tar(.gz) member, then the control file inside it.
func extractControlStanza(data []byte) (string, error) {
	arR := ar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", pkgerr.Wrap(pkgerr.ArchiveCorrupt, "reading ar entries", err)
		}
		name := strings.TrimSpace(hdr.Name)
		if !strings.HasPrefix(name, "control.tar") {
			continue
		}

		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(arR, body); err != nil {
			return "", pkgerr.Wrap(pkgerr.ArchiveCorrupt, "reading "+name, err)
		}

		var tr *tar.Reader
		if strings.HasSuffix(name, ".gz") {
			gr, err := gzip.NewReader(bytes.NewReader(body))
			if err != nil {
				return "", pkgerr.Wrap(pkgerr.ArchiveCorrupt, "ungzipping "+name, err)
			}
			defer gr.Close()
			tr = tar.NewReader(gr)
		} else {
			tr = tar.NewReader(bytes.NewReader(body))
		}

		for {
			th, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", pkgerr.Wrap(pkgerr.ArchiveCorrupt, "reading "+name, err)
			}
			if filepath.Base(th.Name) == "control" {
				var buf bytes.Buffer
				if _, err := io.Copy(&buf, tr); err != nil {
					return "", pkgerr.Wrap(pkgerr.ArchiveCorrupt, "reading control file", err)
				}
				return buf.String(), nil
			}
		}
	}
	return "", pkgerr.New(pkgerr.MemberNotFound, "control file not found in .deb")
}

func (m *Module) logError(msg string) {
	if m.Ctx != nil {
		m.Ctx.Log(logger.ERROR, msg)
		return
	}
	red.Println(msg)
}
