// Package config implements the configuration registry: a
// read-only, process-wide tree of section -> key -> string loaded once
// from a directory of *.conf files, with typed accessors and a fallback to
// a default section when the requested section lacks the key.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// DefaultSection is used for keys looked up with no section, and as the
// fallback when a named section does not contain the requested key.
const DefaultSection = "MAIN"

// Registry is a read-only view of parsed *.conf files. Once loaded it must
// not be mutated; plugins receive it by value semantics through Host and
// may only read from it.
type Registry struct {
	sections map[string]map[string]string
}

// Load reads every *.conf file in dir and merges them into one Registry.
// Later files win on key collisions, processed in lexicographic filename
// order for determinism.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.PathNotFound, "reading config dir "+dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
			names = append(names, e.Name())
		}
	}

	r := &Registry{sections: map[string]map[string]string{DefaultSection: {}}}
	for _, name := range names {
		if err := r.mergeFile(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return pkgerr.Wrap(pkgerr.PathNotFound, "opening "+path, err)
	}
	defer f.Close()

	section := DefaultSection
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section == "" {
				section = DefaultSection
			}
			if _, ok := r.sections[section]; !ok {
				r.sections[section] = map[string]string{}
			}
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return pkgerr.New(pkgerr.ConfigParseFail, fmt.Sprintf("%s:%d: expected key = value", path, lineNo))
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return pkgerr.New(pkgerr.ConfigParseFail, fmt.Sprintf("%s:%d: empty key", path, lineNo))
		}
		if _, ok := r.sections[section]; !ok {
			r.sections[section] = map[string]string{}
		}
		r.sections[section][key] = value
	}
	if err := scanner.Err(); err != nil {
		return pkgerr.Wrap(pkgerr.ConfigParseFail, "scanning "+path, err)
	}
	return nil
}

// Get resolves section.key, falling back to DefaultSection when section is
// given but lacks the key. Reports ok=false when neither has it.
func (r *Registry) Get(section, key string) (string, bool) {
	if section == "" {
		section = DefaultSection
	}
	if sec, ok := r.sections[section]; ok {
		if v, ok := sec[key]; ok {
			return v, true
		}
	}
	if section != DefaultSection {
		if v, ok := r.sections[DefaultSection][key]; ok {
			return v, true
		}
	}
	return "", false
}

// GetString returns the value or def if absent.
func (r *Registry) GetString(section, key, def string) string {
	if v, ok := r.Get(section, key); ok {
		return v
	}
	return def
}

// GetBool coerces true/yes/1/on/enabled and false/no/0/off/disabled
// case-insensitively; anything else falls back to def.
func (r *Registry) GetBool(section, key string, def bool) bool {
	v, ok := r.Get(section, key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1", "on", "enabled":
		return true
	case "false", "no", "0", "off", "disabled":
		return false
	default:
		return def
	}
}

// GetInt parses the whole value as an integer, falling back to def on any
// parse failure or absence.
func (r *Registry) GetInt(section, key string, def int) int {
	v, ok := r.Get(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetFloat parses the whole value as a float64, falling back to def.
func (r *Registry) GetFloat(section, key string, def float64) float64 {
	v, ok := r.Get(section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
