// Package render materialises one source file from a double-brace template
// and a DataRecord (spec §4.2). It wraps aymerick/raymond, a Handlebars
// implementation for Go, which is the closest real library in the
// ecosystem to the double-brace + "default name 'fallback'" helper syntax
// spec.md describes — the renderer is an out-of-scope external collaborator
// per spec §6, consumed here as a black box.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
	"github.com/panjd123/parabuild/internal/record"
)

var registerOnce sync.Once

func registerHelpers() {
	registerOnce.Do(func() {
		raymond.RegisterHelper("default", func(value interface{}, fallback string) string {
			if value == nil {
				return fallback
			}
			if s, ok := value.(string); ok && s == "" {
				return fallback
			}
			return record.String(value)
		})
	})
}

// bareVarPattern matches a plain variable reference like {{N}} or {{ foo }}
// but not a helper call ({{default ...}}), a block ({{#each}}) or a partial
// ({{> x}}). A triple-stache ({{{x}}}) contains {{x}} and is matched too.
var bareVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Mode selects whether the rendered file replaces the template in place or
// is written alongside it.
type Mode int

const (
	// InPlace: template file path == rendered output path.
	InPlace Mode = iota
	// Separated: template file path != rendered output path.
	Separated
)

// Renderer materialises a template file into a workspace for one DataRecord.
type Renderer struct {
	TemplatePath string
	OutputPath   string
	Mode         Mode
}

// Render reads the template, checks for variables with no value and no
// `default` fallback (fatal per spec §4.2), executes it against data, and
// writes the result to the configured output path.
func (r *Renderer) Render(data record.DataRecord) error {
	registerHelpers()

	src, err := os.ReadFile(r.TemplatePath)
	if err != nil {
		return fmt.Errorf("read template %s: %w", r.TemplatePath, err)
	}

	if err := checkMissingVariables(string(src), data); err != nil {
		return err
	}

	tpl, err := raymond.Parse(string(src))
	if err != nil {
		return fmt.Errorf("template syntax error in %s: %w", r.TemplatePath, err)
	}

	out, err := tpl.Exec(map[string]interface{}(data))
	if err != nil {
		return fmt.Errorf("render %s: %w", r.TemplatePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(r.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory for %s: %w", r.OutputPath, err)
	}

	// In-place mode writes back over the template file; a "text file busy"
	// race here is the same hazard the artifact mover guards against, but
	// template sources are never executable, so a plain overwrite suffices.
	if err := os.WriteFile(r.OutputPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write rendered output %s: %w", r.OutputPath, err)
	}
	return nil
}

// checkMissingVariables reports a missing-variable error for any bare
// {{name}} reference whose key is absent from data. Helper invocations
// (including {{default name 'fallback'}}) are not bare variable references
// and are exempt, matching spec §4.2's "missing variable with no default".
func checkMissingVariables(src string, data record.DataRecord) error {
	for _, m := range bareVarPattern.FindAllStringSubmatch(src, -1) {
		name := m[1]
		if strings.Contains(name, ".") {
			// Nested field access; not validated here, left to raymond's
			// own (empty-string) missing-path behaviour.
			continue
		}
		if _, ok := data[name]; !ok {
			return fmt.Errorf("template references undefined variable %q with no default", name)
		}
	}
	return nil
}
