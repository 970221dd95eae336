// Package manifest loads bundle manifests written in HCL.
//
// A manifest declares the bundle version, an optional entry point and the
// in-package modules:
//
//	version = "1.4.0"
//
//	main {
//	  file = "main.js"
//	}
//
//	module "config" {
//	  value = { retries = 3, region = var.region }
//	}
//
//	module "calc" {
//	  file      = "calc.js"
//	  sandboxed = true
//	  coverage {
//	    lines = ["1", "2"]
//	  }
//	}
//
//	module "math" {
//	  shortcut = "calc"
//	}
//
// A module without content is an environment module resolved from the host.
// Expressions may reference variables under var.
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/lazymod/internal/ctxlog"
	"github.com/specialistvlad/lazymod/internal/ctyconv"
	"github.com/specialistvlad/lazymod/internal/fsutil"
	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/plugins/plaincode"
	"github.com/specialistvlad/lazymod/plugins/shortcuts"
)

// Manifest is the format-agnostic result of loading manifest files.
type Manifest struct {
	Version string
	// Main is the entry point source. It is compiled by Bundle.
	Main     string
	Modules  map[string]any
	Options  map[string]loader.ModuleOptions
	Coverage map[string]loader.CoverageDecl
}

// Load parses every .hcl file found under paths and merges them into one
// manifest. Paths that do not exist are ignored. vars are exposed to
// expressions as var.<name>.
func Load(ctx context.Context, vars map[string]any, paths ...string) (*Manifest, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Manifest loading started.", "path_count", len(paths))

	evalCtx, err := evalContext(vars)
	if err != nil {
		return nil, err
	}

	files, err := fsutil.FindFiles(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered manifest files.", "count", len(files))

	m := &Manifest{
		Modules:  make(map[string]any),
		Options:  make(map[string]loader.ModuleOptions),
		Coverage: make(map[string]loader.CoverageDecl),
	}
	mainFrom := ""
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		dir := filepath.Dir(file)

		if root.Version != "" {
			if m.Version != "" && m.Version != root.Version {
				return nil, fmt.Errorf("%s: version %q conflicts with %q", file, root.Version, m.Version)
			}
			m.Version = root.Version
		}

		if root.Main != nil {
			if mainFrom != "" {
				return nil, fmt.Errorf("%s: duplicate main block, first declared in %s", file, mainFrom)
			}
			src, err := readMain(dir, root.Main)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			m.Main, mainFrom = src, file
		}

		for _, mb := range root.Modules {
			if _, dup := m.Modules[mb.Name]; dup {
				return nil, fmt.Errorf("%s: module %q declared twice", file, mb.Name)
			}
			mctx := ctxlog.With(ctx, "module", mb.Name)
			content, err := translateModule(mctx, dir, evalCtx, mb)
			if err != nil {
				return nil, fmt.Errorf("%s: module %q: %w", file, mb.Name, err)
			}
			m.Modules[mb.Name] = content
			if mb.Sandboxed {
				m.Options[mb.Name] = loader.ModuleOptions{Sandboxed: true}
			}
			if mb.Coverage != nil {
				m.Coverage[mb.Name] = loader.CoverageDecl{
					Lines:      mb.Coverage.Lines,
					Conditions: mb.Coverage.Conditions,
					Functions:  mb.Coverage.Functions,
				}
			}
		}
	}

	logger.Debug("Manifest loading complete.", "version", m.Version, "modules", len(m.Modules), "has_main", m.Main != "")
	return m, nil
}

// Bundle compiles the entry point with host and returns the loader bundle.
func (m *Manifest) Bundle(host loader.Host) (loader.Bundle, error) {
	b := loader.Bundle{
		Modules:  m.Modules,
		Options:  m.Options,
		Version:  m.Version,
		Coverage: m.Coverage,
	}
	if m.Main == "" {
		return b, nil
	}
	main, err := host.Compile("main", m.Main)
	if err != nil {
		return loader.Bundle{}, err
	}
	b.Main = main
	return b, nil
}

func evalContext(vars map[string]any) (*hcl.EvalContext, error) {
	values := make(map[string]cty.Value, len(vars))
	for name, v := range vars {
		cv, err := ctyconv.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		if cv == cty.NilVal {
			cv = cty.NullVal(cty.DynamicPseudoType)
		}
		values[name] = cv
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(values)},
	}, nil
}

func readMain(dir string, mb *mainBlock) (string, error) {
	switch {
	case mb.Source != "" && mb.File != "":
		return "", fmt.Errorf("main: source and file are mutually exclusive")
	case mb.File != "":
		buf, err := os.ReadFile(filepath.Join(dir, mb.File))
		if err != nil {
			return "", fmt.Errorf("main: %w", err)
		}
		return plaincode.Wrap(string(buf), mb.File), nil
	}
	return mb.Source, nil
}

// translateModule turns one module block into registry content.
func translateModule(ctx context.Context, dir string, evalCtx *hcl.EvalContext, mb *moduleBlock) (any, error) {
	logger := ctxlog.FromContext(ctx)

	hasValue := isExprDefined(ctx, mb.Value, "value")
	set := 0
	for _, ok := range []bool{mb.Source != "", mb.File != "", hasValue, mb.Shortcut != ""} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("only one of source, file, value and shortcut may be set")
	}

	switch {
	case mb.Source != "":
		return mb.Source, nil
	case mb.Shortcut != "":
		return shortcuts.Marker + strings.TrimPrefix(mb.Shortcut, shortcuts.Marker), nil
	case hasValue:
		v, diags := mb.Value.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid value: %w", diags)
		}
		return ctyconv.ToGo(v)
	case mb.File != "":
		return readModuleFile(filepath.Join(dir, mb.File))
	}
	logger.Debug("Module has no content, it resolves from the environment.")
	return nil, nil
}

// readModuleFile decodes JSON files, wraps plain scripts and keeps anything
// else as text.
func readModuleFile(path string) (any, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ctyconv.DecodeJSON(buf)
	case ".js":
		return plaincode.Wrap(string(buf), path), nil
	}
	return string(buf), nil
}

// isExprDefined checks if an HCL expression was actually present in the source.
// Omitted optional attributes decode to zero-width placeholder expressions.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	isDefined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", isDefined,
	)
	return isDefined
}
