// Package capability builds the set of helpers injected into every snippet's
// namespace: native Go function bundles and source files in the snippet language.
package capability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Func is a native helper callable from snippet code. Arguments arrive as the
// engine's exported Go values (string, int64, float64, bool, []any, map[string]any).
type Func func(args ...any) (any, error)

// Source languages recognised by file extension.
const (
	LangJavaScript = "javascript"
	LangPython     = "python"
)

// Source is a helper file whose top-level definitions end up in the snippet namespace.
type Source struct {
	Name string
	Lang string
	Code string
}

// Registry is built once at startup and shared read-only by every execution.
type Registry struct {
	// Modules are the configured module names, in configuration order. The python
	// engine imports them itself; the native bundles below resolve the ones Go knows.
	Modules []string
	Funcs   map[string]Func
	Sources []Source
}

// Bundle constructs a named group of native functions.
type Bundle func(scratchRoot string) map[string]Func

var bundles = map[string]Bundle{
	"text":  textBundle,
	"files": filesBundle,
	"hash":  hashBundle,
}

// Empty returns a registry with nothing injected.
func Empty() *Registry {
	return &Registry{Funcs: map[string]Func{}}
}

// Load resolves the configured modules and reads the configured source files.
// Failures are logged and skipped so one broken helper never blocks startup.
func Load(modules, files []string, scratchRoot string, logger *slog.Logger) *Registry {
	reg := Empty()

	for _, name := range modules {
		reg.Modules = append(reg.Modules, name)

		bundle, ok := bundles[name]
		if !ok {
			// Python modules are resolved inside the container, so this is only
			// fatal for the javascript engine.
			logger.Error("no native bundle for module", slog.String("module", name))
			continue
		}
		for fn, impl := range bundle(scratchRoot) {
			reg.Funcs[fn] = impl
		}
		logger.Info("capability module loaded", slog.String("module", name))
	}

	for _, path := range files {
		src, err := readSource(path)
		if err != nil {
			logger.Error("failed to load capability file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		reg.Sources = append(reg.Sources, src)
		logger.Info("capability file loaded", slog.String("path", path), slog.String("lang", src.Lang))
	}

	return reg
}

// Names returns the native function names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Funcs))
	for name := range r.Funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourcesFor filters the loaded sources down to one language.
func (r *Registry) SourcesFor(lang string) []Source {
	var out []Source
	for _, src := range r.Sources {
		if src.Lang == lang {
			out = append(out, src)
		}
	}
	return out
}

func readSource(path string) (Source, error) {
	var lang string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js":
		lang = LangJavaScript
	case ".py":
		lang = LangPython
	default:
		return Source{}, fmt.Errorf("unsupported source extension %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}
	return Source{Name: filepath.Base(path), Lang: lang, Code: string(data)}, nil
}
