// Package shortcuts resolves alias modules. A module whose content is the text
// "@target" stands for the module named target.
package shortcuts

import (
	"strings"

	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/pipeline"
)

// Marker prefixes the target name of a shortcut.
const Marker = "@"

// IsShortcut reports whether content makes name an alias. Initialized names are
// never aliases.
func IsShortcut(l *loader.Loader, name string, content any) bool {
	s, ok := content.(string)
	return ok && strings.HasPrefix(s, Marker) && !l.Initialized(name)
}

// Target follows a shortcut one hop without firing any event. It returns the
// target name and its stored content, or loader.Missing when the target has no
// content or points back at the very same shortcut.
func Target(l *loader.Loader, name string, content any) (string, any, bool) {
	if !IsShortcut(l, name, content) {
		return name, content, false
	}
	shortcut := content.(string)
	target := strings.TrimPrefix(shortcut, Marker)

	targetContent, _ := l.Content(target)
	if targetContent == nil {
		return target, loader.Missing, true
	}
	if s, ok := targetContent.(string); ok && s == shortcut {
		return target, loader.Missing, true
	}
	return target, targetContent, true
}

// Rewrite is Target with the BeforeResolve event fired for the alias.
func Rewrite(l *loader.Loader, name string, content any) (string, any) {
	if !IsShortcut(l, name, content) {
		return name, content
	}
	l.Events().BeforeResolve.Trigger(name, content.(string), pipeline.None{})
	target, targetContent, _ := Target(l, name, content)
	l.Logger().Debug("Shortcut resolved.", "alias", name, "target", target)
	return target, targetContent
}

// Plugin installs the shortcut rewriter.
type Plugin struct{}

func (Plugin) Register(l *loader.Loader) {
	l.Events().RewriteShortcut.On(func(name string, content any, _ pipeline.None) *pipeline.Override[string, any, pipeline.None] {
		if !IsShortcut(l, name, content) {
			return nil
		}
		target, targetContent := Rewrite(l, name, content)
		return &pipeline.Override[string, any, pipeline.None]{
			A: pipeline.Some(target),
			B: pipeline.Some(targetContent),
		}
	})
}
