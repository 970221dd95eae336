// Package plaincode tells plain scripts apart from module function literals and
// wraps the former so they can be compiled like any other module.
package plaincode

import (
	"regexp"
	"strings"

	"github.com/specialistvlad/lazymod/internal/loader"
	"github.com/specialistvlad/lazymod/internal/pipeline"
)

var (
	noise    = regexp.MustCompile(`/\*.*?\*/|//[^\n\r]*|\s|;`)
	function = regexp.MustCompile(`\(function\(|function[a-z0-9_]+\(`)
)

// IsPlainCode reports whether code is a plain script rather than a single
// function expression or declaration.
func IsPlainCode(code string) bool {
	code = noise.ReplaceAllString(code, "")
	if !function.MatchString(code) {
		return true
	}

	var quote byte
	canReturn := false
	parens, braces := 0, 0
	for i := 0; i < len(code); {
		switch c := code[i]; c {
		case '{':
			if quote == 0 {
				canReturn = true
				braces++
			}
		case '}':
			if quote == 0 {
				braces--
			}
		case '(':
			if quote == 0 {
				parens++
			}
		case ')':
			if quote == 0 {
				parens--
			}
		case '\\':
			if quote != 0 {
				i++
			}
		case '\'', '"':
			switch quote {
			case c:
				quote = 0
			case 0:
				quote = c
			}
		}
		i++

		if canReturn && parens == 0 && braces == 0 {
			// Anything after the first balanced function means more code follows.
			return i != len(code)
		}
	}
	return true
}

// Wrap turns plain code into a module function literal. JSON payloads, marked
// by a content type or extension ending in "json", are returned unchanged.
func Wrap(code, contentTypeOrExt string) string {
	if strings.HasSuffix(contentTypeOrExt, "json") || !IsPlainCode(code) {
		return code
	}
	return "(function(require,exports,module){\n" + code + "\n})"
}

// Plugin wraps fetched plain scripts on WrapModule.
type Plugin struct{}

func (Plugin) Register(l *loader.Loader) {
	l.Events().WrapModule.On(func(name, code, contentType string) *pipeline.Override[string, string, string] {
		wrapped := Wrap(code, contentType)
		if wrapped == code {
			return nil
		}
		l.Logger().Debug("Wrapped plain code.", "name", name)
		return &pipeline.Override[string, string, string]{B: pipeline.Some(wrapped)}
	})
}
