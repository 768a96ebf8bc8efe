// Package omml flattens Office Math Markup (OMML) into LaTeX.
//
// There is no tree: an ordered list of string rewrites turns the markup into
// text, the text is normalized and then split into one or more formulas. A
// failure anywhere yields an empty formula list.
package omml

import (
	"fmt"
	"regexp"
	"strings"

	"mathblocks/internal/logger"
	"mathblocks/internal/normalize"
	"mathblocks/internal/types"
)

// Options tunes formula splitting.
type Options struct {
	// SplitOnCommas also splits on commas outside any bracket.
	SplitOnCommas bool
}

// DefaultOptions matches the behaviour of Word exports seen in practice,
// where several short formulas on one line are separated by commas.
func DefaultOptions() Options {
	return Options{SplitOnCommas: true}
}

// equationNumber matches "(1)", "(2.3)" or "(4a)" markers between formulas.
var equationNumber = regexp.MustCompile(`(?:^|[\s#,])\(\s*\d+(?:\.\d+)*[a-z]?\s*\)`)

// Convert returns the formulas found in markup using DefaultOptions.
func Convert(markup string) []string {
	formulas, _ := ConvertWithOptions(markup, DefaultOptions())
	return formulas
}

// ConvertWithOptions flattens markup and returns the formulas together with
// any diagnostics.
func ConvertWithOptions(markup string, opts Options) (formulas []string, diags []types.Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			d := types.Diagnostic{
				Component: "omml",
				Kind:      types.DiagConversionFailed,
				Offset:    -1,
				Message:   fmt.Sprint(r),
			}
			logger.Warn("OMML conversion failed",
				logger.Component("omml"),
				logger.String("kind", d.Kind),
				logger.String("reason", d.Message))
			formulas, diags = []string{}, []types.Diagnostic{d}
		}
	}()

	s := stripWrappers(markup)
	s = flatten(s)
	s = decodeEntities(s)
	s = normalize.Symbols(s)

	formulas = []string{}
	for _, f := range splitFormulas(s, opts) {
		f = normalize.LaTeX(strings.Trim(f, "# \t\r\n"))
		if f != "" {
			formulas = append(formulas, f)
		}
	}
	return formulas, nil
}

// splitFormulas cuts s at equation-number markers and, when enabled, at
// top-level commas. Markers are dropped.
func splitFormulas(s string, opts Options) []string {
	var pieces []string
	last := 0
	for _, loc := range equationNumber.FindAllStringIndex(s, -1) {
		pieces = append(pieces, s[last:loc[0]])
		last = loc[1]
	}
	pieces = append(pieces, s[last:])

	if !opts.SplitOnCommas {
		return pieces
	}
	var out []string
	for _, p := range pieces {
		out = append(out, splitTopLevelCommas(p)...)
	}
	return out
}

// splitTopLevelCommas splits on commas that sit outside (), [] and {} and
// are not escaped as "\,".
func splitTopLevelCommas(s string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 && (i == 0 || s[i-1] != '\\') {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
