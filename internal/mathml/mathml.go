// Package mathml converts presentational MathML into LaTeX.
//
// Conversion is two-step: Parse builds a small tree of Node values from the
// element tree and Generate renders it. Tables bypass the tree and convert
// row by row. Malformed input never fails the caller; the original markup is
// returned and a diagnostic is recorded.
package mathml

import (
	"strings"

	"github.com/beevik/etree"

	"mathblocks/internal/logger"
	"mathblocks/internal/normalize"
	"mathblocks/internal/types"
)

// rowSeparator joins the rows of an mtable.
const rowSeparator = ` \\ `

// entities covers the named references that commonly appear in exported
// MathML without a DTD.
var entities = map[string]string{
	"nbsp":           "\u00a0",
	"InvisibleTimes": "\u2062",
	"it":             "\u2062",
	"ApplyFunction":  "\u2061",
	"af":             "\u2061",
	"InvisibleComma": "\u2063",
	"ic":             "\u2063",
	"PlusMinus":      "±",
	"pm":             "±",
	"times":          "×",
	"minus":          "−",
	"infin":          "∞",
	"part":           "∂",
	"PartialD":       "∂",
	"Integral":       "∫",
	"Sum":            "∑",
	"le":             "≤",
	"ge":             "≥",
	"ne":             "≠",
	"rarr":           "→",
	"RightArrow":     "→",
	"alpha":          "α",
	"beta":           "β",
	"pi":             "π",
	"theta":          "θ",
	"OverBar":        "¯",
	"dot":            "˙",
}

// Convert returns the LaTeX for markup, or markup unchanged when it holds no
// math element.
func Convert(markup string) string {
	latex, _ := ConvertWithDiagnostics(markup)
	return latex
}

// ConvertWithDiagnostics is Convert plus the diagnostics raised on the way.
func ConvertWithDiagnostics(markup string) (string, []types.Diagnostic) {
	root, diag := parseRoot(markup)
	if root == nil {
		logger.Warn("MathML conversion fell back to source",
			logger.Component("mathml"),
			logger.String("kind", diag.Kind),
			logger.String("reason", diag.Message))
		return markup, []types.Diagnostic{diag}
	}
	return ConvertElement(root)
}

// ConvertElement converts an already parsed math element.
func ConvertElement(root *etree.Element) (string, []types.Diagnostic) {
	if table := findTag(root, "mtable"); table != nil {
		return convertTable(table)
	}
	node, diags := Parse(root)
	return normalize.LaTeX(Generate(node)), diags
}

// convertTable converts the first cell of each row independently.
func convertTable(table *etree.Element) (string, []types.Diagnostic) {
	var rows []string
	var diags []types.Diagnostic
	for _, tr := range table.ChildElements() {
		if tr.Tag != "mtr" && tr.Tag != "mlabeledtr" {
			continue
		}
		cells := tr.ChildElements()
		if tr.Tag == "mlabeledtr" && len(cells) > 1 {
			cells = cells[1:] // first cell is the label
		}
		if len(cells) == 0 {
			continue
		}
		node, d := Parse(cells[0])
		diags = append(diags, d...)
		if s := normalize.LaTeX(Generate(node)); s != "" {
			rows = append(rows, s)
		}
	}
	return normalize.LaTeX(strings.Join(rows, rowSeparator)), diags
}

// IsDisplay reports whether the math element asks for display layout.
func IsDisplay(markup string) bool {
	root, _ := parseRoot(markup)
	if root == nil {
		return false
	}
	return root.SelectAttrValue("display", "") == "block" ||
		root.SelectAttrValue("mode", "") == "display"
}

// parseRoot reads markup and locates the first math element.
func parseRoot(markup string) (*etree.Element, types.Diagnostic) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		Permissive: true,
		Entity:     entities,
	}
	if err := doc.ReadFromString(markup); err != nil {
		return nil, types.Diagnostic{
			Component: "mathml",
			Kind:      types.DiagMalformedMarkup,
			Offset:    -1,
			Message:   err.Error(),
		}
	}
	if math := findTag(&doc.Element, "math"); math != nil {
		return math, types.Diagnostic{}
	}
	return nil, types.Diagnostic{
		Component: "mathml",
		Kind:      types.DiagNoMathRoot,
		Offset:    -1,
		Message:   "no <math> element found",
	}
}

// findTag returns the first element named tag in depth-first order,
// ignoring namespace prefixes.
func findTag(el *etree.Element, tag string) *etree.Element {
	if el.Tag == tag {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findTag(c, tag); found != nil {
			return found
		}
	}
	return nil
}
