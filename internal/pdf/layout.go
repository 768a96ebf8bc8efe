package pdf

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"mathblocks/internal/logger"
	"mathblocks/internal/normalize"
	"mathblocks/internal/types"
)

// Layout defaults, in PDF user-space units (1/72 inch).
const (
	DefaultLineTolerance    = 5.0
	DefaultTitleMinY        = 600.0
	DefaultTitleMinFontSize = 16.0
	DefaultTitleMinLength   = 4
	DefaultBaseFontSize     = 12.0
	DefaultIndentUnit       = 72.0
)

// mathGlyphs are operators that mark a line as a formula.
const mathGlyphs = "∫∬∭∮∑∏∐√∂∇±∓×÷≤≥≠≈≡∝∞∈∉∋⊂⊃⊆⊇∪∩∧∨¬∀∃→←↔⇒⇐⇔↦⊗⊕⟨⟩"

var (
	texCommand     = regexp.MustCompile(`\\[A-Za-z]+`)
	trailingNumber = regexp.MustCompile(`\s*\(\s*(\d+(?:\.\d+)*[a-z]?)\s*\)\s*$`)
)

// envMarkers identify a display equation written out in the text layer.
var envMarkers = []string{`\begin{equation}`, "$$", `\[`}

// withDefaults replaces zero fields with the layout defaults.
func withDefaults(cfg types.PDFConfig) types.PDFConfig {
	if cfg.LineTolerance <= 0 {
		cfg.LineTolerance = DefaultLineTolerance
	}
	if cfg.TitleMinY <= 0 {
		cfg.TitleMinY = DefaultTitleMinY
	}
	if cfg.TitleMinFontSize <= 0 {
		cfg.TitleMinFontSize = DefaultTitleMinFontSize
	}
	if cfg.TitleMinLength <= 0 {
		cfg.TitleMinLength = DefaultTitleMinLength
	}
	if cfg.BaseFontSize <= 0 {
		cfg.BaseFontSize = DefaultBaseFontSize
	}
	if cfg.IndentUnit <= 0 {
		cfg.IndentUnit = DefaultIndentUnit
	}
	return cfg
}

// GroupLines sorts fragments top to bottom and left to right, page by page,
// and starts a new line whenever two consecutive fragments differ vertically
// by more than tolerance.
func GroupLines(frags []Fragment, tolerance float64) []Line {
	if len(frags) == 0 {
		return nil
	}
	sorted := make([]Fragment, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Y() != b.Y() {
			return a.Y() > b.Y()
		}
		return a.X() < b.X()
	})

	var lines []Line
	cur := Line{Page: sorted[0].Page, Y: sorted[0].Y(), Fragments: []Fragment{sorted[0]}}
	for _, f := range sorted[1:] {
		prev := cur.Fragments[len(cur.Fragments)-1]
		if f.Page != cur.Page || math.Abs(prev.Y()-f.Y()) > tolerance {
			lines = append(lines, finishLine(cur))
			cur = Line{Page: f.Page, Y: f.Y(), Fragments: nil}
		}
		cur.Fragments = append(cur.Fragments, f)
	}
	return append(lines, finishLine(cur))
}

// finishLine orders a line's fragments left to right.
func finishLine(l Line) Line {
	sort.SliceStable(l.Fragments, func(i, j int) bool {
		return l.Fragments[i].X() < l.Fragments[j].X()
	})
	return l
}

// Text joins the fragments of a line. A space is inserted when the gap to
// the previous fragment exceeds a quarter of the font size, or, when widths
// are unknown, between fragments that carry no whitespace of their own.
func (l Line) Text() string {
	var sb strings.Builder
	for i, f := range l.Fragments {
		if i > 0 && needsSpace(l.Fragments[i-1], f) {
			sb.WriteByte(' ')
		}
		sb.WriteString(f.Text)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func needsSpace(prev, cur Fragment) bool {
	if endsWithSpace(prev.Text) || startsWithSpace(cur.Text) {
		return false
	}
	if prev.Width <= 0 {
		return true
	}
	size := cur.FontSize
	if size <= 0 {
		size = DefaultBaseFontSize
	}
	return cur.X()-(prev.X()+prev.Width) > 0.25*size
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return s != "" && unicode.IsSpace(r)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return s != "" && unicode.IsSpace(r)
}

// FontSize returns the size that covers most of the line's characters.
func (l Line) FontSize() float64 {
	weight := map[float64]int{}
	best, bestWeight := 0.0, -1
	for _, f := range l.Fragments {
		weight[f.FontSize] += utf8.RuneCountInString(f.Text)
	}
	for size, w := range weight {
		if w > bestWeight || (w == bestWeight && size > best) {
			best, bestWeight = size, w
		}
	}
	return best
}

// Reconstruct turns fragments into blocks. Every line becomes one block,
// classified in priority order as title, section heading, formula or
// paragraph.
func Reconstruct(frags []Fragment, cfg types.PDFConfig) []types.Block {
	cfg = withDefaults(cfg)
	lines := GroupLines(frags, cfg.LineTolerance)

	blocks := make([]types.Block, 0, len(lines))
	prevSize := cfg.BaseFontSize
	skipped := 0

	for _, line := range lines {
		text := line.Text()
		if text == "" || isPostScriptCode(text) || hasExcessiveNonPrintable(text) {
			skipped++
			continue
		}
		size := line.FontSize()

		switch {
		case line.Page == 1 && line.Y > cfg.TitleMinY && size > cfg.TitleMinFontSize &&
			utf8.RuneCountInString(text) >= cfg.TitleMinLength:
			blocks = append(blocks, types.NewBlock(types.KindHeading1, text))
		case size > prevSize:
			blocks = append(blocks, types.NewBlock(types.KindHeading2, text))
		case isFormulaLine(line):
			blocks = append(blocks, formulaBlock(line, text))
		default:
			b := types.NewBlock(types.KindParagraph, text)
			b.Indent = indentFor(line.Fragments[0].X(), cfg.IndentUnit)
			blocks = append(blocks, b)
			prevSize = size
		}
	}

	logger.Debug("reconstructed PDF layout",
		logger.Component("pdf"),
		logger.Int("fragments", len(frags)),
		logger.Int("lines", len(lines)),
		logger.Int("blocks", len(blocks)),
		logger.Int("skipped", skipped))

	return blocks
}

// isFormulaLine reports whether any fragment carries a math operator, a
// Greek letter, a TeX command or a script marker.
func isFormulaLine(l Line) bool {
	for _, f := range l.Fragments {
		if isFormulaText(f.Text) {
			return true
		}
	}
	return false
}

func isFormulaText(s string) bool {
	if strings.ContainsAny(s, mathGlyphs+"^_") || texCommand.MatchString(s) {
		return true
	}
	for _, r := range s {
		if normalize.IsGreek(r) || isScriptGlyph(r) {
			return true
		}
	}
	return false
}

// isScriptGlyph covers Unicode superscript and subscript digits and signs.
func isScriptGlyph(r rune) bool {
	switch {
	case r == '¹' || r == '²' || r == '³':
		return true
	case r >= '⁰' && r <= '⁾':
		return true
	case r >= '₀' && r <= '₎':
		return true
	}
	return false
}

// formulaBlock builds a formula from a line. A trailing equation number
// becomes the reference; any marker makes the formula display.
func formulaBlock(l Line, text string) types.Block {
	marked := false
	for _, m := range envMarkers {
		if strings.Contains(text, m) {
			marked = true
		}
	}
	ref := ""
	if m := trailingNumber.FindStringSubmatch(text); m != nil {
		ref = m[1]
		text = text[:len(text)-len(m[0])]
		marked = true
	}

	text = strings.ReplaceAll(text, `\begin{equation}`, "")
	text = strings.ReplaceAll(text, `\end{equation}`, "")
	text = normalize.StripDelimiters(text)

	b := types.NewFormula(normalize.Formula(text), len(l.Fragments) > 1 && !marked)
	b.Reference = ref
	return b
}

// indentFor rounds x to the nearest multiple of unit.
func indentFor(x, unit float64) int {
	n := int(math.Round(x / unit))
	if n < 0 {
		return 0
	}
	return n
}
