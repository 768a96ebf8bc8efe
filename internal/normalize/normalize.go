// Package normalize rewrites recovered LaTeX into a canonical spelling.
//
// Every front end passes formulas through LaTeX before storing them. The rules
// run in a fixed order and each assumes the previous ones already ran:
//
//  1. \left{ and \right} get escaped braces
//  2. \overset spellings of overline/dot collapse to \overline and \dot
//  3. exp with a function-application glyph (or as a bare word) becomes \exp
//  4. whitespace between tight-binding commands and ^ _ ' ( is removed
//  5. whitespace runs collapse to one space
//  6. leading/trailing whitespace is trimmed
//
// LaTeX is idempotent.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	funcApplication = '⁡'
	invisibleTimes  = '⁢'
	invisibleSep    = '⁣'
	invisiblePlus   = '⁤'
)

var (
	leftRightBrace = regexp.MustCompile(`\\(left|right)\s*([{}])`)
	tightCommand   = regexp.MustCompile(`\\(` + strings.Join(tightNames, "|") + `)\s+([\^_'(])`)
	spaceBeforeSub = regexp.MustCompile(`\s+([\^_])`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// tightNames are commands whose following script or argument binds tightly.
var tightNames = []string{
	"alpha", "beta", "gamma", "delta", "epsilon", "varepsilon", "zeta", "eta",
	"theta", "vartheta", "iota", "kappa", "lambda", "mu", "nu", "xi", "pi",
	"varpi", "rho", "varrho", "sigma", "varsigma", "tau", "upsilon", "phi",
	"varphi", "chi", "psi", "omega",
	"Gamma", "Delta", "Theta", "Lambda", "Xi", "Pi", "Sigma", "Upsilon", "Phi",
	"Psi", "Omega",
	"partial", "nabla", "infty", "hbar", "ell",
}

// asciiSpace matches what regexp's \s matches so trimming agrees with collapsing.
const asciiSpace = " \t\n\f\r"

// LaTeX applies the normalization rules to one formula.
func LaTeX(s string) string {
	s = applyFunctionExp(s)
	s = fixLeftRightBraces(s)
	s = collapseOverset(s)
	s = bareExp(s)
	s = tightenScripts(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, asciiSpace)
}

// Formula runs the Unicode symbol pass followed by LaTeX. Front ends that
// recover formulas from text-like sources (OMML, PDF) use this.
func Formula(s string) string {
	return LaTeX(Symbols(s))
}

// fixLeftRightBraces: \left{ -> \left\{, \right } -> \right\}.
// Post: no \left or \right is followed (modulo whitespace) by a bare brace.
func fixLeftRightBraces(s string) string {
	return leftRightBrace.ReplaceAllString(s, `\${1}\${2}`)
}

// collapseOverset rewrites \overset{\overline}{X} to \overline{X} and
// \overset{\cdot}{X} to \dot{X}, recursing into X. Overlays it does not
// recognize, and unbalanced arguments, are copied unchanged.
func collapseOverset(s string) string {
	const cmd = `\overset{`
	if !strings.Contains(s, cmd) {
		return s
	}

	var sb strings.Builder
	rest := s
	for {
		i := strings.Index(rest, cmd)
		if i < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:i])
		after := rest[i+len(cmd)-1:]

		overlay, n1, ok1 := BraceGroup(after)
		var body string
		var n2 int
		ok2 := false
		if ok1 {
			body, n2, ok2 = BraceGroup(after[n1:])
		}
		target := ""
		if ok2 {
			target = oversetTarget(overlay)
		}
		if target == "" {
			sb.WriteString(cmd)
			rest = after[1:]
			continue
		}

		sb.WriteString(`\`)
		sb.WriteString(target)
		sb.WriteString("{")
		sb.WriteString(collapseOverset(body))
		sb.WriteString("}")
		rest = after[n1+n2:]
	}
	return sb.String()
}

func oversetTarget(overlay string) string {
	overlay = strings.Trim(dropInvisible(overlay), asciiSpace)
	switch overlay {
	case `\overline`, `\bar`, "¯", "̄", "‾":
		return "overline"
	case `\cdot`, `\dot`, "˙", "̇", ".", "⋅", "·":
		return "dot"
	}
	return ""
}

// BraceGroup reads a balanced {...} group at the start of s and returns its
// interior and the number of bytes consumed. ok is false when s does not start
// with '{' or the group is never closed.
func BraceGroup(s string) (inner string, n int, ok bool) {
	if !strings.HasPrefix(s, "{") {
		return "", 0, false
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // escaped brace does not count
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[1:i], i + 1, true
			}
		}
	}
	return "", 0, false
}

// applyFunctionExp turns exp followed by U+2061 into "\exp " and drops the
// invisible operators. It runs first so no later rule sees U+2061..U+2064.
func applyFunctionExp(s string) string {
	s = strings.ReplaceAll(s, `\exp`+string(funcApplication), `\exp `)
	s = strings.ReplaceAll(s, "exp"+string(funcApplication), `\exp `)
	return dropInvisible(s)
}

// bareExp promotes a bare word "exp" to \exp.
func bareExp(s string) string {
	if !strings.Contains(s, "exp") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "exp") && bareWordAt(s, i, 3) {
			sb.WriteString(`\exp`)
			i += 3
			continue
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

func dropInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case funcApplication, invisibleTimes, invisibleSep, invisiblePlus:
			return -1
		}
		return r
	}, s)
}

// bareWordAt reports whether s[i:i+n] is not preceded by a backslash or
// letter and not followed by a letter.
func bareWordAt(s string, i, n int) bool {
	if i > 0 {
		prev, _ := utf8.DecodeLastRuneInString(s[:i])
		if prev == '\\' || unicode.IsLetter(prev) {
			return false
		}
	}
	if i+n < len(s) {
		next, _ := utf8.DecodeRuneInString(s[i+n:])
		if unicode.IsLetter(next) {
			return false
		}
	}
	return true
}

// tightenScripts removes whitespace between a tight command and a following
// ^ _ ' (, and any whitespace directly before ^ or _. A control space such as
// "a\ ^2" keeps its escaped character.
func tightenScripts(s string) string {
	s = tightCommand.ReplaceAllString(s, `\${1}${2}`)

	var sb strings.Builder
	last := 0
	for _, m := range spaceBeforeSub.FindAllStringIndex(s, -1) {
		sb.WriteString(s[last:m[0]])
		if escaped(s, m[0]) {
			_, size := utf8.DecodeRuneInString(s[m[0]:])
			sb.WriteString(s[m[0] : m[0]+size])
		}
		sb.WriteString(s[m[1]-1 : m[1]])
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String()
}

// escaped reports whether s[i] follows an odd run of backslashes.
func escaped(s string, i int) bool {
	n := 0
	for i-n-1 >= 0 && s[i-n-1] == '\\' {
		n++
	}
	return n%2 == 1
}

// StripDelimiters removes one pair of surrounding math delimiters:
// $$...$$, \[...\], \(...\) or $...$. The result is trimmed.
func StripDelimiters(s string) string {
	t := strings.TrimSpace(s)
	pairs := [][2]string{{"$$", "$$"}, {`\[`, `\]`}, {`\(`, `\)`}, {"$", "$"}}
	for _, p := range pairs {
		if len(t) >= len(p[0])+len(p[1]) && strings.HasPrefix(t, p[0]) && strings.HasSuffix(t, p[1]) {
			return strings.TrimSpace(t[len(p[0]) : len(t)-len(p[1])])
		}
	}
	return t
}
