package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// greek maps Greek letters to their LaTeX commands.
var greek = map[rune]string{
	'α': `\alpha`, 'β': `\beta`, 'γ': `\gamma`, 'δ': `\delta`, 'ε': `\varepsilon`,
	'ϵ': `\epsilon`, 'ζ': `\zeta`, 'η': `\eta`, 'θ': `\theta`, 'ϑ': `\vartheta`,
	'ι': `\iota`, 'κ': `\kappa`, 'λ': `\lambda`, 'μ': `\mu`, 'µ': `\mu`, 'ν': `\nu`,
	'ξ': `\xi`, 'π': `\pi`, 'ϖ': `\varpi`, 'ρ': `\rho`, 'ϱ': `\varrho`,
	'σ': `\sigma`, 'ς': `\varsigma`, 'τ': `\tau`, 'υ': `\upsilon`, 'φ': `\varphi`,
	'ϕ': `\phi`, 'χ': `\chi`, 'ψ': `\psi`, 'ω': `\omega`,
	'Γ': `\Gamma`, 'Δ': `\Delta`, 'Θ': `\Theta`, 'Λ': `\Lambda`, 'Ξ': `\Xi`,
	'Π': `\Pi`, 'Σ': `\Sigma`, 'Υ': `\Upsilon`, 'Φ': `\Phi`, 'Ψ': `\Psi`,
	'Ω': `\Omega`,
}

// operators maps relation, arrow and operator glyphs to LaTeX.
var operators = map[rune]string{
	'∂': `\partial`, '∇': `\nabla`, '∞': `\infty`, 'ℏ': `\hbar`, 'ℓ': `\ell`,
	'≤': `\leq`, '≥': `\geq`, '≠': `\neq`, '≈': `\approx`, '≡': `\equiv`,
	'∼': `\sim`, '≃': `\simeq`, '≅': `\cong`, '∝': `\propto`, '≪': `\ll`, '≫': `\gg`,
	'→': `\rightarrow`, '←': `\leftarrow`, '↔': `\leftrightarrow`,
	'⇒': `\Rightarrow`, '⇐': `\Leftarrow`, '⇔': `\Leftrightarrow`, '↦': `\mapsto`,
	'∈': `\in`, '∉': `\notin`, '∋': `\ni`, '⊂': `\subset`, '⊃': `\supset`,
	'⊆': `\subseteq`, '⊇': `\supseteq`, '∪': `\cup`, '∩': `\cap`, '∅': `\emptyset`,
	'∀': `\forall`, '∃': `\exists`, '¬': `\neg`, '∧': `\wedge`, '∨': `\vee`,
	'×': `\times`, '÷': `\div`, '·': `\cdot`, '⋅': `\cdot`, '∘': `\circ`,
	'±': `\pm`, '∓': `\mp`, '⊗': `\otimes`, '⊕': `\oplus`,
	'∑': `\sum`, '∏': `\prod`, '∫': `\int`, '∬': `\iint`, '∭': `\iiint`, '∮': `\oint`,
	'√': `\sqrt`, '⟨': `\langle`, '⟩': `\rangle`, '…': `\ldots`, '⋯': `\cdots`,
	'⊥': `\perp`, '∥': `\parallel`, '°': `^{\circ}`,
}

// plain maps glyphs that have a plain ASCII spelling.
var plain = map[rune]string{
	'\u2212': "-", '\u2032': "'", '\u2033': "''",
	'\u00a0': " ", '\u2009': " ", '\u200a': " ", '\u202f': " ",
}

// repairable command names may be glued to a following letter by sloppy
// sources, e.g. "\thetaQ" for θQ.
var repairable = func() map[string]bool {
	m := map[string]bool{"partial": true, "nabla": true, "exp": true}
	for _, cmd := range greek {
		m[cmd[1:]] = true
	}
	return m
}()

// known lists every command the tables emit.
var known = func() map[string]bool {
	m := map[string]bool{"exp": true}
	for _, table := range []map[rune]string{greek, operators} {
		for _, cmd := range table {
			if strings.HasPrefix(cmd, `\`) {
				m[cmd[1:]] = true
			}
		}
	}
	return m
}()

var gluedCommand = regexp.MustCompile(`\\([A-Za-z]+)`)

// SymbolFor returns the LaTeX spelling of a single Unicode math glyph.
func SymbolFor(r rune) (string, bool) {
	if s, ok := greek[r]; ok {
		return s, true
	}
	if s, ok := operators[r]; ok {
		return s, true
	}
	if s, ok := plain[r]; ok {
		return s, true
	}
	return "", false
}

// IsGreek reports whether r is a Greek letter with a LaTeX command.
func IsGreek(r rune) bool {
	_, ok := greek[r]
	return ok
}

// Symbols NFC-normalizes s, replaces Unicode math glyphs with LaTeX commands
// and splits commands that were glued to a following letter. Invisible
// operators are dropped first so the glyphs they separated are seen as
// neighbours.
func Symbols(s string) string {
	s = norm.NFC.String(applyFunctionExp(s))

	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		sym, ok := SymbolFor(r)
		if !ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteString(sym)
		// keep "\alpha" from swallowing a following letter
		if strings.HasPrefix(sym, `\`) && i+1 < len(runes) && unicode.IsLetter(runes[i+1]) && isLetterTail(sym) {
			sb.WriteByte(' ')
		}
	}
	return repairGlued(sb.String())
}

func isLetterTail(sym string) bool {
	last := sym[len(sym)-1]
	return (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z')
}

// repairGlued splits \nameX into \name X when name is repairable, X is a
// single ASCII letter and nameX is not itself a known command.
func repairGlued(s string) string {
	return gluedCommand.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1:]
		if len(name) < 2 || known[name] {
			return m
		}
		head := name[:len(name)-1]
		if !repairable[head] {
			return m
		}
		return `\` + head + " " + name[len(name)-1:]
	})
}
