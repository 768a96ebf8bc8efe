package omml

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Each rule is a pure string -> string function. Preconditions name what the
// previous rules guarantee; postconditions name what the rule guarantees to
// the ones after it.

var (
	nsDecl       = regexp.MustCompile(`(?i)\s+xmlns(?::[\w-]+)?\s*=\s*"[^"]*"`)
	mathWrapper  = regexp.MustCompile(`(?i)</?m:oMath(?:Para)?(?:\s[^>]*)?>`)
	interTagWS   = regexp.MustCompile(`>\s+<`)
	runProps     = regexp.MustCompile(`(?is)<(?:m|w):rPr\b[^>]*/>|<(?:m|w):rPr\b[^>]*>.*?</(?:m|w):rPr\s*>`)
	textElement  = regexp.MustCompile(`(?is)<(?:m|w):t\b[^>/]*>(.*?)</(?:m|w):t\s*>`)
	runTag       = regexp.MustCompile(`(?i)</?(?:m|w):r\b[^>]*>`)
	anyTag       = regexp.MustCompile(`<[^>]*>`)
	wordFunction = map[string]bool{
		"sin": true, "cos": true, "tan": true, "cot": true, "sec": true, "csc": true,
		"sinh": true, "cosh": true, "tanh": true, "arcsin": true, "arccos": true,
		"arctan": true, "log": true, "ln": true, "exp": true, "lim": true,
		"max": true, "min": true, "det": true, "sup": true, "inf": true,
	}
)

// naryCommands maps the n-ary glyph carried in <m:chr m:val> to LaTeX.
var naryCommands = map[string]string{
	"∑": `\sum`, "∏": `\prod`, "∐": `\coprod`, "∫": `\int`, "∬": `\iint`,
	"∭": `\iiint`, "∮": `\oint`, "⋃": `\bigcup`, "⋂": `\bigcap`,
	"⋁": `\bigvee`, "⋀": `\bigwedge`,
}

// stripWrappers removes namespace declarations, the oMathPara/oMath
// wrappers and whitespace between tags.
// Post: no xmlns attribute and no oMath/oMathPara tag remains.
func stripWrappers(s string) string {
	s = nsDecl.ReplaceAllString(s, "")
	s = interTagWS.ReplaceAllString(s, "><")
	return strings.TrimSpace(mathWrapper.ReplaceAllString(s, ""))
}

// fractions rewrites <m:f> into \frac{num}{den}; each operand is flattened
// on its own first.
// Pre: wrappers stripped. Post: no m:f element remains.
func fractions(s string) string {
	return rewrite(s, "f", func(_, inner string) string {
		num, _ := child(inner, "num")
		den, _ := child(inner, "den")
		return `\frac{` + strings.TrimSpace(flatten(num)) + "}{" + strings.TrimSpace(flatten(den)) + "}"
	})
}

// limits rewrites <m:limLow> to base_{lim} and <m:limUpp> to base^{lim}.
// Post: no limLow/limUpp element remains.
func limits(s string) string {
	s = rewrite(s, "limLow", func(_, inner string) string {
		e, _ := child(inner, "e")
		lim, _ := child(inner, "lim")
		return limits(e) + "_{" + limits(lim) + "}"
	})
	return rewrite(s, "limUpp", func(_, inner string) string {
		e, _ := child(inner, "e")
		lim, _ := child(inner, "lim")
		return limits(e) + "^{" + limits(lim) + "}"
	})
}

// scripts rewrites <m:sup> to ^{...} and <m:sub> to _{...}. The base stays
// in its <m:e>, which precedes the scripts in every script container.
// Post: no m:sup or m:sub element remains.
func scripts(s string) string {
	s = rewrite(s, "sup", func(_, inner string) string {
		return "^{" + scripts(inner) + "}"
	})
	return rewrite(s, "sub", func(_, inner string) string {
		return "_{" + scripts(inner) + "}"
	})
}

// textRuns unwraps <m:r>/<w:r> runs to their literal text and drops run
// properties.
// Post: no rPr, r or t element remains; text content is unchanged.
func textRuns(s string) string {
	s = runProps.ReplaceAllString(s, "")
	s = textElement.ReplaceAllString(s, "$1")
	return runTag.ReplaceAllString(s, "")
}

// functions rewrites <m:func> to "\name arg" for known function names and
// "name arg" otherwise.
// Pre: text runs unwrapped. Post: no m:func element remains.
func functions(s string) string {
	return rewrite(s, "func", func(_, inner string) string {
		fname, _ := child(inner, "fName")
		name := strings.TrimSpace(anyTag.ReplaceAllString(functions(fname), ""))
		if wordFunction[name] {
			name = `\` + name
		}
		e, _ := child(inner, "e")
		return name + " " + functions(e)
	})
}

// delimiters rewrites <m:d> to begChr e1,e2,... endChr (parentheses by
// default), unwraps box, borderBox and groupChr to {...} and joins the rows
// of an eqArr with \\.
// Post: no d, box, borderBox, groupChr or eqArr element remains.
func delimiters(s string) string {
	s = rewrite(s, "d", func(_, inner string) string {
		beg, end := "(", ")"
		if pr, ok := child(inner, "dPr"); ok {
			if v, ok := val(pr, "begChr"); ok {
				beg = v
			}
			if v, ok := val(pr, "endChr"); ok {
				end = v
			}
		}
		parts := children(inner, "e")
		for i := range parts {
			parts[i] = delimiters(parts[i])
		}
		return beg + strings.Join(parts, ",") + end
	})
	for _, name := range []string{"box", "borderBox", "groupChr"} {
		s = rewrite(s, name, func(_, inner string) string {
			e, _ := child(inner, "e")
			return "{" + delimiters(e) + "}"
		})
	}
	return rewrite(s, "eqArr", func(_, inner string) string {
		rows := children(inner, "e")
		for i := range rows {
			rows[i] = delimiters(rows[i])
		}
		return strings.Join(rows, ` \\ `)
	})
}

// radicals rewrites <m:rad> to \sqrt{e}, or \sqrt[deg]{e} when the degree
// has content.
// Post: no m:rad element remains.
func radicals(s string) string {
	return rewrite(s, "rad", func(_, inner string) string {
		deg, _ := child(inner, "deg")
		e, _ := child(inner, "e")
		deg = strings.TrimSpace(anyTag.ReplaceAllString(radicals(deg), ""))
		if deg == "" {
			return `\sqrt{` + radicals(e) + "}"
		}
		return `\sqrt[` + deg + "]{" + radicals(e) + "}"
	})
}

// naryOperators rewrites <m:nary> to its operator followed by the limits and
// operand. Without a chr property the operator is an integral.
// Pre: scripts rewritten. Post: no m:nary element remains.
func naryOperators(s string) string {
	return rewrite(s, "nary", func(_, inner string) string {
		cmd := `\int`
		if pr, ok := child(inner, "naryPr"); ok {
			if v, ok := val(pr, "chr"); ok && v != "" {
				if c, known := naryCommands[v]; known {
					cmd = c
				} else {
					cmd = v
				}
			}
		}
		return cmd + " " + naryOperators(inner)
	})
}

// emptyFences turns literal () and [] into \left(\right) and \left[\right].
// Pre: structural rules done.
func emptyFences(s string) string {
	s = strings.ReplaceAll(s, "()", `\left(\right)`)
	return strings.ReplaceAll(s, "[]", `\left[\right]`)
}

// stripTags removes every remaining tag.
// Post: the string contains no '<...>' markup.
func stripTags(s string) string {
	return anyTag.ReplaceAllString(s, "")
}

// decodeEntities resolves character references such as &lt; and &#x3B1;.
// Pre: tags stripped, so a decoded '<' cannot be mistaken for markup.
func decodeEntities(s string) string {
	return html.UnescapeString(s)
}

// flatten applies the structural rules in order. It is used on the whole
// expression and, recursively, on fraction operands.
func flatten(s string) string {
	for _, rule := range structuralRules {
		s = rule(s)
	}
	return s
}

var structuralRules []func(string) string

func init() {
	structuralRules = []func(string) string{
		fractions,
		limits,
		scripts,
		textRuns,
		functions,
		delimiters,
		radicals,
		naryOperators,
		emptyFences,
		stripTags,
	}
}
