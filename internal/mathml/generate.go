package mathml

import (
	"strings"
	"unicode/utf8"

	"mathblocks/internal/normalize"
)

// Generate renders a node tree as LaTeX. The result is not normalized.
func Generate(n Node) string {
	switch v := n.(type) {
	case nil:
		return ""
	case Variable:
		return symbol(v.Value)
	case Number:
		return v.Value
	case Operator:
		return fence(v)
	case Group:
		parts := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if s := Generate(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case Subscript:
		return base(v.Base) + "_{" + Generate(v.Index) + "}"
	case Superscript:
		return base(v.Base) + "^{" + Generate(v.Exponent) + "}"
	case Decoration:
		switch v.Tag {
		case DecorationOverline:
			return `\overset{\overline}{` + Generate(v.Body) + "}"
		case DecorationDot:
			return `\overset{\cdot}{` + Generate(v.Body) + "}"
		}
		return Generate(v.Body)
	case Function:
		return function(v)
	}
	return ""
}

// symbol maps a single Unicode glyph through the shared symbol table.
func symbol(s string) string {
	if utf8.RuneCountInString(s) == 1 {
		r, _ := utf8.DecodeRuneInString(s)
		if cmd, ok := normalize.SymbolFor(r); ok {
			return cmd
		}
	}
	return s
}

func fence(op Operator) string {
	v := symbol(op.Value)
	switch op.Fence {
	case FenceOpen:
		if v == "" {
			v = "."
		}
		return `\left` + v
	case FenceClose:
		if v == "" {
			v = "."
		}
		return `\right` + v
	}
	return v
}

// base braces multi-item groups so a script applies to the whole group.
func base(n Node) string {
	s := Generate(n)
	if g, ok := n.(Group); ok && !g.Fenced && len(g.Items) > 1 {
		return "{" + s + "}"
	}
	return s
}

func function(f Function) string {
	arg := func(i int) string {
		if i < len(f.Args) {
			return Generate(f.Args[i])
		}
		return ""
	}

	switch f.Name {
	case "frac":
		return `\frac{` + arg(0) + "}{" + arg(1) + "}"
	case "sqrt":
		if f.Optional != nil {
			return `\sqrt[` + Generate(f.Optional) + "]{" + arg(0) + "}"
		}
		return `\sqrt{` + arg(0) + "}"
	case "text":
		if len(f.Args) == 1 {
			if v, ok := f.Args[0].(Variable); ok {
				return `\text{` + v.Value + "}"
			}
		}
		return `\text{` + arg(0) + "}"
	}

	var sb strings.Builder
	sb.WriteString(`\`)
	sb.WriteString(f.Name)
	for i := range f.Args {
		sb.WriteString("{")
		sb.WriteString(arg(i))
		sb.WriteString("}")
	}
	return sb.String()
}
