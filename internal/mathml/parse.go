package mathml

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"mathblocks/internal/logger"
	"mathblocks/internal/types"
)

// functionNames are identifiers rendered as upright LaTeX operators.
var functionNames = map[string]bool{
	"sin": true, "cos": true, "tan": true, "cot": true, "sec": true, "csc": true,
	"arcsin": true, "arccos": true, "arctan": true, "sinh": true, "cosh": true,
	"tanh": true, "coth": true, "log": true, "ln": true, "lg": true, "exp": true,
	"det": true, "dim": true, "ker": true, "lim": true, "max": true, "min": true,
	"sup": true, "inf": true, "arg": true, "deg": true, "gcd": true, "Pr": true,
}

// wrappers are presentation containers that only group their children.
var wrappers = map[string]bool{
	"mrow": true, "mstyle": true, "mpadded": true, "mphantom": true,
	"menclose": true, "merror": true, "math": true, "mtd": true,
}

// dropped elements carry no visible math.
var dropped = map[string]bool{
	"mspace": true, "annotation": true, "annotation-xml": true, "none": true,
	"mprescripts": true, "maligngroup": true, "malignmark": true,
}

var openFences = map[string]bool{"(": true, "[": true, "{": true, "⟨": true, "⌈": true, "⌊": true}
var closeFences = map[string]bool{")": true, "]": true, "}": true, "⟩": true, "⌉": true, "⌋": true}

var overlineGlyphs = map[string]bool{"¯": true, "‾": true, "̄": true, "_": true, "―": true, "─": true}
var dotGlyphs = map[string]bool{"˙": true, ".": true, "⋅": true, "·": true, "̇": true}

// parser collects diagnostics while mapping elements to nodes.
type parser struct {
	diags []types.Diagnostic
}

// Parse maps a MathML element to a Node. Elements that render nothing map
// to nil. Unknown elements become a Group over their children and are
// reported as diagnostics.
func Parse(el *etree.Element) (Node, []types.Diagnostic) {
	p := &parser{}
	return p.parse(el), p.diags
}

func (p *parser) parse(el *etree.Element) Node {
	tag := el.Tag
	switch {
	case tag == "mi":
		return identifier(text(el))
	case tag == "mn":
		return Number{Value: text(el)}
	case tag == "mo":
		return operator(el)
	case tag == "mtext" || tag == "ms":
		return Function{Name: "text", Args: []Node{Variable{Value: text(el)}}}
	case wrappers[tag]:
		return p.group(el.ChildElements())
	case dropped[tag]:
		return nil
	case tag == "semantics" || tag == "maction":
		if kids := el.ChildElements(); len(kids) > 0 {
			return p.parse(kids[0])
		}
		return nil
	case tag == "mfenced":
		return p.fenced(el)
	case tag == "msub" || tag == "munder":
		a, b := p.pair(el)
		return Subscript{Base: a, Index: b}
	case tag == "msup":
		a, b := p.pair(el)
		return Superscript{Base: a, Exponent: b}
	case tag == "msubsup" || tag == "munderover":
		kids := p.children(el, 3)
		return Superscript{Base: Subscript{Base: kids[0], Index: kids[1]}, Exponent: kids[2]}
	case tag == "mover":
		return p.over(el)
	case tag == "mfrac":
		a, b := p.pair(el)
		return Function{Name: "frac", Args: []Node{a, b}}
	case tag == "msqrt":
		return Function{Name: "sqrt", Args: []Node{p.group(el.ChildElements())}}
	case tag == "mroot":
		a, b := p.pair(el)
		return Function{Name: "sqrt", Args: []Node{a}, Optional: b}
	default:
		p.diags = append(p.diags, types.Diagnostic{
			Component: "mathml",
			Kind:      types.DiagUnknownTag,
			Offset:    -1,
			Message:   fmt.Sprintf("unknown element <%s>", tag),
		})
		logger.Warn("unknown MathML element", logger.Component("mathml"), logger.String("tag", tag))
		return p.group(el.ChildElements())
	}
}

func identifier(v string) Node {
	if functionNames[v] {
		return Function{Name: v}
	}
	return Variable{Value: v}
}

func operator(el *etree.Element) Node {
	v := text(el)
	op := Operator{Value: v}
	if el.SelectAttrValue("fence", "") != "true" {
		return op
	}
	switch {
	case openFences[v]:
		op.Fence = FenceOpen
	case closeFences[v]:
		op.Fence = FenceClose
	default:
		switch el.SelectAttrValue("form", "") {
		case "prefix":
			op.Fence = FenceOpen
		case "postfix":
			op.Fence = FenceClose
		}
	}
	return op
}

// group returns the single child directly, otherwise a Group.
func (p *parser) group(kids []*etree.Element) Node {
	var items []Node
	for _, k := range kids {
		if n := p.parse(k); n != nil {
			items = append(items, n)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return Group{Items: items}
}

// fenced expands mfenced into open operator, children with separators, close operator.
func (p *parser) fenced(el *etree.Element) Node {
	openV := el.SelectAttrValue("open", "(")
	closeV := el.SelectAttrValue("close", ")")
	seps := []rune(strings.Join(strings.Fields(el.SelectAttrValue("separators", ",")), ""))

	items := []Node{Operator{Value: openV, Fence: FenceOpen}}
	i := 0
	for _, k := range el.ChildElements() {
		n := p.parse(k)
		if n == nil {
			continue
		}
		if i > 0 && len(seps) > 0 {
			sep := seps[len(seps)-1]
			if i-1 < len(seps) {
				sep = seps[i-1]
			}
			items = append(items, Operator{Value: string(sep)})
		}
		items = append(items, n)
		i++
	}
	items = append(items, Operator{Value: closeV, Fence: FenceClose})
	return Group{Items: items, Fenced: true}
}

// over distinguishes accents from limits: an operator base takes the
// overscript as a limit, otherwise the overlay glyph picks the decoration.
func (p *parser) over(el *etree.Element) Node {
	a, b := p.pair(el)
	if _, ok := a.(Operator); ok {
		return Superscript{Base: a, Exponent: b}
	}
	glyph := ""
	if kids := el.ChildElements(); len(kids) > 1 {
		glyph = text(kids[1])
	}
	switch {
	case overlineGlyphs[glyph]:
		return Decoration{Tag: DecorationOverline, Body: a}
	case dotGlyphs[glyph]:
		return Decoration{Tag: DecorationDot, Body: a}
	}
	return Decoration{Tag: DecorationNone, Body: a}
}

func (p *parser) pair(el *etree.Element) (Node, Node) {
	kids := p.children(el, 2)
	return kids[0], kids[1]
}

// children parses the first n child elements; missing ones are nil.
func (p *parser) children(el *etree.Element, n int) []Node {
	out := make([]Node, n)
	for i, k := range el.ChildElements() {
		if i >= n {
			break
		}
		out[i] = p.parse(k)
	}
	return out
}

// text returns the trimmed character data under el.
func text(el *etree.Element) string {
	var sb strings.Builder
	collectText(el, &sb)
	return strings.TrimSpace(sb.String())
}

func collectText(el *etree.Element, sb *strings.Builder) {
	for _, c := range el.Child {
		switch t := c.(type) {
		case *etree.CharData:
			sb.WriteString(t.Data)
		case *etree.Element:
			collectText(t, sb)
		}
	}
}
