package assembler

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"mathblocks/internal/logger"
	"mathblocks/internal/mathml"
	"mathblocks/internal/normalize"
	"mathblocks/internal/omml"
	"mathblocks/internal/types"
)

// selfClosingOMML matches empty OMML elements such as <m:deg/>. The HTML
// parser ignores the trailing slash on unknown elements, so they are
// expanded before parsing.
var selfClosingOMML = regexp.MustCompile(`(?i)<(m:[a-z]+)((?:\s[^<>]*?)?)\s*/>`)

// inlinePolicy keeps the inline formatting that the editing surface renders.
var inlinePolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "sub", "sup", "br", "code", "span", "mark")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	return p
}()

var plainPolicy = bluemonday.StrictPolicy()

// blockTag matches tags whose removal must leave a word break behind.
var blockTag = regexp.MustCompile(`(?i)<(/?(?:li|td|th|tr|br|p|div|dt|dd)\b)`)

// walker collects blocks from one HTML tree in document order.
type walker struct {
	opts    omml.Options
	blocks  []types.Block
	diags   []types.Diagnostic
	pending []*xhtml.Node // loose inline content outside any block element
	skip    bool          // inside Word's non-equation fallback
}

// walkHTML parses markup and walks it into blocks.
func (a *Assembler) walkHTML(markup string) ([]types.Block, []types.Diagnostic) {
	markup = selfClosingOMML.ReplaceAllString(markup, "<$1$2></$1>")
	doc, err := xhtml.Parse(strings.NewReader(markup))
	if err != nil {
		d := types.Diagnostic{
			Component: "html",
			Kind:      types.DiagMalformedMarkup,
			Offset:    -1,
			Message:   err.Error(),
		}
		logger.Warn("HTML parse failed", logger.Component("html"), logger.String("kind", d.Kind), logger.Err(err))
		return nil, []types.Diagnostic{d}
	}

	w := &walker{opts: a.ommlOptions()}
	w.walk(doc)
	w.flushPending()

	logger.Debug("HTML walk complete",
		logger.Component("html"),
		logger.Int("blocks", len(w.blocks)),
		logger.Int("diagnostics", len(w.diags)))

	return w.blocks, w.diags
}

func (w *walker) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.CommentNode:
		if w.control(n) || w.skip {
			return
		}
		if markup, ok := commentOMML(n.Data); ok {
			if !isOMMLPara(markup) {
				w.pending = append(w.pending, n)
				return
			}
			w.flushPending()
			w.ommlFormulas(markup, false)
		}
		return
	case xhtml.TextNode:
		if !w.skip {
			w.pending = append(w.pending, n)
		}
		return
	case xhtml.ElementNode:
		if !w.skip {
			if w.element(n) {
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// element handles block-level elements and reports whether n was consumed.
func (w *walker) element(n *xhtml.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Title:
		return true
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.flushPending()
		if text := w.plainText(n); text != "" {
			w.blocks = append(w.blocks, types.NewBlock(types.HeadingKind(int(n.Data[1]-'0')), text))
		}
		return true
	case atom.P:
		w.flushPending()
		kind := types.KindParagraph
		if isCaption(n) {
			kind = types.KindCaption
		}
		w.paragraph(n, kind)
		return true
	case atom.Figcaption:
		w.flushPending()
		w.paragraph(n, types.KindCaption)
		return true
	case atom.Img:
		w.flushPending()
		w.image(n)
		return true
	case atom.Math:
		if !isDisplayMathML(n) {
			w.pending = append(w.pending, n)
			return true
		}
		w.flushPending()
		w.mathFormula(n, false)
		return true
	case atom.Ul, atom.Ol, atom.Dl, atom.Table:
		w.flushPending()
		if text := w.plainText(n); text != "" {
			w.blocks = append(w.blocks, types.NewBlock(types.KindParagraph, text))
		}
		return true
	}
	switch strings.ToLower(n.Data) {
	case "m:omath":
		w.pending = append(w.pending, n)
		return true
	case texMath:
		if !isDisplayMath(n) {
			w.pending = append(w.pending, n)
			return true
		}
		w.flushPending()
		w.mathFormula(n, false)
		return true
	case "m:omathpara":
		w.flushPending()
		w.ommlFormulas(render(n), false)
		return true
	}
	return false
}

// paragraph emits a text block, split around display math and images.
func (w *walker) paragraph(n *xhtml.Node, kind types.BlockKind) {
	var seg []*xhtml.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xhtml.CommentNode && w.control(c) {
			continue
		}
		if w.skip {
			continue
		}
		switch {
		case isDisplayMath(c):
			w.textBlock(kind, seg)
			seg = nil
			w.displayMath(c)
		case imageOnly(c):
			w.textBlock(kind, seg)
			seg = nil
			w.images(c)
		default:
			seg = append(seg, c)
		}
	}
	w.textBlock(kind, seg)
}

func (w *walker) flushPending() {
	nodes := w.pending
	w.pending = nil
	w.textBlock(types.KindParagraph, nodes)
}

// textBlock renders nodes with inline math as $...$ and appends a sanitized
// block when anything visible remains.
func (w *walker) textBlock(kind types.BlockKind, nodes []*xhtml.Node) {
	if len(nodes) == 0 {
		return
	}
	content := collapse(inlinePolicy.Sanitize(w.renderInline(nodes)))
	if content == "" {
		return
	}
	w.blocks = append(w.blocks, types.NewBlock(kind, content))
}

// plainText is the visible text of n with inline math as $...$.
func (w *walker) plainText(n *xhtml.Node) string {
	var nodes []*xhtml.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		nodes = append(nodes, c)
	}
	rendered := blockTag.ReplaceAllString(w.renderInline(nodes), " <$1")
	return collapse(html.UnescapeString(plainPolicy.Sanitize(rendered)))
}

// renderInline serializes nodes, replacing math with $...$ text. The nodes
// were collected outside any fallback region.
func (w *walker) renderInline(nodes []*xhtml.Node) string {
	saved := w.skip
	w.skip = false
	defer func() { w.skip = saved }()

	var buf bytes.Buffer
	for _, n := range nodes {
		switch {
		case n.Type == xhtml.CommentNode:
			if w.control(n) || w.skip {
				continue
			}
			if markup, ok := commentOMML(n.Data); ok {
				buf.WriteString(html.EscapeString(inlineMath(w.convertOMML(markup))))
			}
		case w.skip:
		case isMathElement(n):
			buf.WriteString(html.EscapeString(inlineMath(w.convertMath(n))))
		case n.Type == xhtml.ElementNode:
			w.replaceMath(n)
			_ = xhtml.Render(&buf, n)
		case n.Type == xhtml.TextNode:
			buf.WriteString(html.EscapeString(n.Data))
		}
	}
	return buf.String()
}

// replaceMath swaps math descendants of n for text nodes holding $...$ and
// drops Word fallback content.
func (w *walker) replaceMath(n *xhtml.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == xhtml.CommentNode:
			if !w.control(c) && !w.skip {
				if markup, ok := commentOMML(c.Data); ok {
					n.InsertBefore(textNode(inlineMath(w.convertOMML(markup))), c)
				}
			}
			n.RemoveChild(c)
		case w.skip:
			n.RemoveChild(c)
		case isMathElement(c):
			n.InsertBefore(textNode(inlineMath(w.convertMath(c))), c)
			n.RemoveChild(c)
		case c.Type == xhtml.ElementNode:
			w.replaceMath(c)
		}
		c = next
	}
}

// control tracks Word's <![if !msEquation]> ... <![endif]> fallback markers.
func (w *walker) control(n *xhtml.Node) bool {
	data := strings.ToLower(strings.TrimSpace(n.Data))
	switch {
	case strings.HasPrefix(data, "[if !msequation]"):
		w.skip = true
		return true
	case data == "[endif]":
		w.skip = false
		return true
	}
	return false
}

func (w *walker) image(n *xhtml.Node) {
	if src := attr(n, "src"); src != "" {
		w.blocks = append(w.blocks, types.NewBlock(types.KindImage, src))
	}
}

func (w *walker) images(n *xhtml.Node) {
	if n.Type == xhtml.ElementNode && n.DataAtom == atom.Img {
		w.image(n)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.images(c)
	}
}

func (w *walker) displayMath(n *xhtml.Node) {
	if n.Type == xhtml.CommentNode {
		markup, _ := commentOMML(n.Data)
		w.ommlFormulas(markup, false)
		return
	}
	if n.DataAtom == atom.Math || isTeXMath(n) {
		w.mathFormula(n, false)
		return
	}
	w.ommlFormulas(render(n), false)
}

func (w *walker) mathFormula(n *xhtml.Node, inline bool) {
	for _, f := range w.convertMath(n) {
		w.blocks = append(w.blocks, types.NewFormula(f, inline))
	}
}

func (w *walker) ommlFormulas(markup string, inline bool) {
	for _, f := range w.convertOMML(markup) {
		w.blocks = append(w.blocks, types.NewFormula(f, inline))
	}
}

// convertMath converts a <math>, <tex-math> or OMML element to its formulas.
func (w *walker) convertMath(n *xhtml.Node) []string {
	if isTeXMath(n) {
		if latex := normalize.LaTeX(textContent(n)); latex != "" {
			return []string{latex}
		}
		return nil
	}
	if n.DataAtom != atom.Math {
		return w.convertOMML(render(n))
	}
	latex, diags := mathml.ConvertWithDiagnostics(render(n))
	w.diags = append(w.diags, diags...)
	if latex = strings.TrimSpace(latex); latex == "" || hasKind(diags, types.DiagNoMathRoot) {
		return nil
	}
	return []string{latex}
}

func (w *walker) convertOMML(markup string) []string {
	formulas, diags := omml.ConvertWithOptions(markup, w.opts)
	w.diags = append(w.diags, diags...)
	return formulas
}

func isMathElement(n *xhtml.Node) bool {
	if n.Type != xhtml.ElementNode {
		return false
	}
	if n.DataAtom == atom.Math {
		return true
	}
	name := strings.ToLower(n.Data)
	return name == "m:omath" || name == "m:omathpara" || name == texMath
}

// texMath is the element carrying raw TeX; the Markdown front end emits it.
const texMath = "tex-math"

func isTeXMath(n *xhtml.Node) bool {
	return n.Type == xhtml.ElementNode && strings.ToLower(n.Data) == texMath
}

func isDisplayMathML(n *xhtml.Node) bool {
	return mathml.IsDisplay(render(n))
}

func isDisplayMath(n *xhtml.Node) bool {
	switch n.Type {
	case xhtml.CommentNode:
		markup, ok := commentOMML(n.Data)
		return ok && isOMMLPara(markup)
	case xhtml.ElementNode:
		if n.DataAtom == atom.Math {
			return isDisplayMathML(n)
		}
		if isTeXMath(n) {
			return attr(n, "display") == "block"
		}
		return strings.ToLower(n.Data) == "m:omathpara"
	}
	return false
}

// imageOnly reports whether n is an image, or an element holding images and
// no visible text.
func imageOnly(n *xhtml.Node) bool {
	if n.Type != xhtml.ElementNode {
		return false
	}
	if n.DataAtom == atom.Img {
		return true
	}
	found := false
	var visit func(*xhtml.Node) bool
	visit = func(c *xhtml.Node) bool {
		switch {
		case c.Type == xhtml.TextNode && strings.TrimSpace(c.Data) != "":
			return false
		case c.Type == xhtml.ElementNode && c.DataAtom == atom.Img:
			found = true
		case isMathElement(c):
			return false
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			if !visit(k) {
				return false
			}
		}
		return true
	}
	return visit(n) && found
}

// commentOMML extracts OMML from a Word conditional comment such as
// <!--[if gte msEquation 12]><m:oMath>...</m:oMath><![endif]-->.
func commentOMML(data string) (string, bool) {
	if !strings.Contains(strings.ToLower(data), "<m:omath") {
		return "", false
	}
	markup := data
	if strings.HasPrefix(strings.TrimSpace(markup), "[if") {
		if i := strings.Index(markup, ">"); i >= 0 {
			markup = markup[i+1:]
		}
	}
	markup = strings.TrimSuffix(strings.TrimSpace(markup), "<![endif]")
	return markup, true
}

func isOMMLPara(markup string) bool {
	return strings.Contains(strings.ToLower(markup), "<m:omathpara")
}

func isCaption(n *xhtml.Node) bool {
	for _, class := range strings.Fields(attr(n, "class")) {
		switch strings.ToLower(class) {
		case "caption", "msocaption":
			return true
		}
	}
	return false
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func render(n *xhtml.Node) string {
	var buf bytes.Buffer
	_ = xhtml.Render(&buf, n)
	return buf.String()
}

// textContent concatenates the text below n.
func textContent(n *xhtml.Node) string {
	var b strings.Builder
	var visit func(*xhtml.Node)
	visit = func(c *xhtml.Node) {
		if c.Type == xhtml.TextNode {
			b.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			visit(k)
		}
	}
	visit(n)
	return b.String()
}

func textNode(s string) *xhtml.Node {
	return &xhtml.Node{Type: xhtml.TextNode, Data: s}
}

// collapse trims s and folds whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
