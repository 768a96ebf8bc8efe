package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"mathblocks/internal/logger"
	"mathblocks/internal/normalize"
	"mathblocks/internal/types"
)

// DefaultMaxIterations bounds the main scan loop.
const DefaultMaxIterations = 1000000

// Options controls TeX parsing.
type Options struct {
	// MaxIterations is the iteration ceiling; zero means DefaultMaxIterations.
	MaxIterations int
	// StructuralCommands turns \section, \caption, \includegraphics, math
	// environments and friends into their own blocks instead of
	// round-tripping them as text.
	StructuralCommands bool
}

// DefaultOptions returns options with the default ceiling and structural
// commands enabled.
func DefaultOptions() Options {
	return Options{MaxIterations: DefaultMaxIterations, StructuralCommands: true}
}

// Result is the outcome of one ParseTeX call.
type Result struct {
	Blocks      []types.Block
	Diagnostics []types.Diagnostic
	// Consumed is the cursor position, in runes of the parsed body, when the
	// scan stopped. It equals the body length unless Truncated is set.
	Consumed   int
	Truncated  bool
	Iterations int
}

// parserState names what the cursor is currently inside.
type parserState int

const (
	stateTopLevel parserState = iota
	stateEnvironment
	stateMathInline
	stateMathBlock
)

func (s parserState) String() string {
	switch s {
	case stateTopLevel:
		return "top level"
	case stateEnvironment:
		return "environment"
	case stateMathInline:
		return "inline math"
	case stateMathBlock:
		return "display math"
	}
	return "unknown"
}

// passThrough commands emit their argument unchanged.
var passThrough = map[string]bool{
	"Large": true, "large": true, "bf": true, "mbox": true,
}

// literalCommands are replaced by a literal glyph.
var literalCommands = map[string]string{
	"omega": "ω",
}

// headingCommands map sectioning commands to heading levels.
var headingCommands = map[string]int{
	"section": 1, "subsection": 2, "subsubsection": 3,
}

// mathEnvironments yield standalone formula blocks.
var mathEnvironments = map[string]bool{
	"equation": true, "equation*": true,
	"align": true, "align*": true,
	"gather": true, "gather*": true,
	"multline": true, "multline*": true,
	"displaymath": true, "eqnarray": true, "eqnarray*": true,
}

// visibleEnvironments have their interior parsed as ordinary text.
var visibleEnvironments = map[string]bool{
	"center": true, "flushleft": true, "flushright": true, "document": true,
}

// droppedEnvironments are skipped entirely.
var droppedEnvironments = map[string]bool{
	"picture": true, "comment": true,
}

var (
	labelOrTag = regexp.MustCompile(`\\(?:label|tag\*?)\s*\{([^{}]*)\}`)
	noNumber   = regexp.MustCompile(`\\(?:nonumber|notag)\b`)
)

// emitter collects the output shared by a parser and its sub-parsers.
type emitter struct {
	text       strings.Builder
	blocks     []types.Block
	diags      []types.Diagnostic
	iterations int
	max        int
	truncated  bool
	stopped    int // offset where the ceiling was hit
	opts       Options
}

// tick counts one scan step at offset at and reports whether the scan may
// continue.
func (e *emitter) tick(at int) bool {
	if e.truncated {
		return false
	}
	if e.iterations >= e.max {
		e.truncated = true
		e.stopped = at
		e.diagnose(types.DiagIterationCeiling, -1,
			fmt.Sprintf("stopped after %d iterations", e.max))
		return false
	}
	e.iterations++
	return true
}

// flush moves the running text into a Paragraph block.
func (e *emitter) flush() {
	content := strings.TrimSpace(e.text.String())
	e.text.Reset()
	if content != "" {
		e.blocks = append(e.blocks, types.NewBlock(types.KindParagraph, content))
	}
}

func (e *emitter) emit(b types.Block) {
	e.flush()
	e.blocks = append(e.blocks, b)
}

func (e *emitter) diagnose(kind string, offset int, msg string) {
	d := types.Diagnostic{Component: "tex", Kind: kind, Offset: offset, Message: msg}
	e.diags = append(e.diags, d)
	logger.Warn("TeX input degraded",
		logger.Component("tex"),
		logger.String("kind", kind),
		logger.Int("offset", offset),
		logger.String("reason", msg))
}

// texParser scans one rune buffer with a single cursor. Sub-parsers for
// environment interiors share the emitter and report offsets from base.
type texParser struct {
	src   []rune
	pos   int
	base  int
	state parserState
	env   string
	out   *emitter
}

// ParseTeX converts TeX source into blocks. Only the body between
// \begin{document} and \end{document} is parsed when both are present.
// Malformed input never fails; it degrades and is reported in Diagnostics.
func ParseTeX(src string, opts Options) Result {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	body := DocumentBody(src)

	out := &emitter{max: opts.MaxIterations, opts: opts}
	p := &texParser{src: []rune(body), out: out}
	p.run()
	out.flush()

	logger.Debug("parsed TeX body",
		logger.Component("tex"),
		logger.Int("runes", len(p.src)),
		logger.Int("blocks", len(out.blocks)),
		logger.Int("iterations", out.iterations),
		logger.Bool("truncated", out.truncated))

	consumed := p.pos
	if out.truncated {
		consumed = out.stopped
	}

	return Result{
		Blocks:      out.blocks,
		Diagnostics: out.diags,
		Consumed:    consumed,
		Truncated:   out.truncated,
		Iterations:  out.iterations,
	}
}

// DocumentBody returns the text between \begin{document} and
// \end{document}, or src itself when that region does not exist.
func DocumentBody(src string) string {
	const begin, end = `\begin{document}`, `\end{document}`
	i := strings.Index(src, begin)
	if i < 0 {
		return src
	}
	j := strings.Index(src[i+len(begin):], end)
	if j < 0 {
		return src
	}
	return src[i+len(begin) : i+len(begin)+j]
}

func (p *texParser) run() {
	for p.pos < len(p.src) {
		if !p.out.tick(p.offset()) {
			return
		}
		switch {
		case p.src[p.pos] == '\\':
			p.backslash()
		case p.hasPrefix("$$"):
			p.math("$$", "$$", stateMathBlock)
		case p.src[p.pos] == '$':
			p.math("$", "$", stateMathInline)
		default:
			p.out.text.WriteRune(p.src[p.pos])
			p.pos++
		}
	}
}

func (p *texParser) hasPrefix(s string) bool {
	return p.index(s, p.pos) == p.pos
}

// index finds s in the buffer at or after from, or returns -1.
func (p *texParser) index(s string, from int) int {
	pat := []rune(s)
	for i := from; i+len(pat) <= len(p.src); i++ {
		match := true
		for k, r := range pat {
			if p.src[i+k] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// indexUnescaped is index that skips occurrences preceded by a backslash.
func (p *texParser) indexUnescaped(s string, from int) int {
	for {
		i := p.index(s, from)
		if i <= 0 || p.src[i-1] != '\\' {
			return i
		}
		from = i + 1
	}
}

func (p *texParser) offset() int {
	return p.base + p.pos
}

// where describes the cursor context for diagnostics.
func (p *texParser) where() string {
	if p.state == stateEnvironment {
		return "in " + p.env
	}
	return "at " + p.state.String()
}

// backslash handles a command, an escape or a math opener at the cursor.
func (p *texParser) backslash() {
	start := p.pos
	if start+1 >= len(p.src) {
		p.out.text.WriteRune('\\')
		p.pos++
		return
	}

	next := p.src[start+1]
	if !isASCIILetter(next) {
		switch next {
		case '[':
			p.math(`\[`, `\]`, stateMathBlock)
		case '(':
			p.math(`\(`, `\)`, stateMathInline)
		default:
			// escaped character, copied verbatim
			p.out.text.WriteRune('\\')
			p.out.text.WriteRune(next)
			p.pos += 2
		}
		return
	}

	p.pos++
	name := p.readName()

	switch {
	case name == "begin":
		p.environment(start)
	case name == "end":
		p.strayEnd(start)
	case passThrough[name]:
		if p.peek() == '{' {
			arg, _ := p.readGroup()
			p.out.text.WriteString(arg)
		}
	case literalCommands[name] != "":
		p.out.text.WriteString(literalCommands[name])
	case p.out.opts.StructuralCommands && p.structural(name):
	default:
		p.out.text.WriteString(`\` + name)
		if p.peek() == '{' {
			arg, _ := p.readGroup()
			p.out.text.WriteString("{" + arg + "}")
		}
	}
}

func (p *texParser) peek() rune {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *texParser) readName() string {
	start := p.pos
	for p.pos < len(p.src) && isASCIILetter(p.src[p.pos]) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

// readGroup reads the balanced {...} argument at the cursor. When input
// ends first an unterminated diagnostic is recorded and the partial content
// is returned with ok false.
func (p *texParser) readGroup() (content string, ok bool) {
	open := p.offset()
	p.pos++ // '{'
	start := p.pos
	depth := 1
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				content = string(p.src[start:p.pos])
				p.pos++
				return content, true
			}
		}
		p.pos++
	}
	if p.pos > len(p.src) {
		p.pos = len(p.src)
	}
	p.out.diagnose(types.DiagUnterminated, open, "argument brace never closed "+p.where())
	return string(p.src[start:p.pos]), false
}

// skipOptional skips whitespace and one [...] optional argument.
func (p *texParser) skipOptional() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
	if p.peek() != '[' {
		return
	}
	if end := p.index("]", p.pos); end >= 0 {
		p.pos = end + 1
	}
}

// structural emits heading, caption and image blocks. It reports false for
// commands it does not own.
func (p *texParser) structural(name string) bool {
	level, heading := headingCommands[name]
	if !heading && name != "caption" && name != "includegraphics" {
		return false
	}
	if heading && p.peek() == '*' {
		p.pos++
	}
	p.skipOptional()
	if p.peek() != '{' {
		// no argument: fall back to text
		p.out.text.WriteString(`\` + name)
		return true
	}
	arg, _ := p.readGroup()
	arg = strings.TrimSpace(arg)

	switch {
	case heading:
		p.out.emit(types.NewBlock(types.HeadingKind(level), arg))
	case name == "caption":
		p.out.emit(types.NewBlock(types.KindCaption, arg))
	default:
		p.out.emit(types.NewBlock(types.KindImage, arg))
	}
	return true
}

// environment handles \begin{name} with the cursor after "\begin". The
// matching \end{name} is found by literal search, so nesting of the same
// environment is not tracked.
func (p *texParser) environment(start int) {
	if p.peek() != '{' {
		p.out.text.WriteString(`\begin`)
		return
	}
	name, ok := p.readGroup()
	if !ok {
		p.out.text.WriteString(`\begin{` + name)
		return
	}
	name = strings.TrimSpace(name)

	endTag := `\end{` + name + `}`
	end := p.index(endTag, p.pos)
	if end < 0 {
		p.out.diagnose(types.DiagUnmatchedEnvironment, p.base+start,
			fmt.Sprintf("no \\end{%s} for \\begin{%s} %s", name, name, p.where()))
		p.out.text.WriteString(`\begin{` + name + `}`)
		return
	}

	interiorStart := p.pos
	interior := string(p.src[interiorStart:end])
	p.pos = end + len([]rune(endTag))

	switch {
	case mathEnvironments[name] && p.out.opts.StructuralCommands:
		content, ref := extractReference(interior)
		f := types.NewFormula(normalize.LaTeX(content), false)
		f.Reference = ref
		p.out.emit(f)
	case droppedEnvironments[name]:
		p.out.flush()
	case visibleEnvironments[name]:
		p.out.flush()
		sub := &texParser{
			src:   []rune(interior),
			base:  p.base + interiorStart,
			state: stateEnvironment,
			env:   name,
			out:   p.out,
		}
		sub.run()
		p.out.flush()
	default:
		p.out.flush()
		p.out.text.WriteString(`\begin{` + name + `}` + interior + endTag)
		p.out.flush()
	}
}

// strayEnd copies an \end{name} with no open environment as text.
func (p *texParser) strayEnd(start int) {
	if p.peek() != '{' {
		p.out.text.WriteString(`\end`)
		return
	}
	name, _ := p.readGroup()
	p.out.diagnose(types.DiagUnmatchedEnvironment, p.base+start,
		fmt.Sprintf("\\end{%s} without \\begin", name))
	p.out.text.WriteString(`\end{` + name + `}`)
}

// math reads a formula between open and close. Display formulas become
// their own block; inline formulas are spliced into the running text as
// $latex$. An unclosed opener is kept as literal text.
// state is stateMathBlock or stateMathInline.
func (p *texParser) math(opener, closer string, state parserState) {
	start := p.pos
	from := start + len([]rune(opener))
	var end int
	if opener == "$" || opener == "$$" {
		end = p.indexUnescaped(closer, from)
	} else {
		end = p.index(closer, from)
	}
	if end < 0 {
		p.out.diagnose(types.DiagUnterminated, p.base+start,
			fmt.Sprintf("%s opened with %q %s is never closed", state, opener, p.where()))
		p.out.text.WriteString(opener)
		p.pos = from
		return
	}

	latex := normalize.LaTeX(string(p.src[from:end]))
	p.pos = end + len([]rune(closer))

	if latex == "" {
		return
	}
	if state == stateMathBlock {
		p.out.emit(types.NewFormula(latex, false))
		return
	}
	p.out.text.WriteString("$" + latex + "$")
}

// extractReference removes \label, \tag, \nonumber and \notag from a math
// environment body and returns the first label or tag value.
func extractReference(body string) (string, string) {
	ref := ""
	if m := labelOrTag.FindStringSubmatch(body); m != nil {
		ref = strings.TrimSpace(m[1])
	}
	body = labelOrTag.ReplaceAllString(body, "")
	body = noNumber.ReplaceAllString(body, "")
	return body, ref
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
