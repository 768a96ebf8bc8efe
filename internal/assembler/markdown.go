package assembler

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"mathblocks/internal/logger"
	"mathblocks/internal/types"
)

// Math spans are swapped for private-use placeholders before goldmark runs,
// so emphasis, escapes and table pipes never see TeX.
const (
	placeholderOpen  = "\uE000"
	placeholderClose = "\uE001"
)

// texSpan is one math span cut out of the Markdown source.
type texSpan struct {
	tex     string
	source  string // the span as written, delimiters included
	display bool
}

// newMarkdown builds a renderer per document.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			extension.Strikethrough,
		),
	)
}

// markdown renders the source to HTML and walks the result. A renderer
// failure degrades to a diagnostic.
func (a *Assembler) markdown(src []byte) ([]types.Block, []types.Diagnostic, error) {
	text, spans := extractMath(string(src))

	var buf bytes.Buffer
	if err := renderMarkdown(newMarkdown(), []byte(text), &buf); err != nil {
		d := types.Diagnostic{
			Component: "markdown",
			Kind:      types.DiagConversionFailed,
			Offset:    -1,
			Message:   err.Error(),
		}
		logger.Warn("Markdown conversion failed", logger.Component("markdown"), logger.String("kind", d.Kind), logger.Err(err))
		return nil, []types.Diagnostic{d}, nil
	}

	blocks, diags := a.walkHTML(restoreMath(buf.String(), spans))
	return blocks, diags, nil
}

func renderMarkdown(md goldmark.Markdown, src []byte, w io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("markdown renderer panicked: %v", r)
		}
	}()
	return md.Convert(src, w)
}

// extractMath replaces $...$, $$...$$, \(...\) and \[...\] with placeholders.
// Fenced code blocks, code spans and backslash escapes are copied unchanged,
// as are delimiters that never close.
func extractMath(src string) (string, []texSpan) {
	var (
		b     strings.Builder
		spans []texSpan
		fence string
	)
	add := func(tex, source string, display bool) {
		b.WriteString(placeholderOpen + strconv.Itoa(len(spans)) + placeholderClose)
		spans = append(spans, texSpan{tex: tex, source: source, display: display})
	}

	for i := 0; i < len(src); {
		if i == 0 || src[i-1] == '\n' {
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src)
			} else {
				end += i + 1
			}
			line := src[i:end]
			trimmed := strings.TrimLeft(line, " ")
			if fence != "" {
				if closesFence(trimmed, fence) {
					fence = ""
				}
				b.WriteString(line)
				i = end
				continue
			}
			if f := openingFence(trimmed); f != "" && len(line)-len(trimmed) < 4 {
				fence = f
				b.WriteString(line)
				i = end
				continue
			}
		}

		switch c := src[i]; {
		case c == '\\' && i+1 < len(src):
			if src[i+1] == '(' || src[i+1] == '[' {
				closer, display := `\)`, false
				if src[i+1] == '[' {
					closer, display = `\]`, true
				}
				if end := strings.Index(src[i+2:], closer); end >= 0 {
					stop := i + 2 + end + len(closer)
					add(src[i+2:i+2+end], src[i:stop], display)
					i = stop
					continue
				}
			}
			b.WriteString(src[i : i+2])
			i += 2
		case c == '`':
			n := runLength(src, i, '`')
			if end := closingTicks(src, i+n, n); end >= 0 {
				b.WriteString(src[i:end])
				i = end
				continue
			}
			b.WriteString(src[i : i+n])
			i += n
		case strings.HasPrefix(src[i:], "$$"):
			if end := strings.Index(src[i+2:], "$$"); end >= 0 && strings.TrimSpace(src[i+2:i+2+end]) != "" {
				stop := i + 2 + end + 2
				add(src[i+2:i+2+end], src[i:stop], true)
				i = stop
				continue
			}
			b.WriteString("$$")
			i += 2
		case c == '$':
			if end := closingDollar(src, i); end > 0 {
				add(src[i+1:end], src[i:end+1], false)
				i = end + 1
				continue
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), spans
}

// closingDollar finds the $ closing an inline span opened at i. The opener
// must be followed by a non-space, the closer preceded by a non-space and not
// followed by a digit, and the span may not cross a blank line.
func closingDollar(src string, i int) int {
	if i+1 >= len(src) || isSpaceByte(src[i+1]) || src[i+1] == '$' {
		return -1
	}
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case '\n':
			if rest := strings.TrimLeft(src[j+1:], " \t"); rest == "" || rest[0] == '\n' {
				return -1
			}
		case '$':
			if isSpaceByte(src[j-1]) {
				continue
			}
			if j+1 < len(src) && src[j+1] >= '0' && src[j+1] <= '9' {
				continue
			}
			return j
		}
	}
	return -1
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func runLength(s string, i int, c byte) int {
	n := 0
	for i+n < len(s) && s[i+n] == c {
		n++
	}
	return n
}

// closingTicks returns the index just past a backtick run of exactly n
// starting at or after from, or -1.
func closingTicks(s string, from, n int) int {
	for j := from; j < len(s); {
		if s[j] != '`' {
			j++
			continue
		}
		k := runLength(s, j, '`')
		if k == n {
			return j + k
		}
		j += k
	}
	return -1
}

func openingFence(line string) string {
	for _, c := range []byte{'`', '~'} {
		if n := runLength(line, 0, c); n >= 3 {
			return line[:n]
		}
	}
	return ""
}

func closesFence(line, fence string) bool {
	n := runLength(line, 0, fence[0])
	return n >= len(fence) && strings.TrimSpace(line[n:]) == ""
}

// restoreMath turns placeholders in rendered HTML into <tex-math> elements.
// Inside tags and code the original source text is put back instead.
func restoreMath(out string, spans []texSpan) string {
	var (
		b     strings.Builder
		inTag bool
		code  int
	)
	for i := 0; i < len(out); {
		switch out[i] {
		case '<':
			inTag = true
			switch name := strings.ToLower(tagName(out[i+1:])); name {
			case "code", "pre":
				code++
			case "/code", "/pre":
				if code > 0 {
					code--
				}
			}
		case '>':
			inTag = false
		}

		if strings.HasPrefix(out[i:], placeholderOpen) {
			rest := out[i+len(placeholderOpen):]
			if end := strings.Index(rest, placeholderClose); end > 0 {
				if n, err := strconv.Atoi(rest[:end]); err == nil && n < len(spans) {
					span := spans[n]
					switch {
					case inTag || code > 0:
						b.WriteString(html.EscapeString(span.source))
					case span.display:
						b.WriteString(`<tex-math display="block">` + html.EscapeString(span.tex) + `</tex-math>`)
					default:
						b.WriteString(`<tex-math>` + html.EscapeString(span.tex) + `</tex-math>`)
					}
					i += len(placeholderOpen) + end + len(placeholderClose)
					continue
				}
			}
		}
		b.WriteByte(out[i])
		i++
	}
	return b.String()
}

func tagName(s string) string {
	end := strings.IndexAny(s, " \t\n>/")
	if end == 0 && strings.HasPrefix(s, "/") {
		if e := strings.IndexAny(s[1:], " \t\n>"); e >= 0 {
			return s[:e+1]
		}
		return s
	}
	if end < 0 {
		return s
	}
	return s[:end]
}
