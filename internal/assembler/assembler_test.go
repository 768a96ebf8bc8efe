package assembler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"

	"mathblocks/internal/pdf"
	"mathblocks/internal/types"
)

type shape struct {
	Kind    types.BlockKind
	Content string
	Inline  bool
}

func shapes(blocks []types.Block) []shape {
	out := make([]shape, len(blocks))
	for i, b := range blocks {
		out[i] = shape{b.Kind, b.Content, b.Inline}
	}
	return out
}

func run(text string) string { return `<m:r><m:t>` + text + `</m:t></m:r>` }

var fraction = `<m:f><m:num>` + run("a") + `</m:num><m:den>` + run("b") + `</m:den></m:f>`

func assemble(t *testing.T, format types.SourceFormat, data string) *Document {
	t.Helper()
	doc, err := New(nil).Assemble(context.Background(), Source{Format: format, Name: "test", Data: []byte(data)})
	require.NoError(t, err)
	return doc
}

func TestAssembleHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []shape
	}{
		{
			name:  "headings and paragraphs",
			input: `<html><head><title>x</title></head><body><h1>Intro</h1><h2>Part <b>one</b></h2><h5>Deep</h5><p>Hello <em>world</em></p></body></html>`,
			want: []shape{
				{types.KindHeading1, "Intro", false},
				{types.KindHeading2, "Part one", false},
				{types.KindHeading3, "Deep", false},
				{types.KindParagraph, "Hello <em>world</em>", false},
			},
		},
		{
			name:  "inline mathml in a paragraph",
			input: `<p>Area <math><msub><mi>x</mi><mn>1</mn></msub></math> here</p>`,
			want:  []shape{{types.KindParagraph, "Area $x_{1}$ here", false}},
		},
		{
			name:  "display mathml splits the paragraph",
			input: `<p>Before<math display="block"><mi>y</mi></math>after</p>`,
			want: []shape{
				{types.KindParagraph, "Before", false},
				{types.KindFormula, "y", false},
				{types.KindParagraph, "after", false},
			},
		},
		{
			name:  "math in a heading",
			input: `<h2>Section <math><mi>α</mi></math></h2>`,
			want:  []shape{{types.KindHeading2, `Section $\alpha$`, false}},
		},
		{
			name:  "images and captions",
			input: `<img src="a.png"><p><img src="b.png"></p><figure><img src="c.png"><figcaption>Fig</figcaption></figure><p class="MsoCaption">Figure 1</p>`,
			want: []shape{
				{types.KindImage, "a.png", false},
				{types.KindImage, "b.png", false},
				{types.KindImage, "c.png", false},
				{types.KindCaption, "Fig", false},
				{types.KindCaption, "Figure 1", false},
			},
		},
		{
			name:  "lists and tables become text",
			input: `<ul><li>one</li><li>two</li></ul><table><tr><td>a</td><td>b</td></tr></table>`,
			want: []shape{
				{types.KindParagraph, "one two", false},
				{types.KindParagraph, "a b", false},
			},
		},
		{
			name:  "scripts and styles are skipped",
			input: `<script>var x = 1;</script><style>p {}</style><p>kept</p>`,
			want:  []shape{{types.KindParagraph, "kept", false}},
		},
		{
			name:  "loose text with inline math",
			input: `<div>Loose <math><mi>z</mi></math> text</div>`,
			want:  []shape{{types.KindParagraph, "Loose $z$ text", false}},
		},
		{
			name:  "word inline equation with fallback image",
			input: `<p class=MsoNormal>Let <!--[if gte msEquation 12]><m:oMath><m:sSup><m:e>` + run("x") + `</m:e><m:sup>` + run("2") + `</m:sup></m:sSup></m:oMath><![endif]--><![if !msEquation]><img src="fallback.png"><![endif]> hold.</p>`,
			want:  []shape{{types.KindParagraph, "Let $x^{2}$ hold.", false}},
		},
		{
			name:  "word display equation",
			input: `<p class=MsoNormal><!--[if gte msEquation 12]><m:oMathPara><m:oMath>` + fraction + `</m:oMath></m:oMathPara><![endif]--></p>`,
			want:  []shape{{types.KindFormula, `\frac{a}{b}`, false}},
		},
		{
			name:  "omml element outside a paragraph",
			input: `<div><m:oMathPara><m:oMath>` + fraction + `</m:oMath></m:oMathPara></div>`,
			want:  []shape{{types.KindFormula, `\frac{a}{b}`, false}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := assemble(t, types.FormatHTML, tt.input)
			assert.Equal(t, tt.want, shapes(doc.Blocks))
		})
	}
}

func TestAssembleTeX(t *testing.T) {
	doc := assemble(t, types.FormatTeX, "\\section{Intro}\nText $a$ here. % note\n$$b$$\n")
	assert.Equal(t, []shape{
		{types.KindHeading1, "Intro", false},
		{types.KindParagraph, "Text $a$ here.", false},
		{types.KindFormula, "b", false},
	}, shapes(doc.Blocks))
	assert.Empty(t, doc.Diagnostics)
	assert.Equal(t, types.FormatTeX, doc.Format)
}

func TestAssembleTeXDiagnostics(t *testing.T) {
	doc := assemble(t, types.FormatTeX, `\begin{proof} open`)
	require.Len(t, doc.Diagnostics, 1)
	assert.Equal(t, types.DiagUnmatchedEnvironment, doc.Diagnostics[0].Kind)
	assert.Len(t, doc.Blocks, 1)
}

func TestAssembleStandaloneMath(t *testing.T) {
	doc := assemble(t, types.FormatOMML, `<m:oMathPara><m:oMath>`+fraction+`</m:oMath></m:oMathPara>`)
	assert.Equal(t, []shape{{types.KindFormula, `\frac{a}{b}`, false}}, shapes(doc.Blocks))

	doc = assemble(t, types.FormatMathML, `<math><msub><mi>x</mi><mn>1</mn></msub></math>`)
	assert.Equal(t, []shape{{types.KindFormula, `x_{1}`, false}}, shapes(doc.Blocks))

	doc = assemble(t, types.FormatMathML, `<div>no math</div>`)
	assert.Empty(t, doc.Blocks)
	require.Len(t, doc.Diagnostics, 1)
	assert.Equal(t, types.DiagNoMathRoot, doc.Diagnostics[0].Kind)
}

func TestAssembleMarkdown(t *testing.T) {
	doc := assemble(t, types.FormatMD, "# Title\n\nSome *bold* text.\n")
	assert.Equal(t, []shape{
		{types.KindHeading1, "Title", false},
		{types.KindParagraph, "Some <em>bold</em> text.", false},
	}, shapes(doc.Blocks))
}

func TestAssembleMarkdownMath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []shape
	}{
		{
			name:  "inline mid-line",
			input: "x $a^2$ y\n",
			want:  []shape{{types.KindParagraph, "x $a^2$ y", false}},
		},
		{
			name:  "display mid-line splits the paragraph",
			input: "before $$x+y$$ after\n",
			want: []shape{
				{types.KindParagraph, "before", false},
				{types.KindFormula, "x+y", false},
				{types.KindParagraph, "after", false},
			},
		},
		{
			name:  "mixed inline and display",
			input: "x $a^2+\\frac{b}{c}$ y\n\n$$\\sum_{i=1}^n i$$\n",
			want: []shape{
				{types.KindParagraph, `x $a^2+\frac{b}{c}$ y`, false},
				{types.KindFormula, `\sum_{i=1}^n i`, false},
			},
		},
		{
			name:  "display over several lines",
			input: "Energy $x^2$ here.\n\n$$\ny+1\n$$\n",
			want: []shape{
				{types.KindParagraph, "Energy $x^2$ here.", false},
				{types.KindFormula, "y+1", false},
			},
		},
		{
			name:  "backslash delimiters",
			input: "Use \\(a+b\\) and\n\n\\[c\\]\n",
			want: []shape{
				{types.KindParagraph, "Use $a+b$ and", false},
				{types.KindFormula, "c", false},
			},
		},
		{
			name:  "math inside emphasis",
			input: "*$x$* holds\n",
			want:  []shape{{types.KindParagraph, "<em>$x$</em> holds", false}},
		},
		{
			name:  "code is left alone",
			input: "Price `$5$` and $6\n\n```\n$x$\n```\n",
			want: []shape{
				{types.KindParagraph, "Price <code>$5$</code> and $6", false},
				{types.KindParagraph, "$x$", false},
			},
		},
		{
			name:  "escaped and unterminated dollars",
			input: "costs \\$5, or $7 at most\n",
			want:  []shape{{types.KindParagraph, "costs $5, or $7 at most", false}},
		},
		{
			name:  "pipes inside math in a table",
			input: "| a | b |\n|---|---|\n| $x|y$ | 2 |\n",
			want:  []shape{{types.KindParagraph, "a b $x|y$ 2", false}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := assemble(t, types.FormatMD, tt.input)
			assert.Equal(t, tt.want, shapes(doc.Blocks))
			assert.Empty(t, doc.Diagnostics)
		})
	}
}

func TestAssembleMarkdownIsStateless(t *testing.T) {
	a := New(nil)
	ingest := func(src string) []shape {
		doc, err := a.Assemble(context.Background(), Source{Format: types.FormatMD, Data: []byte(src)})
		require.NoError(t, err)
		return shapes(doc.Blocks)
	}

	want := []shape{{types.KindFormula, `\foo + 1`, false}}
	assert.Equal(t, want, ingest(`$$\foo + 1$$`))
	ingest(`$$\newcommand{\foo}{zzz}$$`)
	assert.Equal(t, want, ingest(`$$\foo + 1$$`))

	var wg sync.WaitGroup
	results := make([][]shape, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := a.Assemble(context.Background(), Source{Format: types.FormatMD, Data: []byte("$$\\sum_{i=1}^n i$$")})
			if err == nil {
				results[i] = shapes(doc.Blocks)
			}
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, []shape{{types.KindFormula, `\sum_{i=1}^n i`, false}}, got)
	}
}

type panicRenderer struct{}

func (panicRenderer) Render(w io.Writer, source []byte, n ast.Node) error { panic("renderer bug") }
func (panicRenderer) AddOptions(...renderer.Option)                       {}

func TestRenderMarkdownRecovers(t *testing.T) {
	var buf bytes.Buffer
	err := renderMarkdown(goldmark.New(goldmark.WithRenderer(panicRenderer{})), []byte("# x"), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer bug")

	require.NoError(t, renderMarkdown(newMarkdown(), []byte("# x"), &buf))
	assert.Contains(t, buf.String(), "<h1>x</h1>")
}

func TestExtractMath(t *testing.T) {
	ph := func(n string) string { return placeholderOpen + n + placeholderClose }
	tests := []struct {
		in    string
		text  string
		spans []texSpan
	}{
		{"a $x$ b", "a " + ph("0") + " b", []texSpan{{"x", "$x$", false}}},
		{"$5 and $6", "$5 and $6", nil},
		{"$x $ y", "$x $ y", nil},
		{"$a\n\nb$", "$a\n\nb$", nil},
		{"\\$x$", "\\$x$", nil},
		{"`$x$`", "`$x$`", nil},
		{"$$\na\n$$", ph("0"), []texSpan{{"\na\n", "$$\na\n$$", true}}},
		{"$$ $$", "$$ $$", nil},
		{"\\[a\\] \\(b\\)", ph("0") + " " + ph("1"), []texSpan{{"a", `\[a\]`, true}, {"b", `\(b\)`, false}}},
		{"~~~\n$x$\n~~~\n$y$", "~~~\n$x$\n~~~\n" + ph("0"), []texSpan{{"y", "$y$", false}}},
	}
	for _, tt := range tests {
		text, spans := extractMath(tt.in)
		assert.Equal(t, tt.text, text, tt.in)
		assert.Equal(t, tt.spans, spans, tt.in)
	}
}

func TestRestoreMathKeepsSourceInCodeAndAttributes(t *testing.T) {
	spans := []texSpan{{"x", "$x$", false}}
	ph := placeholderOpen + "0" + placeholderClose

	assert.Equal(t, `<p><tex-math>x</tex-math></p>`, restoreMath("<p>"+ph+"</p>", spans))
	assert.Equal(t, `<pre><code>$x$</code></pre>`, restoreMath("<pre><code>"+ph+"</code></pre>", spans))
	assert.Equal(t, `<a title="$x$">t</a>`, restoreMath(`<a title="`+ph+`">t</a>`, spans))
}

func TestAssembleDOCX(t *testing.T) {
	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:m="http://schemas.openxmlformats.org/officeDocument/2006/math" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Title"/></w:pPr><w:r><w:t>Paper</w:t></w:r></w:p>
<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Method</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Let </w:t></w:r><m:oMath><m:sSup><m:e>` + run("x") + `</m:e><m:sup>` + run("2") + `</m:sup></m:sSup></m:oMath><w:r><w:t xml:space="preserve"> be given.</w:t></w:r></w:p>
<w:p><m:oMathPara><m:oMath>` + fraction + `</m:oMath></m:oMathPara></w:p>
<w:p><w:r><w:drawing><a:blip r:embed="rId5"/></w:drawing></w:r></w:p>
<w:p><w:pPr><w:pStyle w:val="Caption"/></w:pPr><w:r><w:t>Figure 1</w:t></w:r></w:p>
</w:body>
</w:document>`
	rels := `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId5" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image1.png"/>
</Relationships>`

	data := buildZip(t, map[string]string{
		"word/document.xml":            document,
		"word/_rels/document.xml.rels": rels,
		"word/media/image1.png":        "PNGDATA",
	})
	doc := assemble(t, types.FormatDOCX, string(data))

	assert.Equal(t, []shape{
		{types.KindHeading1, "Paper", false},
		{types.KindHeading2, "Method", false},
		{types.KindParagraph, "Let $x^{2}$ be given.", false},
		{types.KindFormula, `\frac{a}{b}`, false},
		{types.KindImage, "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("PNGDATA")), false},
		{types.KindCaption, "Figure 1", false},
	}, shapes(doc.Blocks))
	assert.Empty(t, doc.Diagnostics)
}

func TestAssembleDOCXWithoutDocument(t *testing.T) {
	data := buildZip(t, map[string]string{"other.xml": "<x/>"})
	_, err := New(nil).Assemble(context.Background(), Source{Format: types.FormatDOCX, Data: data})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrExtract, appErr.Code)
}

func TestAssembleErrors(t *testing.T) {
	a := New(nil)

	_, err := a.Assemble(context.Background(), Source{Format: "rtf", Data: []byte("x")})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrUnsupportedFormat, appErr.Code)

	_, err = a.Assemble(context.Background(), Source{Format: types.FormatPDF, Data: []byte("%PDF-1.4 garbage")})
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrExtract, appErr.Code)
	var pdfErr *pdf.PDFError
	assert.True(t, errors.As(err, &pdfErr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Assemble(ctx, Source{Format: types.FormatTeX, Data: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembleSniffsFormat(t *testing.T) {
	doc, err := New(nil).Assemble(context.Background(), Source{Data: []byte(`<math><mi>y</mi></math>`)})
	require.NoError(t, err)
	assert.Equal(t, types.FormatMathML, doc.Format)
	assert.Equal(t, []shape{{types.KindFormula, "y", false}}, shapes(doc.Blocks))
}

func TestAssembleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paper.tex")
	require.NoError(t, os.WriteFile(path, []byte("hello $x$"), 0644))

	a := New(nil)
	doc, err := a.AssembleFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "paper.tex", doc.Name)
	assert.Equal(t, []shape{{types.KindParagraph, "hello $x$", false}}, shapes(doc.Blocks))

	_, err = a.AssembleFile(context.Background(), filepath.Join(dir, "missing.tex"))
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrFileNotFound, appErr.Code)

	_, err = a.AssembleFile(context.Background(), filepath.Join(dir, "notes.rtf"))
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrUnsupportedFormat, appErr.Code)
}

func TestAssembleFilePDF(t *testing.T) {
	dir := t.TempDir()
	a := New(nil)

	_, err := a.AssembleFile(context.Background(), filepath.Join(dir, "missing.pdf"))
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrFileNotFound, appErr.Code)

	garbage := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(garbage, []byte("%PDF-1.4 garbage"), 0644))
	_, err = a.AssembleFile(context.Background(), garbage)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrExtract, appErr.Code)
	var pdfErr *pdf.PDFError
	require.True(t, errors.As(err, &pdfErr))
	assert.Equal(t, pdf.ErrPDFInvalid, pdfErr.Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.AssembleFile(ctx, garbage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyDocumentHasEmptySlices(t *testing.T) {
	doc := assemble(t, types.FormatHTML, "")
	assert.NotNil(t, doc.Blocks)
	assert.NotNil(t, doc.Diagnostics)
	assert.Empty(t, doc.Blocks)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
