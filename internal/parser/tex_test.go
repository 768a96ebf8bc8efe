package parser

import (
	"math/rand"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathblocks/internal/types"
)

func quickConfig() *quick.Config {
	return &quick.Config{
		MaxCount: 300,
		Rand:     rand.New(rand.NewSource(42)),
	}
}

// shape is the comparable part of a block.
type shape struct {
	Kind      types.BlockKind
	Content   string
	Inline    bool
	Reference string
}

func shapes(blocks []types.Block) []shape {
	out := make([]shape, len(blocks))
	for i, b := range blocks {
		out[i] = shape{b.Kind, b.Content, b.Inline, b.Reference}
	}
	return out
}

func para(s string) shape { return shape{Kind: types.KindParagraph, Content: s} }

func TestParseTeX(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []shape
	}{
		{
			name:  "plain text",
			input: "  hello world\nsecond line  ",
			want:  []shape{para("hello world\nsecond line")},
		},
		{
			name:  "inline formula stays in text",
			input: "abc $x^2$ def",
			want:  []shape{para("abc $x^2$ def")},
		},
		{
			name:  "display formula splits paragraphs",
			input: "before $$x+y$$ after",
			want: []shape{
				para("before"),
				{Kind: types.KindFormula, Content: "x+y"},
				para("after"),
			},
		},
		{
			name:  "bracket display and paren inline",
			input: `see \(a_1\) and \[ b \]`,
			want: []shape{
				para("see $a_1$ and"),
				{Kind: types.KindFormula, Content: "b"},
			},
		},
		{
			name:  "inline formula is normalized",
			input: `$\left{ x \right}$`,
			want:  []shape{para(`$\left\{ x \right\}$`)},
		},
		{
			name:  "equation with label",
			input: "\\begin{equation}\nE = mc^2 \\label{eq:energy}\n\\end{equation}",
			want:  []shape{{Kind: types.KindFormula, Content: "E = mc^2", Reference: "eq:energy"}},
		},
		{
			name:  "align with tag and nonumber",
			input: `\begin{align*}a &= b \nonumber \\ c &= d \tag{3}\end{align*}`,
			want:  []shape{{Kind: types.KindFormula, Content: `a &= b \\ c &= d`, Reference: "3"}},
		},
		{
			name:  "center is visible text",
			input: `a\begin{center}b $c$\end{center}d`,
			want:  []shape{para("a"), para("b $c$"), para("d")},
		},
		{
			name:  "picture is dropped",
			input: `a\begin{picture}(10,10)\put(0,0){x}\end{picture}b`,
			want:  []shape{para("a"), para("b")},
		},
		{
			name:  "unknown environment round trips",
			input: `\begin{itemize}\item one\end{itemize}`,
			want:  []shape{para(`\begin{itemize}\item one\end{itemize}`)},
		},
		{
			name:  "pass through commands",
			input: `\Large{Title} and \bf{bold} \mbox{box}`,
			want:  []shape{para("Title and bold box")},
		},
		{
			name:  "omega becomes a glyph",
			input: `frequency \omega`,
			want:  []shape{para("frequency ω")},
		},
		{
			name:  "other commands round trip",
			input: `an \emph{important} \cite{x} point`,
			want:  []shape{para(`an \emph{important} \cite{x} point`)},
		},
		{
			name:  "escapes never open math",
			input: `costs \$5, 10\% off, \{set\} \\ next`,
			want:  []shape{para(`costs \$5, 10\% off, \{set\} \\ next`)},
		},
		{
			name:  "structural commands",
			input: `\section{Intro}text\subsection*{Part}\caption{A figure}\includegraphics[width=2in]{fig.png}`,
			want: []shape{
				{Kind: types.KindHeading1, Content: "Intro"},
				para("text"),
				{Kind: types.KindHeading2, Content: "Part"},
				{Kind: types.KindCaption, Content: "A figure"},
				{Kind: types.KindImage, Content: "fig.png"},
			},
		},
		{
			name:  "document region only",
			input: "\\documentclass{article}\n\\usepackage{amsmath}\n\\begin{document}\nHello\n\\end{document}\ntrailing",
			want:  []shape{para("Hello")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseTeX(tt.input, DefaultOptions())
			assert.Equal(t, tt.want, shapes(res.Blocks))
			assert.Empty(t, res.Diagnostics)
			assert.False(t, res.Truncated)
			assert.Equal(t, len([]rune(DocumentBody(tt.input))), res.Consumed)
		})
	}
}

func TestParseTeXStructuralCommandsDisabled(t *testing.T) {
	input := `\section{Intro}text\subsection*{Part}\includegraphics[width=2in]{fig.png}`
	res := ParseTeX(input, Options{StructuralCommands: false})
	assert.Equal(t, []shape{para(input)}, shapes(res.Blocks))

	env := `\begin{equation}x \label{e1}\end{equation}`
	res = ParseTeX("a "+env+" b", Options{StructuralCommands: false})
	assert.Equal(t, []shape{para("a"), para(env), para("b")}, shapes(res.Blocks))
	assert.Empty(t, res.Diagnostics)

	res = ParseTeX("a "+env+" b", DefaultOptions())
	require.Len(t, res.Blocks, 3)
	assert.Equal(t, types.KindFormula, res.Blocks[1].Kind)
	assert.Equal(t, "e1", res.Blocks[1].Reference)
}

func TestParseTeXDegradation(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   []shape
		kind   string
		offset int
	}{
		{
			name:   "unterminated argument keeps partial content",
			input:  `\emph{abc`,
			want:   []shape{para(`\emph{abc}`)},
			kind:   types.DiagUnterminated,
			offset: 5,
		},
		{
			name:   "unterminated inline math",
			input:  "price $5",
			want:   []shape{para("price $5")},
			kind:   types.DiagUnterminated,
			offset: 6,
		},
		{
			name:   "unmatched begin becomes text",
			input:  `\begin{proof} done`,
			want:   []shape{para(`\begin{proof} done`)},
			kind:   types.DiagUnmatchedEnvironment,
			offset: 0,
		},
		{
			name:   "stray end becomes text",
			input:  `x\end{proof}`,
			want:   []shape{para(`x\end{proof}`)},
			kind:   types.DiagUnmatchedEnvironment,
			offset: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseTeX(tt.input, DefaultOptions())
			assert.Equal(t, tt.want, shapes(res.Blocks))
			require.Len(t, res.Diagnostics, 1)
			assert.Equal(t, tt.kind, res.Diagnostics[0].Kind)
			assert.Equal(t, "tex", res.Diagnostics[0].Component)
			assert.Equal(t, tt.offset, res.Diagnostics[0].Offset)
		})
	}
}

func TestParseTeXIterationCeiling(t *testing.T) {
	res := ParseTeX(strings.Repeat("a", 50), Options{MaxIterations: 10})

	assert.True(t, res.Truncated)
	assert.Equal(t, 10, res.Iterations)
	assert.Equal(t, 10, res.Consumed)
	assert.Equal(t, []shape{para(strings.Repeat("a", 10))}, shapes(res.Blocks))
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, types.DiagIterationCeiling, res.Diagnostics[0].Kind)
}

func TestParseTeXIterationCeilingInsideEnvironment(t *testing.T) {
	open := `\begin{center}`
	input := open + strings.Repeat("a", 50) + `\end{center}tail`
	res := ParseTeX(input, Options{MaxIterations: 10, StructuralCommands: true})

	assert.True(t, res.Truncated)
	// one step for \begin, nine for the interior before the ceiling
	assert.Equal(t, len([]rune(open))+9, res.Consumed)
	assert.Less(t, res.Consumed, len([]rune(input)))
	assert.Equal(t, []shape{para(strings.Repeat("a", 9))}, shapes(res.Blocks))
}

func TestParseTeXCountsRunes(t *testing.T) {
	res := ParseTeX("αβγ", DefaultOptions())
	assert.Equal(t, 3, res.Consumed)
	assert.Equal(t, []shape{para("αβγ")}, shapes(res.Blocks))
}

func TestParseTeXBlockIDsAreUnique(t *testing.T) {
	res := ParseTeX("a $$b$$ c", DefaultOptions())
	require.Len(t, res.Blocks, 3)
	seen := map[string]bool{}
	for _, b := range res.Blocks {
		assert.NotEmpty(t, b.ID)
		assert.False(t, seen[b.ID])
		seen[b.ID] = true
	}
}

// Plain text without math or commands is one trimmed paragraph.
func TestParseTeXPlainTextProperty(t *testing.T) {
	f := func(s string) bool {
		s = strings.Map(func(r rune) rune {
			if r == '$' || r == '\\' {
				return -1
			}
			return r
		}, s)
		res := ParseTeX(s, DefaultOptions())
		want := strings.TrimSpace(s)
		if want == "" {
			return len(res.Blocks) == 0
		}
		return len(res.Blocks) == 1 &&
			res.Blocks[0].Kind == types.KindParagraph &&
			res.Blocks[0].Content == want &&
			res.Consumed == len([]rune(s))
	}
	if err := quick.Check(f, quickConfig()); err != nil {
		t.Error(err)
	}
}

// Well-formed input is consumed completely without unterminated diagnostics.
func TestParseTeXBalancedInputProperty(t *testing.T) {
	pieces := []string{
		"text ",
		`\begin{center}c\end{center}`,
		`\begin{equation}x\label{e}\end{equation}`,
		`\begin{itemize}\item i\end{itemize}`,
		`\emph{e}`,
		`\section{S}`,
		"$y$",
		"$$z$$",
		`\[w\]`,
		`\\`,
		"{g}",
		"\n",
	}
	f := func(idx []uint8) bool {
		var sb strings.Builder
		for _, i := range idx {
			sb.WriteString(pieces[int(i)%len(pieces)])
		}
		input := sb.String()
		res := ParseTeX(input, DefaultOptions())
		for _, d := range res.Diagnostics {
			if d.Kind == types.DiagUnterminated {
				return false
			}
		}
		return !res.Truncated && res.Consumed == len([]rune(input))
	}
	if err := quick.Check(f, quickConfig()); err != nil {
		t.Error(err)
	}
}
