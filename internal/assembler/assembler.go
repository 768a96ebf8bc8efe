// Package assembler turns a source document of any supported format into an
// ordered block sequence, dispatching to the format's front end and walking
// whatever structural markup surrounds the formulas.
package assembler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"mathblocks/internal/config"
	"mathblocks/internal/logger"
	"mathblocks/internal/mathml"
	"mathblocks/internal/omml"
	"mathblocks/internal/parser"
	"mathblocks/internal/pdf"
	"mathblocks/internal/types"
)

// Source is one document to ingest.
type Source struct {
	Format types.SourceFormat
	Name   string
	Data   []byte
}

// Document is the result of ingesting a Source.
type Document struct {
	Format      types.SourceFormat `json:"format"`
	Name        string             `json:"name"`
	Blocks      []types.Block      `json:"blocks"`
	Diagnostics []types.Diagnostic `json:"diagnostics"`
}

// Assembler 文档组装器
//
// An Assembler holds no per-document state; one instance may serve
// concurrent calls.
type Assembler struct {
	cfg *types.Config
}

// New creates an Assembler. A nil config uses the defaults.
func New(cfg *types.Config) *Assembler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Assembler{cfg: cfg}
}

// AssembleFile reads path and assembles it using the format implied by its
// extension. PDF files are validated and read from disk by the PDF reader.
func (a *Assembler) AssembleFile(ctx context.Context, path string) (*Document, error) {
	format, err := parser.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == types.FormatPDF {
		return a.assemblePDFFile(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "source file not found", path, err)
		}
		return nil, types.NewAppErrorWithDetails(types.ErrInvalidInput, "cannot read source file", path, err)
	}
	return a.Assemble(ctx, Source{Format: format, Name: filepath.Base(path), Data: data})
}

// Assemble ingests one source. An empty format is sniffed from the content.
// Malformed content never fails the call; it shows up as diagnostics.
func (a *Assembler) Assemble(ctx context.Context, src Source) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Format == "" {
		src.Format = parser.SniffFormat(src.Data)
	}
	if !types.IsValidFormat(src.Format) {
		return nil, types.NewAppErrorWithDetails(types.ErrUnsupportedFormat, "unsupported source format", string(src.Format), nil)
	}

	logger.Info("assembling document",
		logger.Component("assembler"),
		logger.String("format", string(src.Format)),
		logger.String("name", src.Name),
		logger.Int("bytes", len(src.Data)))

	doc := &Document{Format: src.Format, Name: src.Name}
	var err error

	switch src.Format {
	case types.FormatTeX:
		res := parser.ParseTeX(parser.PrepareTeX(string(src.Data)), parser.Options{
			MaxIterations:      a.cfg.TeX.MaxIterations,
			StructuralCommands: a.cfg.TeX.StructuralCommands,
		})
		doc.Blocks, doc.Diagnostics = res.Blocks, res.Diagnostics
	case types.FormatPDF:
		doc.Blocks, err = pdf.ExtractBlocks(src.Data, a.cfg.PDF)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrExtract, "PDF extraction failed", src.Name, err)
		}
	case types.FormatHTML:
		doc.Blocks, doc.Diagnostics = a.walkHTML(string(src.Data))
	case types.FormatMD:
		doc.Blocks, doc.Diagnostics, err = a.markdown(src.Data)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrExtract, "markdown rendering failed", src.Name, err)
		}
	case types.FormatDOCX:
		doc.Blocks, doc.Diagnostics, err = a.docx(src.Data)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrExtract, "DOCX extraction failed", src.Name, err)
		}
	case types.FormatOMML:
		doc.Blocks, doc.Diagnostics = a.ommlBlocks(string(src.Data))
	case types.FormatMathML:
		latex, diags := mathml.ConvertWithDiagnostics(string(src.Data))
		if strings.TrimSpace(latex) != "" && !hasKind(diags, types.DiagNoMathRoot) {
			doc.Blocks = append(doc.Blocks, types.NewFormula(latex, false))
		}
		doc.Diagnostics = diags
	}

	return finish(doc), nil
}

func (a *Assembler) assemblePDFFile(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	logger.Info("assembling document",
		logger.Component("assembler"),
		logger.String("format", string(types.FormatPDF)),
		logger.String("name", name))

	blocks, err := pdf.ExtractFileBlocks(path, a.cfg.PDF)
	if err != nil {
		var pdfErr *pdf.PDFError
		if errors.As(err, &pdfErr) && pdfErr.Code == pdf.ErrPDFNotFound {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "source file not found", path, err)
		}
		return nil, types.NewAppErrorWithDetails(types.ErrExtract, "PDF extraction failed", name, err)
	}
	return finish(&Document{Format: types.FormatPDF, Name: name, Blocks: blocks}), nil
}

// finish replaces nil slices so the JSON shape is stable.
func finish(doc *Document) *Document {
	if doc.Blocks == nil {
		doc.Blocks = []types.Block{}
	}
	if doc.Diagnostics == nil {
		doc.Diagnostics = []types.Diagnostic{}
	}

	logger.Info("document assembled",
		logger.Component("assembler"),
		logger.String("name", doc.Name),
		logger.Int("blocks", len(doc.Blocks)),
		logger.Int("diagnostics", len(doc.Diagnostics)))

	return doc
}

func (a *Assembler) ommlOptions() omml.Options {
	return omml.Options{SplitOnCommas: a.cfg.OMML.SplitOnCommas}
}

// ommlBlocks converts standalone OMML into display formula blocks.
func (a *Assembler) ommlBlocks(markup string) ([]types.Block, []types.Diagnostic) {
	formulas, diags := omml.ConvertWithOptions(markup, a.ommlOptions())
	blocks := make([]types.Block, 0, len(formulas))
	for _, f := range formulas {
		blocks = append(blocks, types.NewFormula(f, false))
	}
	return blocks, diags
}

func hasKind(diags []types.Diagnostic, kind string) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// inlineMath writes formulas as $...$ substrings separated by spaces.
func inlineMath(formulas []string) string {
	parts := make([]string, len(formulas))
	for i, f := range formulas {
		parts[i] = "$" + f + "$"
	}
	return strings.Join(parts, " ")
}
