package pdf

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"mathblocks/internal/logger"
	"mathblocks/internal/types"
)

// GetPDFInfo 获取 PDF 基本信息（页数、文件大小）
func GetPDFInfo(pdfPath string) (*PDFInfo, error) {
	fileInfo, err := os.Stat(pdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewPDFError(ErrPDFNotFound, "file does not exist", err)
		}
		return nil, NewPDFError(ErrPDFInvalid, "cannot access file", err)
	}
	if fileInfo.IsDir() {
		return nil, NewPDFError(ErrPDFInvalid, "path is a directory", nil)
	}

	ctx, err := api.ReadContextFile(pdfPath)
	if err != nil {
		return nil, NewPDFError(ErrPDFInvalid, "cannot read PDF structure", err)
	}

	return &PDFInfo{
		FilePath:  pdfPath,
		FileName:  filepath.Base(pdfPath),
		PageCount: ctx.PageCount,
		FileSize:  fileInfo.Size(),
	}, nil
}

// pageCount validates the document structure and returns its page count.
func pageCount(data []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, NewPDFError(ErrPDFInvalid, "cannot read PDF structure", err)
	}
	return ctx.PageCount, nil
}

// readFile validates a PDF file and extracts positioned text from every page.
func readFile(pdfPath string) ([]Fragment, *PDFInfo, error) {
	info, err := GetPDFInfo(pdfPath)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, nil, NewPDFError(ErrExtractFailed, "cannot read file", err)
	}
	logger.Debug("reading PDF",
		logger.Component("pdf"),
		logger.String("file", info.FileName),
		logger.Int("pages", info.PageCount),
		logger.Int64("size", info.FileSize))
	frags, err := fragmentsFrom(data)
	return frags, info, err
}

// fragmentsFrom reads the text layer page by page. A page that fails to
// decode is skipped.
func fragmentsFrom(data []byte) ([]Fragment, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, NewPDFError(ErrPDFInvalid, "cannot open PDF", err)
	}

	var frags []Fragment
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		texts, err := pageTexts(r, pageNum)
		if err != nil {
			logger.Warn("skipping unreadable page",
				logger.Component("pdf"),
				logger.Int("page", pageNum),
				logger.Err(NewPDFErrorWithPage(ErrExtractFailed, "cannot decode page", pageNum, err)))
			continue
		}
		frags = append(frags, mergeRuns(pageNum, texts)...)
	}
	return frags, nil
}

// pageTexts recovers from decoder panics on malformed content streams.
func pageTexts(r *pdf.Reader, pageNum int) (texts []pdf.Text, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", pageNum, rec)
		}
	}()
	page := r.Page(pageNum)
	if page.V.IsNull() {
		return nil, nil
	}
	return page.Content().Text, nil
}

// mergeRuns joins consecutive glyphs that share a font, a baseline and an
// advance into one fragment. The decoder emits text one glyph at a time.
func mergeRuns(pageNum int, texts []pdf.Text) []Fragment {
	var frags []Fragment
	var cur *Fragment
	var end float64

	for _, t := range texts {
		if t.S == "" || isControl(t.S) {
			continue
		}
		if cur != nil && t.Font == cur.FontName && t.FontSize == cur.FontSize &&
			math.Abs(t.Y-cur.Y()) < 0.5 && t.X >= end-0.5 && t.X-end <= 0.1*t.FontSize {
			cur.Text += t.S
			end = t.X + t.W
			cur.Width = end - cur.X()
			continue
		}
		if cur != nil {
			frags = append(frags, *cur)
		}
		f := NewFragment(pageNum, t.S, t.X, t.Y, t.FontSize, t.W, t.Font)
		cur = &f
		end = t.X + t.W
	}
	if cur != nil {
		frags = append(frags, *cur)
	}
	return frags
}

func isControl(s string) bool {
	for _, r := range s {
		if !unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ExtractBlocks reconstructs the blocks of a PDF held in memory.
func ExtractBlocks(data []byte, cfg types.PDFConfig) ([]types.Block, error) {
	pages, err := pageCount(data)
	if err != nil {
		return nil, err
	}
	frags, err := fragmentsFrom(data)
	if err != nil {
		return nil, err
	}
	return reconstructText(frags, pages, cfg)
}

// ExtractFileBlocks reconstructs the blocks of a PDF file on disk.
func ExtractFileBlocks(pdfPath string, cfg types.PDFConfig) ([]types.Block, error) {
	frags, info, err := readFile(pdfPath)
	if err != nil {
		return nil, err
	}
	return reconstructText(frags, info.PageCount, cfg)
}

func reconstructText(frags []Fragment, pages int, cfg types.PDFConfig) ([]types.Block, error) {
	if len(frags) == 0 {
		return nil, NewPDFError(ErrPDFNoText, "PDF has no extractable text", nil)
	}

	logger.Info("extracted PDF text",
		logger.Component("pdf"),
		logger.Int("pages", pages),
		logger.Int("fragments", len(frags)))

	return Reconstruct(frags, cfg), nil
}

// psOperators appear in leaked content-stream code, never in prose lines
// on their own.
var psOperators = []string{
	"currentpoint", "gsave", "grestore", "newpath", "closepath",
	"setrgbcolor", "setgray", "setlinewidth", "showpage",
}

// isPostScriptCode checks if text looks like PostScript/PDF operator code
// that leaked into the text layer.
func isPostScriptCode(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)

	if strings.Contains(text, "/") && (strings.Contains(text, " def ") || strings.HasSuffix(text, " def")) {
		return true
	}
	if strings.Contains(lower, "null def") || strings.Contains(text, "@stx") || strings.Contains(text, "@etx") {
		return true
	}
	if strings.Contains(lower, "/burl") || strings.Contains(lower, "burl@") {
		return true
	}
	for _, op := range psOperators {
		if strings.Contains(lower, op) {
			return true
		}
	}

	if strings.Contains(text, "://") || strings.Contains(lower, "http") {
		return false
	}
	names := 0
	for _, word := range strings.Fields(text) {
		if len(word) > 1 && word[0] == '/' && isPSName(word[1:]) {
			names++
		}
	}
	return names >= 3
}

func isPSName(s string) bool {
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '@') {
			return false
		}
	}
	return true
}

// hasExcessiveNonPrintable reports whether more than 10% of the runes are
// control characters.
func hasExcessiveNonPrintable(text string) bool {
	total, bad := 0, 0
	for _, r := range text {
		total++
		if (r < 32 && r != '\n' && r != '\r' && r != '\t') || (r >= 0x7F && r <= 0x9F) {
			bad++
		}
	}
	if total == 0 {
		return false
	}
	return float64(bad)/float64(total) > 0.1
}
