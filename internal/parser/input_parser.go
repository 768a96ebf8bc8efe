// Package parser identifies source formats and turns TeX source into blocks.
package parser

import (
	"bytes"
	"path/filepath"
	"strings"

	"mathblocks/internal/logger"
	"mathblocks/internal/types"
)

// extensionFormats maps lower-cased file extensions to source formats.
var extensionFormats = map[string]types.SourceFormat{
	".tex":      types.FormatTeX,
	".latex":    types.FormatTeX,
	".ltx":      types.FormatTeX,
	".pdf":      types.FormatPDF,
	".html":     types.FormatHTML,
	".htm":      types.FormatHTML,
	".xhtml":    types.FormatHTML,
	".docx":     types.FormatDOCX,
	".omml":     types.FormatOMML,
	".mml":      types.FormatMathML,
	".mathml":   types.FormatMathML,
	".md":       types.FormatMD,
	".markdown": types.FormatMD,
}

// DetectFormat determines the source format of a file from its extension.
// It returns an error if the path is empty or the extension is unknown.
//
// Recognized extensions:
// - .tex .latex .ltx → tex
// - .pdf → pdf
// - .html .htm .xhtml → html
// - .docx → docx
// - .omml → omml
// - .mml .mathml → mathml
// - .md .markdown → md
func DetectFormat(path string) (types.SourceFormat, error) {
	logger.Debug("detecting source format", logger.String("path", path))

	path = strings.TrimSpace(path)
	if path == "" {
		logger.Warn("detect format failed: empty path")
		return "", types.NewAppError(types.ErrInvalidInput, "path must not be empty", nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensionFormats[ext]; ok {
		logger.Debug("source format identified", logger.String("path", path), logger.String("format", string(f)))
		return f, nil
	}

	logger.Warn("unsupported source format", logger.String("path", path), logger.String("ext", ext))
	return "", types.NewAppErrorWithDetails(types.ErrUnsupportedFormat, "unsupported source format", ext, nil)
}

// SniffFormat guesses the format of raw content. It is used when a file has
// no usable extension, e.g. .xml exports or HTTP uploads without a format.
// Content that matches nothing is treated as Markdown.
func SniffFormat(data []byte) types.SourceFormat {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := bytes.ToLower(bytes.TrimSpace(head))

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return types.FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return types.FormatDOCX
	case bytes.Contains(lower, []byte("<html")) || bytes.HasPrefix(lower, []byte("<!doctype html")):
		return types.FormatHTML
	case bytes.Contains(lower, []byte("<m:omath")):
		return types.FormatOMML
	case bytes.Contains(lower, []byte("<math")) || bytes.Contains(lower, []byte(":math")):
		return types.FormatMathML
	case isTeX(lower):
		return types.FormatTeX
	}
	return types.FormatMD
}

// isTeX checks for the commands that open almost every TeX document.
func isTeX(lower []byte) bool {
	for _, marker := range []string{`\documentclass`, `\begin{`, `\section`, `\usepackage`} {
		if bytes.Contains(lower, []byte(marker)) {
			return true
		}
	}
	return false
}
