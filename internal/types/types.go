// Package types defines core data types and enums shared by every ingestion front end.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BlockKind 块类型枚举
type BlockKind string

const (
	KindHeading1  BlockKind = "heading1"
	KindHeading2  BlockKind = "heading2"
	KindHeading3  BlockKind = "heading3"
	KindParagraph BlockKind = "paragraph"
	KindCaption   BlockKind = "caption"
	KindFormula   BlockKind = "formula"
	KindImage     BlockKind = "image"
)

// IsValidKind checks if the given kind is one of the known block kinds
func IsValidKind(kind BlockKind) bool {
	switch kind {
	case KindHeading1, KindHeading2, KindHeading3, KindParagraph,
		KindCaption, KindFormula, KindImage:
		return true
	default:
		return false
	}
}

// HeadingKind returns the heading kind for a 1-based level, clamping deeper levels to Heading3.
func HeadingKind(level int) BlockKind {
	switch {
	case level <= 1:
		return KindHeading1
	case level == 2:
		return KindHeading2
	default:
		return KindHeading3
	}
}

// Block 文档结构单元
//
// For text kinds Content is HTML or plain text with inline formulas written as
// $...$; for KindFormula it is bare LaTeX without delimiters; for KindImage it
// is a URI.
type Block struct {
	ID        string
	Kind      BlockKind
	Content   string
	Indent    int
	Inline    bool   // formula only
	Reference string // formula only: equation number or label
	Modified  time.Time
}

// NewBlock creates a block with a fresh opaque ID.
func NewBlock(kind BlockKind, content string) Block {
	return Block{
		ID:       uuid.NewString(),
		Kind:     kind,
		Content:  content,
		Modified: time.Now(),
	}
}

// NewFormula creates a formula block.
func NewFormula(latex string, inline bool) Block {
	b := NewBlock(KindFormula, latex)
	b.Inline = inline
	return b
}

// blockJSON is the export shape consumed by the editing surface.
type blockJSON struct {
	Type      BlockKind `json:"type"`
	Content   string    `json:"content"`
	Indent    int       `json:"indent"`
	ID        string    `json:"id"`
	Modified  int64     `json:"modified"` // Unix 毫秒
	IsInline  *bool     `json:"isInline,omitempty"`
	Reference string    `json:"reference,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	Images    []string  `json:"images,omitempty"`
	Src       string    `json:"src,omitempty"`
}

// MarshalJSON implements json.Marshaler with kind-specific fields
func (b Block) MarshalJSON() ([]byte, error) {
	out := blockJSON{
		Type:     b.Kind,
		Content:  b.Content,
		Indent:   b.Indent,
		ID:       b.ID,
		Modified: b.Modified.UnixMilli(),
	}
	switch b.Kind {
	case KindFormula:
		inline := b.Inline
		out.IsInline = &inline
		out.Reference = b.Reference
	case KindImage:
		out.Variant = "single"
		out.Images = []string{b.Content}
		out.Src = b.Content
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for the export shape
func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !IsValidKind(in.Type) {
		return fmt.Errorf("unknown block type %q", in.Type)
	}
	b.ID = in.ID
	b.Kind = in.Type
	b.Content = in.Content
	b.Indent = in.Indent
	b.Reference = in.Reference
	if in.IsInline != nil {
		b.Inline = *in.IsInline
	}
	if b.Kind == KindImage && b.Content == "" {
		b.Content = in.Src
	}
	if in.Modified > 0 {
		b.Modified = time.UnixMilli(in.Modified)
	}
	return nil
}

// Diagnostic 解析诊断信息
//
// Diagnostics describe input that could not be parsed cleanly. They never
// abort ingestion.
type Diagnostic struct {
	Component string `json:"component"` // tex, mathml, omml, pdf, html, docx
	Kind      string `json:"kind"`      // unterminated, unmatched_environment, unknown_tag, ...
	Offset    int    `json:"offset"`    // rune offset, -1 when not applicable
	Message   string `json:"message"`
}

// Diagnostic kinds shared across components.
const (
	DiagUnterminated         = "unterminated"
	DiagUnmatchedEnvironment = "unmatched_environment"
	DiagIterationCeiling     = "iteration_ceiling"
	DiagUnknownTag           = "unknown_tag"
	DiagNoMathRoot           = "no_math_root"
	DiagMalformedMarkup      = "malformed_markup"
	DiagConversionFailed     = "conversion_failed"
)

// SourceFormat 源文档格式枚举
type SourceFormat string

const (
	FormatTeX    SourceFormat = "tex"
	FormatPDF    SourceFormat = "pdf"
	FormatHTML   SourceFormat = "html"
	FormatDOCX   SourceFormat = "docx"
	FormatOMML   SourceFormat = "omml"
	FormatMathML SourceFormat = "mathml"
	FormatMD     SourceFormat = "md"
)

// IsValidFormat checks if the given format is supported
func IsValidFormat(f SourceFormat) bool {
	switch f {
	case FormatTeX, FormatPDF, FormatHTML, FormatDOCX, FormatOMML, FormatMathML, FormatMD:
		return true
	default:
		return false
	}
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	ErrExtract           ErrorCode = "EXTRACT_ERROR"
	ErrConfig            ErrorCode = "CONFIG_ERROR"
	ErrCorrection        ErrorCode = "CORRECTION_ERROR"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}
