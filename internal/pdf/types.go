// Package pdf reconstructs block structure from the text fragments of a PDF.
//
// A PDF carries no structure beyond positioned text, so blocks are recovered
// heuristically: fragments are grouped into lines by vertical position and
// each line is classified by font size and symbol content.
package pdf

// Fragment is one run of text as placed on a page.
type Fragment struct {
	Text string `json:"text"`
	// Transform is the text matrix [a b c d e f]; e and f are the position in
	// user space, with y increasing bottom to top.
	Transform [6]float64 `json:"transform"`
	FontName  string     `json:"font_name"`
	FontSize  float64    `json:"font_size"`
	// Width is the advance width in user space, 0 when unknown.
	Width float64 `json:"width"`
	Page  int     `json:"page"`
}

// X returns the horizontal position.
func (f Fragment) X() float64 { return f.Transform[4] }

// Y returns the vertical position.
func (f Fragment) Y() float64 { return f.Transform[5] }

// NewFragment builds a fragment with an identity-scaled transform at (x, y).
func NewFragment(page int, text string, x, y, fontSize, width float64, font string) Fragment {
	return Fragment{
		Text:      text,
		Transform: [6]float64{1, 0, 0, 1, x, y},
		FontName:  font,
		FontSize:  fontSize,
		Width:     width,
		Page:      page,
	}
}

// Line is a group of fragments sharing a baseline, ordered left to right.
type Line struct {
	Page      int
	Y         float64
	Fragments []Fragment
}

// PDFInfo PDF 文件信息
type PDFInfo struct {
	FilePath  string `json:"file_path"`
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
	FileSize  int64  `json:"file_size"`
}

// PDFErrorCode 错误代码枚举
type PDFErrorCode string

const (
	ErrPDFNotFound   PDFErrorCode = "PDF_NOT_FOUND"
	ErrPDFInvalid    PDFErrorCode = "PDF_INVALID"
	ErrPDFNoText     PDFErrorCode = "PDF_NO_TEXT"
	ErrExtractFailed PDFErrorCode = "EXTRACT_FAILED"
)

// PDFError PDF 处理错误
type PDFError struct {
	Code    PDFErrorCode `json:"code"`
	Message string       `json:"message"`
	Details string       `json:"details,omitempty"`
	Page    int          `json:"page,omitempty"`
	Cause   error        `json:"-"`
}

// Error implements the error interface for PDFError
func (e *PDFError) Error() string {
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
func (e *PDFError) Unwrap() error {
	return e.Cause
}

// NewPDFError creates a new PDFError with the given code, message, and optional cause
func NewPDFError(code PDFErrorCode, message string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewPDFErrorWithPage creates a new PDFError with page information
func NewPDFErrorWithPage(code PDFErrorCode, message string, page int, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Page:    page,
		Cause:   cause,
	}
}
