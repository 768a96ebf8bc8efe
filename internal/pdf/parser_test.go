package pdf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledongthuc/pdf"

	"mathblocks/internal/types"
)

// TestGetPDFInfo_NonExistentFile tests that GetPDFInfo returns an error for non-existent files
func TestGetPDFInfo_NonExistentFile(t *testing.T) {
	_, err := GetPDFInfo("/non/existent/file.pdf")
	if err == nil {
		t.Fatal("Expected error for non-existent file, got nil")
	}

	pdfErr, ok := err.(*PDFError)
	if !ok {
		t.Fatalf("Expected PDFError, got %T", err)
	}
	if pdfErr.Code != ErrPDFNotFound {
		t.Errorf("Expected error code %s, got %s", ErrPDFNotFound, pdfErr.Code)
	}
}

// TestGetPDFInfo_Directory tests that GetPDFInfo returns an error when path is a directory
func TestGetPDFInfo_Directory(t *testing.T) {
	_, err := GetPDFInfo(".")
	if err == nil {
		t.Fatal("Expected error for directory path, got nil")
	}

	pdfErr, ok := err.(*PDFError)
	if !ok {
		t.Fatalf("Expected PDFError, got %T", err)
	}
	if pdfErr.Code != ErrPDFInvalid {
		t.Errorf("Expected error code %s, got %s", ErrPDFInvalid, pdfErr.Code)
	}
}

// TestGetPDFInfo_InvalidFile tests that GetPDFInfo returns an error for invalid PDF files
func TestGetPDFInfo_InvalidFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.pdf")
	if err := os.WriteFile(tmpFile, []byte("This is not a PDF file"), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	_, err := GetPDFInfo(tmpFile)
	var pdfErr *PDFError
	if !errors.As(err, &pdfErr) {
		t.Fatalf("Expected PDFError, got %v", err)
	}
	if pdfErr.Code != ErrPDFInvalid {
		t.Errorf("Expected error code %s, got %s", ErrPDFInvalid, pdfErr.Code)
	}
}

func TestExtractFileBlocks_NonExistentFile(t *testing.T) {
	_, err := ExtractFileBlocks("/non/existent/file.pdf", types.PDFConfig{})
	var pdfErr *PDFError
	if !errors.As(err, &pdfErr) || pdfErr.Code != ErrPDFNotFound {
		t.Errorf("Expected %s, got %v", ErrPDFNotFound, err)
	}
}

func TestExtractBlocks_Garbage(t *testing.T) {
	_, err := ExtractBlocks([]byte("%PDX not really"), types.PDFConfig{})
	var pdfErr *PDFError
	if !errors.As(err, &pdfErr) {
		t.Fatalf("Expected PDFError, got %v", err)
	}
	if pdfErr.Code != ErrPDFInvalid {
		t.Errorf("Expected error code %s, got %s", ErrPDFInvalid, pdfErr.Code)
	}
}

func TestMergeRuns(t *testing.T) {
	texts := []pdf.Text{
		{Font: "F1", FontSize: 10, X: 10, Y: 100, W: 5, S: "H"},
		{Font: "F1", FontSize: 10, X: 15, Y: 100, W: 5, S: "i"},
		{Font: "F1", FontSize: 10, X: 20, Y: 100, W: 0, S: "\x00"},
		{Font: "F1", FontSize: 10, X: 30, Y: 100, W: 5, S: "x"},
		{Font: "F2", FontSize: 10, X: 35, Y: 100, W: 5, S: "y"},
		{Font: "F2", FontSize: 10, X: 40, Y: 80, W: 5, S: "z"},
	}

	frags := mergeRuns(3, texts)
	want := []struct {
		text  string
		x, y  float64
		width float64
	}{
		{"Hi", 10, 100, 10},
		{"x", 30, 100, 5},
		{"y", 35, 100, 5},
		{"z", 40, 80, 5},
	}

	if len(frags) != len(want) {
		t.Fatalf("Expected %d fragments, got %d: %+v", len(want), len(frags), frags)
	}
	for i, w := range want {
		f := frags[i]
		if f.Text != w.text || f.X() != w.x || f.Y() != w.y || f.Width != w.width || f.Page != 3 {
			t.Errorf("fragment %d: got %+v, want %+v", i, f, w)
		}
	}
}

func TestPDFError(t *testing.T) {
	cause := errors.New("boom")
	err := NewPDFError(ErrExtractFailed, "extract", cause)
	if err.Error() != "extract: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to unwrap to its cause")
	}
	if NewPDFErrorWithPage(ErrPDFNoText, "empty", 4, nil).Page != 4 {
		t.Error("Expected page to be recorded")
	}
}
