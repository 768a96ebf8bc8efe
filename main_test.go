package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathblocks/internal/assembler"
	"mathblocks/internal/types"
)

func TestIngestDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eq.tex")
	require.NoError(t, os.WriteFile(path, []byte("$$x$$"), 0644))

	doc, err := ingest(context.Background(), assembler.New(nil), path, "")
	require.NoError(t, err)
	assert.Equal(t, types.FormatTeX, doc.Format)
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, types.KindFormula, doc.Blocks[0].Kind)
}

func TestIngestExplicitFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.txt")
	require.NoError(t, os.WriteFile(path, []byte(`<math><mi>y</mi></math>`), 0644))

	doc, err := ingest(context.Background(), assembler.New(nil), path, types.FormatMathML)
	require.NoError(t, err)
	assert.Equal(t, "snippet.txt", doc.Name)
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, "y", doc.Blocks[0].Content)

	_, err = ingest(context.Background(), assembler.New(nil), filepath.Join(dir, "missing.txt"), types.FormatMathML)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrFileNotFound, appErr.Code)
}

func TestWriteDocument(t *testing.T) {
	out := filepath.Join(t.TempDir(), "doc.json")
	doc := &assembler.Document{
		Format:      types.FormatTeX,
		Name:        "a.tex",
		Blocks:      []types.Block{types.NewFormula("x", false)},
		Diagnostics: []types.Diagnostic{},
	}
	require.NoError(t, writeDocument(doc, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "tex", got["format"])
	blocks := got["blocks"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "formula", blocks[0].(map[string]any)["type"])
}
