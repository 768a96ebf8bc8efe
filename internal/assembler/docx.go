package assembler

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"mathblocks/internal/logger"
	"mathblocks/internal/omml"
	"mathblocks/internal/types"
)

const (
	wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	mathNS = "http://schemas.openxmlformats.org/officeDocument/2006/math"
)

// relationship is one entry of word/_rels/document.xml.rels.
type relationship struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

type relationships struct {
	Items []relationship `xml:"Relationship"`
}

// docxReader walks word/document.xml of one archive.
type docxReader struct {
	a      *Assembler
	files  map[string]*zip.File
	rels   map[string]relationship
	blocks []types.Block
	diags  []types.Diagnostic

	text  strings.Builder
	style string
}

// docx extracts blocks from a .docx archive held in memory.
func (a *Assembler) docx(data []byte) ([]types.Block, []types.Diagnostic, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}

	r := &docxReader{a: a, files: make(map[string]*zip.File), rels: make(map[string]relationship)}
	for _, f := range zr.File {
		r.files[f.Name] = f
	}

	doc, err := r.read("word/document.xml")
	if err != nil {
		return nil, nil, err
	}
	if rels, err := r.read("word/_rels/document.xml.rels"); err == nil {
		var parsed relationships
		if err := xml.Unmarshal(rels, &parsed); err == nil {
			for _, rel := range parsed.Items {
				r.rels[rel.ID] = rel
			}
		}
	}

	r.walk(doc)

	logger.Debug("DOCX walk complete",
		logger.Component("docx"),
		logger.Int("blocks", len(r.blocks)),
		logger.Int("relationships", len(r.rels)))

	return r.blocks, r.diags, nil
}

func (r *docxReader) read(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%s not found in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// walk streams the document body. Math elements are cut out of the raw
// bytes by offset so the OMML converter sees the original markup.
func (r *docxReader) walk(doc []byte) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	inPara, inText := false, false

	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.diagnose(types.DiagMalformedMarkup, int(start), err.Error())
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == mathNS && (t.Name.Local == "oMath" || t.Name.Local == "oMathPara"):
				if err := dec.Skip(); err != nil {
					r.diagnose(types.DiagUnterminated, int(start), err.Error())
					return
				}
				r.math(string(doc[start:dec.InputOffset()]), t.Name.Local == "oMath" && inPara)
			case t.Name.Space == wordNS && t.Name.Local == "p":
				if inPara {
					r.flush()
				}
				inPara = true
				r.style = ""
			case t.Name.Space == wordNS && t.Name.Local == "pStyle" && inPara:
				r.style = attrValue(t, "val")
			case t.Name.Space == wordNS && t.Name.Local == "t":
				inText = true
			case t.Name.Space == wordNS && (t.Name.Local == "tab" || t.Name.Local == "br"):
				r.text.WriteByte(' ')
			case t.Name.Local == "blip":
				r.image(attrValue(t, "embed"))
			}
		case xml.CharData:
			if inText {
				r.text.Write(t)
			}
		case xml.EndElement:
			switch {
			case t.Name.Space == wordNS && t.Name.Local == "t":
				inText = false
			case t.Name.Space == wordNS && t.Name.Local == "p":
				r.flush()
				inPara = false
			}
		}
	}
	r.flush()
}

// math places converted formulas: inline math joins the paragraph text,
// display math becomes standalone blocks.
func (r *docxReader) math(markup string, inline bool) {
	formulas, diags := omml.ConvertWithOptions(markup, r.a.ommlOptions())
	r.diags = append(r.diags, diags...)
	if inline {
		r.text.WriteString(inlineMath(formulas))
		return
	}
	r.flush()
	for _, f := range formulas {
		r.blocks = append(r.blocks, types.NewFormula(f, false))
	}
}

func (r *docxReader) image(id string) {
	rel, ok := r.rels[id]
	if !ok {
		return
	}
	r.flush()
	src := rel.Target
	if !strings.EqualFold(rel.TargetMode, "External") {
		name := path.Clean(path.Join("word", rel.Target))
		data, err := r.read(name)
		if err != nil {
			logger.Warn("DOCX image missing", logger.Component("docx"), logger.String("target", name), logger.Err(err))
			return
		}
		kind := mime.TypeByExtension(path.Ext(name))
		if kind == "" {
			kind = "application/octet-stream"
		}
		src = "data:" + kind + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	r.blocks = append(r.blocks, types.NewBlock(types.KindImage, src))
}

// flush emits the running paragraph text with the kind its style implies.
func (r *docxReader) flush() {
	text := collapse(r.text.String())
	r.text.Reset()
	if text == "" {
		return
	}
	r.blocks = append(r.blocks, types.NewBlock(styleKind(r.style), text))
}

func (r *docxReader) diagnose(kind string, offset int, msg string) {
	r.diags = append(r.diags, types.Diagnostic{Component: "docx", Kind: kind, Offset: offset, Message: msg})
	logger.Warn("DOCX markup problem",
		logger.Component("docx"),
		logger.String("kind", kind),
		logger.Int("offset", offset),
		logger.String("message", msg))
}

// styleKind maps a paragraph style such as "Heading2", "Title" or
// "Caption" to a block kind.
func styleKind(style string) types.BlockKind {
	lower := strings.ToLower(style)
	switch lower {
	case "title":
		return types.KindHeading1
	case "subtitle":
		return types.KindHeading2
	case "caption":
		return types.KindCaption
	}
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '9' {
				return types.HeadingKind(int(rest[0] - '0'))
			}
		}
	}
	return types.KindParagraph
}

func attrValue(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
