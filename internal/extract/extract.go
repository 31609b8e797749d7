// Package extract turns uploaded contract files into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooLarge          = errors.New("file too large")
)

// Format identifies a contract document format.
type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatDOC     Format = "doc"
	FormatText    Format = "txt"
)

// ContentType returns the MIME type stored alongside the file.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatDOC:
		return "application/msword"
	case FormatText:
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Sniff identifies the format from the file content, falling back to the
// file extension when the magic number is ambiguous (a bare zip or OLE
// container) or absent.
func Sniff(data []byte, filename string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	kind, _ := filetype.Match(data)
	switch kind.Extension {
	case "pdf":
		return FormatPDF
	case "docx":
		return FormatDOCX
	case "doc":
		return FormatDOC
	case "zip":
		if ext == "docx" {
			return FormatDOCX
		}
		return FormatUnknown
	}

	if bytes.HasPrefix(data, oleMagic) {
		if ext == "doc" {
			return FormatDOC
		}
		return FormatUnknown
	}

	if kind == filetype.Unknown && (ext == "txt" || ext == "text") {
		return FormatText
	}
	return FormatUnknown
}

// Detect returns the format of an uploaded contract. Only PDF and Word
// documents are accepted.
func Detect(data []byte, filename string) (Format, error) {
	switch f := Sniff(data, filename); f {
	case FormatPDF, FormatDOCX, FormatDOC:
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

// Text extracts the plain text of a document.
func Text(format Format, data []byte) (string, error) {
	switch format {
	case FormatPDF:
		return pdfText(data)
	case FormatDOCX:
		return docxText(data)
	case FormatDOC:
		return docText(data), nil
	case FormatText:
		return plainText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ReadLimited reads r completely, failing with ErrTooLarge once more than
// limit bytes are available.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
