package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

const docxBody = "word/document.xml"

// docxText reads word/document.xml and emits one line per paragraph.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	f, err := zr.Open(docxBody)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", docxBody, err)
	}
	defer f.Close()

	decoder := xml.NewDecoder(f)
	var b strings.Builder
	inText := false

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", docxBody, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}

// minDocRun is the shortest UTF-16 run kept from a legacy .doc file.
const minDocRun = 2

// docText recovers readable text from a legacy Word binary by collecting
// UTF-16LE runs of printable characters. Formatting tables and binary noise
// fall outside the runs.
func docText(data []byte) string {
	var b strings.Builder
	var run []rune

	flush := func() {
		if len(run) >= minDocRun && hasLetter(run) {
			b.WriteString(string(run))
			b.WriteByte('\n')
		}
		run = run[:0]
	}

	for i := 0; i+1 < len(data); i += 2 {
		r := rune(data[i]) | rune(data[i+1])<<8
		switch {
		case r == '\r' || r == '\n':
			flush()
		case isDocRune(r):
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()

	return b.String()
}

func isDocRune(r rune) bool {
	switch {
	case r == '\t' || r == ' ':
		return true
	case r >= 0x21 && r <= 0x7E:
		return true
	case unicode.Is(unicode.Han, r):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // full-width forms
		return true
	}
	return false
}

func hasLetter(run []rune) bool {
	for _, r := range run {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
