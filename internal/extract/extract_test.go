package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ct, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`))
	require.NoError(t, err)

	doc, err := zw.Create(docxBody)
	require.NoError(t, err)

	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		fmt.Fprintf(&body, `<w:p><w:r><w:t>%s</w:t></w:r></w:p>`, p)
	}
	body.WriteString(`</w:body></w:document>`)
	_, err = doc.Write([]byte(body.String()))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// buildPDF writes a single page PDF showing text with a standard font.
func buildPDF(text string) []byte {
	stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

func utf16le(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

func TestSniff(t *testing.T) {
	docx := buildDocx(t, "x")
	ole := append(append([]byte{}, oleMagic...), make([]byte, 600)...)

	tests := []struct {
		name     string
		data     []byte
		filename string
		want     Format
	}{
		{"pdf", buildPDF("x"), "a.bin", FormatPDF},
		{"docx", docx, "合同.docx", FormatDOCX},
		{"ole with doc extension", ole, "合同.doc", FormatDOC},
		{"text by extension", []byte("付款日期2024-06-15"), "a.txt", FormatText},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}, "a.pdf", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data, tt.filename))
		})
	}
}

func TestDetect(t *testing.T) {
	f, err := Detect(buildPDF("x"), "合同.pdf")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = Detect([]byte("plain text"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Detect(nil, "empty.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestText(t *testing.T) {
	t.Run("DOCX", func(t *testing.T) {
		text, err := Text(FormatDOCX, buildDocx(t, "第一条 付款延迟", "应于2024-06-15完成交付"))
		require.NoError(t, err)
		assert.Equal(t, "第一条 付款延迟\n应于2024-06-15完成交付\n", text)
	})

	t.Run("DOCXWithoutBody", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		_, _ = zw.Create("other.xml")
		require.NoError(t, zw.Close())

		_, err := Text(FormatDOCX, buf.Bytes())
		assert.Error(t, err)
	})

	t.Run("PDF", func(t *testing.T) {
		text, err := Text(FormatPDF, buildPDF("Payment due 2024-06-15"))
		require.NoError(t, err)
		assert.Contains(t, text, "Payment")
	})

	t.Run("CorruptPDF", func(t *testing.T) {
		_, err := Text(FormatPDF, []byte("%PDF-1.4\ngarbage"))
		assert.Error(t, err)
	})

	t.Run("DOC", func(t *testing.T) {
		data := append([]byte{}, oleMagic...)
		data = append(data, 0x00, 0x00, 0x01, 0x00)
		data = append(data, utf16le("违约金条款\r乙方应于2024年3月5日完成")...)
		data = append(data, 0x00, 0x00, 0x07, 0x00)

		text, err := Text(FormatDOC, data)
		require.NoError(t, err)
		assert.Contains(t, text, "违约金条款\n")
		assert.Contains(t, text, "乙方应于2024年3月5日完成\n")
	})

	t.Run("UTF8Text", func(t *testing.T) {
		text, err := Text(FormatText, append([]byte{0xEF, 0xBB, 0xBF}, []byte("保证金")...))
		require.NoError(t, err)
		assert.Equal(t, "保证金", text)
	})

	t.Run("GBKText", func(t *testing.T) {
		gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("财务担保与保证金"))
		require.NoError(t, err)

		text, err := Text(FormatText, gbk)
		require.NoError(t, err)
		assert.Equal(t, "财务担保与保证金", text)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := Text(FormatUnknown, []byte("x"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = ReadLimited(strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}
