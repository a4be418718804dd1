// Package sitemap writes and reads sitemap protocol documents and their
// tabular equivalents.
package sitemap

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Namespace is the sitemap protocol XML namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Format is an output serialization.
type Format string

const (
	FormatXML  Format = "xml"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a user supplied format name. Empty means XML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatXML, nil
	case FormatXML, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported sitemap format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/xml; charset=utf-8"
	}
}

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	Xmlns   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Loc string `xml:"loc"`
}

// Emit writes urls in the given format, ordered lexicographically. The
// caller's slice is not modified.
func Emit(w io.Writer, urls []string, format Format) error {
	sorted := make([]string, len(urls))
	copy(sorted, urls)
	sort.Strings(sorted)

	switch format {
	case FormatXML, "":
		return emitXML(w, sorted)
	case FormatCSV:
		return emitCSV(w, sorted)
	case FormatXLSX:
		return emitXLSX(w, sorted)
	default:
		return fmt.Errorf("unsupported sitemap format %q", format)
	}
}

func emitXML(w io.Writer, urls []string) error {
	doc := urlSet{Xmlns: Namespace, URLs: make([]urlEntry, len(urls))}
	for i, u := range urls {
		doc.URLs[i] = urlEntry{Loc: u}
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode urlset: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode urlset: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func emitCSV(w io.Writer, urls []string) error {
	cw := csv.NewWriter(w)
	for _, u := range urls {
		if err := cw.Write([]string{u}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func emitXLSX(w io.Writer, urls []string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, u := range urls {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, u); err != nil {
			return fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
