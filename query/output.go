package query

import (
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/outbackcdx/cdxserver/record"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func resolveFields(requested []string) []string {
	if len(requested) == 0 {
		return record.DefaultFields
	}
	return requested
}

// WriteCDX renders captures as the legacy space-delimited text format
// (spec §4.4 output=cdx): one line per capture, fields in fl order,
// missing values rendered as "-". The header line is optional; ingest
// parsers recognize and skip it.
func WriteCDX(w io.Writer, fields []string, header bool, captures []*record.Capture) error {
	fields = resolveFields(fields)
	if header {
		if _, err := fmt.Fprintf(w, " CDX %s\n", strings.Join(fields, " ")); err != nil {
			return err
		}
	}
	row := make([]string, len(fields))
	for _, c := range captures {
		for i, f := range fields {
			v, ok := c.Field(f)
			if !ok || v == "" {
				v = "-"
			}
			row[i] = v
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, " ")); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON renders captures as an array of arrays, the first being the
// field-name header (spec §4.4 output=json).
func WriteJSON(w io.Writer, fields []string, captures []*record.Capture) error {
	fields = resolveFields(fields)
	rows := make([][]string, 0, len(captures)+1)
	rows = append(rows, fields)
	for _, c := range captures {
		row := make([]string, len(fields))
		for i, f := range fields {
			v, _ := c.Field(f)
			row[i] = v
		}
		rows = append(rows, row)
	}
	enc := jsonAPI.NewEncoder(w)
	return enc.Encode(rows)
}

// WriteXML renders a minimal, field-name-tagged XML document. It is the
// compatibility shim for the legacy q= parameter (spec §4.4): a simple
// map of the cdx fields over a different wire grammar, not a first-class
// output format, and is not optimized.
func WriteXML(w io.Writer, fields []string, captures []*record.Capture) error {
	fields = resolveFields(fields)
	if _, err := io.WriteString(w, "<xml>\n"); err != nil {
		return err
	}
	for _, c := range captures {
		if _, err := io.WriteString(w, "  <result>\n"); err != nil {
			return err
		}
		for _, f := range fields {
			v, _ := c.Field(f)
			if _, err := fmt.Fprintf(w, "    <%s>%s</%s>\n", f, xmlEscape(v), f); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "  </result>\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</xml>\n")
	return err
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
