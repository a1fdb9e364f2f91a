package table

import (
	"fmt"
	"strings"
)

// tagOrder fixes the order info sidecar rows are emitted in, so identical
// tables always serialize to byte-identical text (required for header
// interning: "identical text yields identical hash", spec §3).
var tagOrder = []string{TagKey, TagType, TagInfo, TagName, TagMax}

// ruler separates the info sidecar from the column header line (spec §6).
const ruler = "--"

// HeaderText renders the column header line plus its info sidecar, the
// text that is hashed and interned by the header dictionary (spec §4.2.6).
// It never includes row data.
func (t *Table) HeaderText() string {
	var b strings.Builder
	for _, tag := range tagOrder {
		line := sidecarLine(t, tag)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(ruler)
	b.WriteByte('\n')
	b.WriteString(strings.Join(t.Columns, "\t"))
	return b.String()
}

func sidecarLine(t *Table, tag string) string {
	var toks []string
	for _, c := range t.Columns {
		v, ok := t.Info[InfoKey{tag, c}]
		if !ok || v == "" {
			continue
		}
		toks = append(toks, c+"="+v)
	}
	if len(toks) == 0 {
		return ""
	}
	return tag + "\t" + strings.Join(toks, "\t")
}

// ParseHeaderText parses text produced by HeaderText back into a column
// list and info sidecar.
func ParseHeaderText(text string) ([]string, map[InfoKey]string, error) {
	lines := strings.Split(text, "\n")
	info := make(map[InfoKey]string)
	i := 0
	for ; i < len(lines); i++ {
		if lines[i] == ruler {
			break
		}
		if lines[i] == "" {
			continue
		}
		fields := strings.Split(lines[i], "\t")
		if len(fields) < 2 {
			return nil, nil, fmt.Errorf("table: malformed info sidecar line %q", lines[i])
		}
		tag := fields[0]
		for _, tok := range fields[1:] {
			col, val, ok := strings.Cut(tok, "=")
			if !ok {
				return nil, nil, fmt.Errorf("table: malformed info token %q", tok)
			}
			info[InfoKey{tag, col}] = val
		}
	}
	if i >= len(lines) {
		return nil, nil, fmt.Errorf("table: missing ruler line %q in header text", ruler)
	}
	i++ // skip ruler
	var columns []string
	if i < len(lines) && lines[i] != "" {
		columns = strings.Split(lines[i], "\t")
	}
	return columns, info, nil
}

// EncodeBody renders the row body alone (no header, no info), one row per
// line, cells tab-separated — the form persisted as a data block's
// "rowbody" (spec §6: `rd<ring_id>_<seq>` = `time|hd_hash|rowbody`).
func (t *Table) EncodeBody() []byte {
	if len(t.Rows) == 0 {
		return nil
	}
	var b strings.Builder
	for i, row := range t.Rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(row, "\t"))
	}
	return []byte(b.String())
}

// ParseBody reconstructs row data from an encoded body given the already
// known column list.
func ParseBody(columns []string, body []byte) [][]string {
	s := string(body)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	rows := make([][]string, len(lines))
	for i, line := range lines {
		cells := strings.Split(line, "\t")
		row := make([]string, len(columns))
		copy(row, cells)
		rows[i] = row
	}
	return rows
}

// Encode renders the full external wire format: info sidecar, ruler, header
// line, then the row body — the format used at URL-addressed sinks/sources
// (spec §6) and as the aggregation operator's input/output representation.
func (t *Table) Encode() []byte {
	var b strings.Builder
	b.WriteString(t.HeaderText())
	if len(t.Rows) > 0 {
		b.WriteByte('\n')
		b.Write(t.EncodeBody())
	}
	return []byte(b.String())
}

// Decode parses the full external wire format produced by Encode.
func Decode(data []byte) (*Table, error) {
	s := string(data)
	headerEnd := strings.Index(s, ruler+"\n")
	var header, body string
	if headerEnd < 0 {
		// no ruler line followed by a newline: the whole text is treated
		// as header.
		header = s
	} else {
		rest := s[headerEnd+len(ruler)+1:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			// no rows: the text is header-only, with no trailing newline
			// after the column line.
			header = s
		} else {
			header = s[:headerEnd+len(ruler)+1+nl]
			body = rest[nl+1:]
		}
	}
	columns, info, err := ParseHeaderText(header)
	if err != nil {
		return nil, err
	}
	t := &Table{Columns: columns, Info: info}
	if body != "" {
		t.Rows = ParseBody(columns, []byte(body))
	}
	return t, nil
}
