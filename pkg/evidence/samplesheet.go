package evidence

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Samplesheet is a parsed Illumina samplesheet.
//
// Sectioned sheets ([Header], [Data], ...) keep the header key/value pairs and
// the data table. Sheets without sections are treated as a bare data table
// whose first row names the columns.
type Samplesheet struct {
	Header  map[string]string
	Columns []string
	Rows    [][]string
}

var errNoData = errors.New("samplesheet has no data section")

// ParseSamplesheet parses samplesheet bytes. Rows whose field count disagrees
// with the column header are rejected, as they indicate broken comma
// separation.
func ParseSamplesheet(b []byte) (*Samplesheet, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	ss := &Samplesheet{Header: map[string]string{}}
	sectioned := false
	section := ""
	var data [][]string

	for _, rec := range records {
		rec = trimTrailingEmpty(rec)
		if len(rec) == 0 {
			continue
		}
		first := strings.TrimSpace(rec[0])
		if strings.HasPrefix(first, "[") && strings.HasSuffix(first, "]") {
			sectioned = true
			section = strings.ToLower(strings.Trim(first, "[]"))
			continue
		}
		switch {
		case !sectioned, section == "data":
			data = append(data, rec)
		case section == "header":
			if len(rec) > 1 {
				ss.Header[first] = strings.TrimSpace(rec[1])
			} else {
				ss.Header[first] = ""
			}
		}
	}

	if len(data) == 0 {
		return nil, errNoData
	}
	ss.Columns = make([]string, len(data[0]))
	for i, c := range data[0] {
		ss.Columns[i] = strings.TrimSpace(c)
	}
	for i, rec := range data[1:] {
		if len(rec) > len(ss.Columns) {
			return nil, fmt.Errorf("data row %d has %d fields, header has %d", i+1, len(rec), len(ss.Columns))
		}
		row := make([]string, len(ss.Columns))
		for j := range rec {
			row[j] = strings.TrimSpace(rec[j])
		}
		ss.Rows = append(ss.Rows, row)
	}
	return ss, nil
}

// DescribesPlatformRun reports whether the header Description marks the run
// as a production or application run.
func (s *Samplesheet) DescribesPlatformRun() bool {
	desc, ok := s.Header["Description"]
	if !ok {
		return false
	}
	return strings.Contains(desc, "Production") || strings.Contains(desc, "Application")
}

// Column returns the index of the first column named one of names, or -1.
func (s *Samplesheet) Column(names ...string) int {
	for _, n := range names {
		for i, c := range s.Columns {
			if strings.EqualFold(c, n) {
				return i
			}
		}
	}
	return -1
}

func trimTrailingEmpty(rec []string) []string {
	end := len(rec)
	for end > 0 && strings.TrimSpace(rec[end-1]) == "" {
		end--
	}
	return rec[:end]
}

// ParseCSVTable reads a plain CSV table whose first row names the columns.
func ParseCSVTable(rd io.Reader) (*Samplesheet, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errNoData
	}
	ss := &Samplesheet{Header: map[string]string{}}
	for _, c := range records[0] {
		ss.Columns = append(ss.Columns, strings.TrimSpace(c))
	}
	for _, rec := range records[1:] {
		if len(trimTrailingEmpty(rec)) == 0 {
			continue
		}
		row := make([]string, len(ss.Columns))
		for j := range rec {
			if j < len(row) {
				row[j] = strings.TrimSpace(rec[j])
			}
		}
		ss.Rows = append(ss.Rows, row)
	}
	return ss, nil
}
