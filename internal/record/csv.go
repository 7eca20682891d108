package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// #region write
// WriteCSV writes a header row (features then label) followed by one row per record.
// Missing values are written as empty cells; floats use the shortest form that round-trips.
func WriteCSV(w io.Writer, d Dataset) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, d.Schema.Features...), d.Schema.Label)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(header))
	for i, r := range d.Records {
		if len(r.Values) != len(d.Schema.Features) {
			return fault.Dataf("record %d has %d values, schema has %d features", i, len(r.Values), len(d.Schema.Features))
		}
		for j, v := range r.Values {
			row[j] = formatValue(v)
		}
		row[len(row)-1] = strconv.Itoa(r.Label)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// #endregion write

// #region read
// ReadCSV parses a dataset written by WriteCSV. Columns are matched to the schema by name, so
// column order may differ, but the header must hold exactly the schema's fields.
func ReadCSV(r io.Reader, s Schema) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(s.Features) + 1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, fault.Dataf("csv has no header")
	}
	if err != nil {
		return Dataset{}, fault.Dataf("read header: %w", err)
	}

	pos, labelPos, err := mapHeader(header, s)
	if err != nil {
		return Dataset{}, err
	}

	d := Dataset{Schema: s}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fault.Dataf("read line %d: %w", line, err)
		}
		rec := Record{Values: make([]float64, len(s.Features))}
		for j, p := range pos {
			v, err := parseValue(row[p])
			if err != nil {
				return Dataset{}, fault.Dataf("line %d field %s: %w", line, s.Features[j], err)
			}
			rec.Values[j] = v
		}
		label, err := strconv.Atoi(strings.TrimSpace(row[labelPos]))
		if err != nil || (label != 0 && label != 1) {
			return Dataset{}, fault.Dataf("line %d label %q is not 0 or 1", line, row[labelPos])
		}
		rec.Label = label
		d.Records = append(d.Records, rec)
	}
	return d, nil
}

func mapHeader(header []string, s Schema) ([]int, int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := index[h]; dup {
			return nil, 0, fault.Dataf("duplicate column %q", h)
		}
		index[h] = i
	}
	pos := make([]int, len(s.Features))
	for j, f := range s.Features {
		p, ok := index[f]
		if !ok {
			return nil, 0, fault.Dataf("missing required field %q", f)
		}
		pos[j] = p
	}
	labelPos, ok := index[s.Label]
	if !ok {
		return nil, 0, fault.Dataf("missing label field %q", s.Label)
	}
	return pos, labelPos, nil
}

func parseValue(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("value %q is not finite", cell)
	}
	return v, nil
}

// #endregion read
