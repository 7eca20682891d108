// Package record holds labeled tabular datasets and their CSV encoding.
package record

import (
	"math"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

// #region schema
// Schema names the feature fields, in order, and the binary label field.
type Schema struct {
	Features []string `json:"features"`
	Label    string   `json:"label"`
}

// BrakeSchema returns the brake sensor schema shared by every stage.
func BrakeSchema() Schema {
	return Schema{
		Features: []string{
			"speed",
			"pressure",
			"temperature",
			"brake_pad_thickness",
			"vibration",
			"fluid_level",
			"wheel_speed_diff",
		},
		Label: "brake_failed",
	}
}

// Index returns the position of a feature, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Features {
		if f == name {
			return i
		}
	}
	return -1
}

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if s.Label != o.Label || len(s.Features) != len(o.Features) {
		return false
	}
	for i := range s.Features {
		if s.Features[i] != o.Features[i] {
			return false
		}
	}
	return true
}

// #endregion schema

// #region record
// Record is one observation. Values follow Schema.Features order; NaN marks a missing value.
type Record struct {
	Values []float64
	Label  int
}

// #endregion record

// #region dataset
// Dataset is an ordered collection of records sharing one schema.
type Dataset struct {
	Schema  Schema
	Records []Record
}

// Len returns the number of records.
func (d Dataset) Len() int {
	return len(d.Records)
}

// Labels returns a fresh slice of labels in record order.
func (d Dataset) Labels() []int {
	out := make([]int, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Label
	}
	return out
}

// Matrix returns the feature values as rows. Rows alias the records' storage and must not be written.
func (d Dataset) Matrix() [][]float64 {
	out := make([][]float64, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Values
	}
	return out
}

// Column returns a copy of one feature column.
func (d Dataset) Column(j int) []float64 {
	out := make([]float64, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Values[j]
	}
	return out
}

// Subset returns the records at idx, in idx order, sharing value storage.
func (d Dataset) Subset(idx []int) Dataset {
	recs := make([]Record, len(idx))
	for i, j := range idx {
		recs[i] = d.Records[j]
	}
	return Dataset{Schema: d.Schema, Records: recs}
}

// Validate checks record width and label domain.
func (d Dataset) Validate() error {
	if len(d.Schema.Features) == 0 {
		return fault.Dataf("schema has no features")
	}
	for i, r := range d.Records {
		if len(r.Values) != len(d.Schema.Features) {
			return fault.Dataf("record %d has %d values, schema has %d features", i, len(r.Values), len(d.Schema.Features))
		}
		if r.Label != 0 && r.Label != 1 {
			return fault.Dataf("record %d label %d is not binary", i, r.Label)
		}
		for j, v := range r.Values {
			if math.IsInf(v, 0) {
				return fault.Dataf("record %d field %s is infinite", i, d.Schema.Features[j])
			}
		}
	}
	return nil
}

// Classes returns the distinct labels present and their counts, indexed by label.
func (d Dataset) Classes() (distinct int, counts [2]int) {
	for _, r := range d.Records {
		counts[r.Label]++
	}
	for _, c := range counts {
		if c > 0 {
			distinct++
		}
	}
	return distinct, counts
}

// #endregion dataset
