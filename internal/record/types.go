// Package record defines the data types that flow through a parabuild sweep:
// the schemaless input DataRecord, the jobs derived from it, and the three
// output record kinds (result, compile error, unprocessed).
package record

import (
	"encoding/json"
	"strconv"
)

// DataRecord is one schemaless JSON object from the user's input list. It is
// used both as template variables (by key lookup) and echoed verbatim into
// results, so it is kept as a raw map rather than unmarshalled into a
// concrete struct.
type DataRecord map[string]interface{}

// Clone returns a shallow copy of the record, safe to hand to a renderer or
// script executor without aliasing the original map.
func (d DataRecord) Clone() DataRecord {
	out := make(DataRecord, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String renders a value for use as a CPPFLAGS -D value or template fallback.
// JSON numbers decode to float64; integral floats are printed without a
// trailing ".0" so "-DN=10" rather than "-DN=10.0" is emitted.
func String(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// BuildJob pairs one DataRecord with its position in the original input
// list. source_index is carried through every downstream record so the
// original input order can always be reconstructed (Invariant 4).
type BuildJob struct {
	Data        DataRecord `json:"data"`
	SourceIndex int        `json:"source_index"`
}

// RunJob is emitted by a build worker when compilation succeeds, once its
// target files have already been staged (moved out of the build slot that
// produced them). A run worker only needs the source index to find them.
type RunJob struct {
	Data        DataRecord `json:"data"`
	SourceIndex int        `json:"source_index"`
}

// ResultRecord is the outcome of successfully running one data point.
type ResultRecord struct {
	Data        DataRecord `json:"data"`
	SourceIndex int        `json:"source_index"`
	Status      int        `json:"status"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
}

// CompileErrorRecord is the outcome of a data point whose build (including
// template rendering, optional schema validation, and the compile script)
// failed.
type CompileErrorRecord struct {
	Data        DataRecord `json:"data"`
	SourceIndex int        `json:"source_index"`
	Status      int        `json:"status"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
}

// UnprocessedRecord is the bare DataRecord for an input that had not yet
// completed (neither a result nor a compile error) at the moment a snapshot
// or the final output was produced.
type UnprocessedRecord = DataRecord
