package export

import (
	"bufio"
	"encoding/json"
	"io"
	"math"
	"strconv"

	"github.com/jnesss/proc-enforcer/types"
)

// fixed2 marshals as a JSON number with exactly two decimals.
type fixed2 float64

func (f fixed2) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'f', 2, 64), nil
}

// jsonRecord fixes key order; nil pointers become null.
type jsonRecord struct {
	TS     uint64  `json:"ts"`
	Kind   string  `json:"kind"`
	PID    *uint32 `json:"pid"`
	UID    *uint32 `json:"uid"`
	PPID   *uint32 `json:"ppid"`
	Name   *string `json:"name"`
	Path   *string `json:"path"`
	CPU    *fixed2 `json:"cpu"`
	RAM    *fixed2 `json:"ram"`
	Reason *string `json:"reason"`
}

func toRecord(ev *types.Event) jsonRecord {
	return jsonRecord{
		TS:     ev.TS,
		Kind:   ev.Kind,
		PID:    ev.PID,
		UID:    ev.UID,
		PPID:   ev.PPID,
		Name:   ev.Name,
		Path:   ev.Path,
		CPU:    (*fixed2)(ev.CPU),
		RAM:    (*fixed2)(ev.RAM),
		Reason: ev.Reason,
	}
}

// JSONLWriter appends one JSON object per line.
type JSONLWriter struct {
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// OpenJSONL opens path for appending.
func OpenJSONL(path string) (*JSONLWriter, error) {
	f, _, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	w := NewJSONLWriter(f)
	w.closer = f
	return w, nil
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{w: bw, enc: enc}
}

func (j *JSONLWriter) Name() string { return "jsonl" }

// Write encodes ev as a single line and flushes.
func (j *JSONLWriter) Write(ev *types.Event) error {
	if err := j.enc.Encode(toRecord(ev)); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *JSONLWriter) Close() error {
	err := j.w.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
