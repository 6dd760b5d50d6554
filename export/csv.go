package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jnesss/proc-enforcer/types"
)

// CSVHeader is written once at the top of an empty file.
const CSVHeader = "ts,kind,pid,uid,ppid,name,path,cpu,ram,reason"

// CSVWriter appends one row per event.
type CSVWriter struct {
	w      *bufio.Writer
	closer io.Closer
}

// OpenCSV opens path for appending, writing the header only when the file
// is empty.
func OpenCSV(path string) (*CSVWriter, error) {
	f, size, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	w, err := NewCSVWriter(f, size == 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewCSVWriter wraps w. The header is emitted immediately when writeHeader is set.
func NewCSVWriter(w io.Writer, writeHeader bool) (*CSVWriter, error) {
	cw := &CSVWriter{w: bufio.NewWriter(w)}
	if writeHeader {
		if _, err := cw.w.WriteString(CSVHeader + "\n"); err != nil {
			return nil, err
		}
		if err := cw.w.Flush(); err != nil {
			return nil, err
		}
	}
	return cw, nil
}

func (c *CSVWriter) Name() string { return "csv" }

// Write appends ev and flushes.
func (c *CSVWriter) Write(ev *types.Event) error {
	if _, err := c.w.WriteString(FormatCSV(ev) + "\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *CSVWriter) Close() error {
	err := c.w.Flush()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// FormatCSV renders ev as a CSV row without the trailing newline.
func FormatCSV(ev *types.Event) string {
	fields := [...]string{
		strconv.FormatUint(ev.TS, 10),
		ev.Kind,
		optUint(ev.PID),
		optUint(ev.UID),
		optUint(ev.PPID),
		optString(ev.Name),
		optString(ev.Path),
		optFloat(ev.CPU),
		optFloat(ev.RAM),
		optString(ev.Reason),
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeCSV(f))
	}
	return b.String()
}

// escapeCSV quotes a field containing a comma, quote or newline and doubles
// embedded quotes. Other fields are written as is.
func escapeCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func optUint(v *uint32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func optString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func openAppend(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}
