// Package output encodes chunk stdout/stderr text into the cache file format
// and decodes it back.
//
// Each record is one CSV line: the numeric stream tag followed by the text,
// "1" for stdout and "2" for stderr.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/zjrosen/chunkrun/internal/csvline"
	"github.com/zjrosen/chunkrun/internal/log"
)

// ErrMalformedRecord is returned when a cache line is not a valid record.
var ErrMalformedRecord = errors.New("malformed output record")

// Kind identifies the stream a record came from.
type Kind int

const (
	Stdout Kind = 1
	Stderr Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known stream tag.
func (k Kind) Valid() bool {
	return k == Stdout || k == Stderr
}

// Record is one decoded cache line.
type Record struct {
	Kind Kind
	Text string
}

// Encode renders r as a single terminated cache line.
func Encode(r Record) string {
	return csvline.Encode([]string{strconv.Itoa(int(r.Kind)), r.Text}) + "\n"
}

// Append writes r to the file at path, creating it if needed.
// The file is opened and closed on every call.
func Append(path string, r Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path comes from the resolver
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	_, werr := io.WriteString(f, Encode(r))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write %s: %w", path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", path, cerr)
	}

	log.Debug(log.CatOutput, "Appended record", "path", path, "kind", r.Kind, "bytes", len(r.Text))
	return nil
}

// Decode reads every record from r.
func Decode(r io.Reader) ([]Record, error) {
	cr := csvline.NewReader(r)
	var out []Record
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		rec, err := recordFromFields(fields)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// NewDecoder returns a streaming decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: csvline.NewReader(r)}
}

// Decoder reads records one at a time.
type Decoder struct {
	r *csvline.Reader
}

// Next returns the next record or io.EOF.
func (d *Decoder) Next() (Record, error) {
	fields, err := d.r.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	return recordFromFields(fields)
}

// ReadFile decodes the cache file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the resolver
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

func recordFromFields(fields []string) (Record, error) {
	if len(fields) != 2 {
		return Record{}, fmt.Errorf("%w: want 2 fields, got %d", ErrMalformedRecord, len(fields))
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil || !Kind(tag).Valid() {
		return Record{}, fmt.Errorf("%w: unknown stream tag %q", ErrMalformedRecord, fields[0])
	}
	return Record{Kind: Kind(tag), Text: fields[1]}, nil
}
