// Package csvline encodes string tuples as single CSV records and decodes
// them back byte for byte.
//
// encoding/csv is not used because its reader rewrites "\r\n" inside quoted
// fields to "\n", which breaks exact round trips of process output.
package csvline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrBareQuote is returned when a quote appears inside an unquoted field
	// or is followed by something other than a delimiter after a quoted field.
	ErrBareQuote = errors.New("bare quote in field")
	// ErrUnterminatedQuote is returned when input ends inside a quoted field.
	ErrUnterminatedQuote = errors.New("unterminated quoted field")
)

const (
	delimiter  = ','
	quote      = '"'
	terminator = '\n'
)

// Encode joins values into one CSV record without a trailing terminator.
// Fields holding a delimiter, quote, line break or edge whitespace are quoted
// and embedded quotes are doubled.
func Encode(values []string) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(delimiter)
		}
		if !needsQuotes(v) {
			b.WriteString(v)
			continue
		}
		b.WriteByte(quote)
		b.WriteString(strings.ReplaceAll(v, `"`, `""`))
		b.WriteByte(quote)
	}
	return b.String()
}

func needsQuotes(v string) bool {
	if v == "" {
		return false
	}
	if strings.ContainsAny(v, ",\"\r\n") {
		return true
	}
	first, last := v[0], v[len(v)-1]
	return isSpace(first) || isSpace(last)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// Reader decodes records produced by Encode, one per call to Read.
type Reader struct {
	r    *bufio.Reader
	line int
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), line: 1}
}

// Read returns the next record. It returns io.EOF when the input is exhausted
// cleanly. A final record without a terminator is still returned.
func (r *Reader) Read() ([]string, error) {
	if _, err := r.r.Peek(1); err != nil {
		return nil, err
	}

	start := r.line
	var fields []string
	for {
		field, end, err := r.readField()
		if err != nil {
			return nil, fmt.Errorf("record at line %d: %w", start, err)
		}
		fields = append(fields, field)
		if end {
			return fields, nil
		}
	}
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([][]string, error) {
	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// readField reads one field and reports whether it ended the record.
func (r *Reader) readField() (string, bool, error) {
	c, err := r.r.ReadByte()
	if err == io.EOF {
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	if c == quote {
		return r.readQuoted()
	}
	_ = r.r.UnreadByte()
	return r.readUnquoted()
}

func (r *Reader) readUnquoted() (string, bool, error) {
	var b strings.Builder
	for {
		c, err := r.r.ReadByte()
		if err == io.EOF {
			return b.String(), true, nil
		}
		if err != nil {
			return "", false, err
		}
		switch c {
		case delimiter:
			return b.String(), false, nil
		case terminator:
			r.line++
			return strings.TrimSuffix(b.String(), "\r"), true, nil
		case quote:
			return "", false, ErrBareQuote
		default:
			b.WriteByte(c)
		}
	}
}

func (r *Reader) readQuoted() (string, bool, error) {
	var b strings.Builder
	for {
		c, err := r.r.ReadByte()
		if err == io.EOF {
			return "", false, ErrUnterminatedQuote
		}
		if err != nil {
			return "", false, err
		}
		if c == terminator {
			r.line++
		}
		if c != quote {
			b.WriteByte(c)
			continue
		}

		next, err := r.r.ReadByte()
		if err == io.EOF {
			return b.String(), true, nil
		}
		if err != nil {
			return "", false, err
		}
		switch next {
		case quote:
			b.WriteByte(quote)
		case delimiter:
			return b.String(), false, nil
		case terminator:
			r.line++
			return b.String(), true, nil
		case '\r':
			if after, err := r.r.ReadByte(); err == nil && after == terminator {
				r.line++
				return b.String(), true, nil
			}
			return "", false, ErrBareQuote
		default:
			return "", false, ErrBareQuote
		}
	}
}
