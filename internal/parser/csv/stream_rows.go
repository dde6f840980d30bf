// Package csv streams sales CSV extracts into header-keyed raw rows.
//
// Values are passed through untouched (no trimming, no type coercion); the
// transformer owns all normalization. Memory stays bounded: records are read
// one at a time and handed to the caller over a channel.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"salesetl/internal/config"
	"salesetl/internal/schema"
)

// Options configures the reader. The zero value reads comma-separated input
// with strict quoting.
type Options struct {
	// Comma is the field delimiter; 0 means ','.
	Comma rune
	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool
}

// OptionsFrom reads parser.options: comma (string, first rune) and
// lazy_quotes (bool, default true; real-world exports are sloppy).
func OptionsFrom(o config.Options) Options {
	return Options{
		Comma:      o.Rune("comma", ','),
		LazyQuotes: o.Bool("lazy_quotes", true),
	}
}

// Row is one data record with the 1-based line number it started on. Err is
// set instead of Fields for records that failed to parse.
type Row struct {
	Line   int
	Fields schema.RawRow
	Err    error
}

// Reader yields RawRows keyed by the file's header line.
type Reader struct {
	cr     *csv.Reader
	header []string
}

// NewReader reads the header line of r. Empty input yields a Reader with no
// header whose Next returns io.EOF immediately.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1 // short/long rows are judged by the validator

	rd := &Reader{cr: cr}
	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return rd, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	hdr = StripHeaderBOM(append([]string(nil), hdr...))
	for i, h := range hdr {
		if strings.TrimSpace(h) == "" {
			hdr[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	rd.header = hdr
	return rd, nil
}

// Header returns the header cells as read (BOM stripped).
func (r *Reader) Header() []string { return r.header }

// Next returns the next record. Cells beyond the header width are dropped;
// missing trailing cells are absent from the row. A *csv.ParseError is
// recoverable: the caller may keep calling Next.
func (r *Reader) Next() (Row, error) {
	if r.header == nil {
		return Row{}, io.EOF
	}
	rec, err := r.cr.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return Row{Line: pe.StartLine}, err
		}
		return Row{}, err
	}
	line, _ := r.cr.FieldPos(0)

	fields := make(schema.RawRow, len(r.header))
	for i, v := range rec {
		if i >= len(r.header) {
			break
		}
		fields[r.header[i]] = v
	}
	return Row{Line: line, Fields: fields}, nil
}

// StreamRawRows reads every record from r and sends it to out. Parse errors
// are soft: they are reported via onErr(line, err) and the stream continues.
// It returns nil on EOF and the context error on cancellation. The caller
// closes out.
func StreamRawRows(ctx context.Context, r *Reader, out chan<- Row, onErr func(line int, err error)) error {
	const logEveryN = 50_000
	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return fmt.Errorf("csv read: %w", err)
			}
			if onErr != nil {
				onErr(row.Line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		select {
		case out <- row:
			emitted++
			if emitted%logEveryN == 0 {
				log.Printf("reader: line=%d emitted=%d", row.Line, emitted)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
