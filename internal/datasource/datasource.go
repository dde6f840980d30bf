// Package datasource defines where sales extracts are read from.
package datasource

import (
	"context"
	"io"
)

// Source opens one extract for reading.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name is the file name used for channel inference and run metadata.
	Name() string
}
