package httpds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"

	"salesetl/internal/datasource"
)

// IsURL reports whether loc is an http:// or https:// location.
func IsURL(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

// Object is one remote extract opened as a datasource.
type Object struct {
	client *Client
	url    string
}

var _ datasource.Source = (*Object)(nil)

// NewObject returns a source for rawURL read through c.
func NewObject(c *Client, rawURL string) *Object { return &Object{client: c, url: rawURL} }

// Open downloads the extract; the body streams into the pipeline.
func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := o.client.Get(ctx, o.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Name is the file name used for channel inference and run metadata.
func (o *Object) Name() string { return FileName(o.url) }

var nonWord = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// FileName derives a file name from a URL: the last path element when it
// has one, otherwise the cleaned query ("channel=online" → "channel_online"),
// otherwise a hash of the URL.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return urlHash(rawURL)
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		return base
	}
	if q := strings.Trim(nonWord.ReplaceAllString(u.RawQuery, "_"), "_"); q != "" {
		return q
	}
	return urlHash(rawURL)
}

func urlHash(rawURL string) string {
	return fmt.Sprintf("%016x.csv", xxh3.HashString(rawURL))
}
