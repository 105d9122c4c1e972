// Package datasource opens the byte streams that source steps parse. A
// location is a local path or an http(s) URL, and a .gz, .zst or .lz4
// suffix on it selects a decompressor.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"kettle/internal/datasource/file"
	"kettle/internal/datasource/httpds"
)

// Source yields a fresh stream on every Open.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Compression names returned by CompressionOf.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// IsURL reports whether location is fetched over HTTP.
func IsURL(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Resolve returns the Source for location. client serves URLs; a nil client
// gets the httpds defaults.
func Resolve(location string, client *httpds.Client) Source {
	if IsURL(location) {
		if client == nil {
			client = httpds.NewClient(httpds.Config{})
		}
		return client.Source(location)
	}
	return file.NewLocal(location)
}

// Open resolves location and returns its decompressed stream.
func Open(ctx context.Context, location string, client *httpds.Client) (io.ReadCloser, error) {
	rc, err := Resolve(location, client).Open(ctx)
	if err != nil {
		return nil, err
	}
	return decompress(location, rc)
}

// CompressionOf picks the compression from the location suffix. The query
// string of a URL is ignored.
func CompressionOf(location string) string {
	p := location
	if IsURL(location) {
		if u, err := url.Parse(location); err == nil {
			p = u.Path
		}
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	}
	return CompressionNone
}

// stacked closes a decoder and the stream below it.
type stacked struct {
	io.Reader
	closers []func() error
}

func (s *stacked) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func decompress(location string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch CompressionOf(location) {
	case CompressionGzip:
		zr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("gzip %s: %w", location, err)
		}
		return &stacked{Reader: zr, closers: []func() error{zr.Close, rc.Close}}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("zstd %s: %w", location, err)
		}
		release := func() error { zr.Close(); return nil }
		return &stacked{Reader: zr, closers: []func() error{release, rc.Close}}, nil
	case CompressionLZ4:
		return &stacked{Reader: lz4.NewReader(rc), closers: []func() error{rc.Close}}, nil
	}
	return rc, nil
}
