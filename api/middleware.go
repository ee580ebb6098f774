package api

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
)

var gzipReaders sync.Pool

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers
// see plain JSON. The decompressed stream is capped at maxBodySize+1 bytes so
// oversized payloads fail decoding instead of inflating without bound.
// Requests with invalid gzip payloads are rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := acquireGzipReader(body)
			if err != nil {
				_ = body.Close()
				return writeError(c, http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{
				Reader: io.LimitReader(gr, maxBodySize+1),
				gz:     gr,
				body:   body,
			}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func acquireGzipReader(r io.Reader) (*gzip.Reader, error) {
	if gr, ok := gzipReaders.Get().(*gzip.Reader); ok {
		if err := gr.Reset(r); err != nil {
			gzipReaders.Put(gr)
			return nil, err
		}
		return gr, nil
	}
	return gzip.NewReader(r)
}

func hasGzipEncoding(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		enc = strings.TrimSpace(enc)
		if strings.EqualFold(enc, "gzip") || strings.EqualFold(enc, "x-gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	io.Reader
	gz     *gzip.Reader
	body   io.Closer
	closed bool
}

func (g *gzipReadCloser) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	var err error
	if g.gz != nil {
		err = g.gz.Close()
		gzipReaders.Put(g.gz)
		g.gz = nil
	}
	if g.body != nil {
		if cerr := g.body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
