package idempotency

import (
	"bytes"
	"net/http"
)

// capture holds the handler's response so it can be stored before the client sees it.
type capture struct {
	dst    http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture(dst http.ResponseWriter) *capture {
	return &capture{dst: dst, header: http.Header{}}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	c.WriteHeader(http.StatusOK)
	return c.body.Write(p)
}

func (c *capture) response() Response {
	resp := Response{Status: c.status, Headers: c.header.Clone()}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	if c.body.Len() > 0 {
		resp.Body = bytes.Clone(c.body.Bytes())
	}
	return resp
}

func (c *capture) commit() error {
	header := c.dst.Header()
	clear(header)
	for name, values := range c.header {
		header[name] = values
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	c.dst.WriteHeader(status)
	if c.body.Len() == 0 {
		return nil
	}
	_, err := c.dst.Write(c.body.Bytes())
	return err
}
