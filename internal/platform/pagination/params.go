package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the caller omits page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size.
	MaxPageSize = 100
)

var (
	// ErrInvalidPageSize is returned for non-numeric or out-of-range sizes.
	ErrInvalidPageSize = errors.New("pagination: invalid page_size")
	// ErrInvalidPageToken is returned for tokens EncodeToken did not produce.
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params are the validated paging inputs of a list request.
type Params struct {
	PageSize  int
	PageToken string
}

// Options tune parsing for one endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses page_size and page_token from the query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Parse(nil, opts)
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates page_size and page_token. The token is checked for shape only.
func Parse(values url.Values, opts Options) (Params, error) {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	max := opts.MaxPageSize
	if max <= 0 {
		max = MaxPageSize
	}
	if def > max {
		def = max
	}

	params := Params{PageSize: def}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		if size > max {
			size = max
		}
		params.PageSize = size
	}

	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		if _, err := DecodeToken(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	return params, nil
}
