package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sqaleshop/api/internal/platform/auth"
)

var errBodyTooLarge = errors.New("idempotency: request body too large")

// request identifies one guarded call: the client key scoped to its requester and a
// fingerprint of everything that makes two submissions the same submission.
type request struct {
	key         string
	requester   string
	fingerprint string
}

// describe buffers the body, restoring it for the handler.
func describe(r *http.Request, clientKey string, maxBody int64) (request, error) {
	var body []byte
	if r.Body != nil {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		data, err := io.ReadAll(reader)
		_ = r.Body.Close()
		if err != nil {
			return request{}, err
		}
		if maxBody > 0 && int64(len(data)) > maxBody {
			return request{}, errBodyTooLarge
		}
		body = data
		r.Body = io.NopCloser(bytes.NewReader(data))
	}

	requester := requesterOf(r)
	h := sha256.New()
	for _, part := range []string{
		strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, r.Host,
		r.Header.Get("Content-Type"), requester,
	} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(body)

	return request{
		key:         strings.TrimSpace(clientKey) + "|" + requester,
		requester:   requester,
		fingerprint: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// requesterOf prefers the authenticated principal and falls back to the storefront a
// public submission names, so two stores never share a key space.
func requesterOf(r *http.Request) string {
	ctx := r.Context()
	if id, ok := auth.IdentityFromContext(ctx); ok && id.UID != "" {
		return "uid:" + id.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	if v := strings.TrimSpace(r.Header.Get("store-id")); v != "" {
		return "store:" + v
	}
	if v := strings.TrimSpace(r.Header.Get("store-url")); v != "" {
		return "store-url:" + strings.ToLower(v)
	}
	return "anonymous"
}
