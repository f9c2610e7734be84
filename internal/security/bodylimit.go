// Package security holds HTTP hardening middleware for the tracking API.
package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/tracking-engine/internal/common"
)

// DefaultBodyLimit fits a maximum-size batch request with room to spare.
const DefaultBodyLimit int64 = 1 << 20

// BodyLimit rejects request bodies larger than Max bytes with 413. The body is
// buffered so handlers can decode it without a partial read.
type BodyLimit struct {
	Max int64
}

func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			tooLarge(w, b.Max)
			return
		}

		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.Max))
		_ = r.Body.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				tooLarge(w, b.Max)
				return
			}
			common.JSONError(w, http.StatusBadRequest, common.CodeInvalidBody, "request body could not be read", nil)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter, max int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge, "request body too large", map[string]int64{"maxBytes": max})
}
