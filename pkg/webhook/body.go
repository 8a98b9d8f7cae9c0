package webhook

import (
	"errors"
	"io"
	"net/http"
)

// DefaultMaxBodySize bounds webhook bodies at 1 MiB.
const DefaultMaxBodySize int64 = 1 << 20

// ReadBody reads the raw request body, refusing bodies above limit bytes.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, ErrEmptyPayload
	}
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrPayloadTooLarge
	}
	if len(body) == 0 {
		return nil, errors.Join(ErrEmptyPayload, io.ErrUnexpectedEOF)
	}
	return body, nil
}
