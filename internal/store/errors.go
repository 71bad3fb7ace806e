package store

import "errors"

// maxContentLength bounds message content in bytes. The websocket read
// limit sits above it, so an over-length send reaches this check and is
// answered instead of dropping the connection.
const maxContentLength = 1024

var (
	ErrNotFound       = errors.New("not found")
	ErrContentEmpty   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

// validateContent gates AppendMessage before any row is written.
func validateContent(content string) error {
	if len(content) == 0 {
		return ErrContentEmpty
	}
	if len(content) > maxContentLength {
		return ErrContentTooLong
	}
	return nil
}
