// Package responses classifies payment API responses and extracts fields
// from their bodies.
package responses

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"payments-e2e/client"
	"payments-e2e/logging"
)

const messageKey = `"message":"`

func IsSuccess(code int) bool     { return code >= 200 && code < 300 }
func IsClientError(code int) bool { return code >= 400 && code < 500 }
func IsServerError(code int) bool { return code >= 500 && code < 600 }

// ExtractErrorMessage returns the text of the first "message":"..." pair in
// body. It is a substring search, not a JSON parse: escaped quotes end the
// match early and whitespace around the colon defeats it. ok is false when
// no such pair is present.
func ExtractErrorMessage(body []byte) (msg string, ok bool) {
	s := string(body)
	start := strings.Index(s, messageKey)
	if start < 0 {
		return "", false
	}
	start += len(messageKey)
	end := strings.IndexByte(s[start:], '"')
	if end <= 0 {
		return "", false
	}
	return s[start : start+end], true
}

// IsResponseTimeAcceptable reports whether elapsed is within maxMs
// milliseconds.
func IsResponseTimeAcceptable(elapsed time.Duration, maxMs int64) bool {
	return elapsed <= time.Duration(maxMs)*time.Millisecond
}

// Log writes the details of resp at info level under name.
func Log(resp *client.RawResponse, name string) {
	if resp == nil {
		logging.Warn("No response to log", zap.String("test", name))
		return
	}
	logging.Info("Response details",
		zap.String("test", name),
		zap.Int("status", resp.StatusCode),
		zap.String("status_line", http.StatusText(resp.StatusCode)),
		zap.Any("headers", resp.Header),
		zap.ByteString("body", resp.Body),
		zap.Duration("elapsed", resp.Elapsed),
	)
}
