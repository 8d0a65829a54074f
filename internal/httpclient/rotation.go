package httpclient

import (
	"bytes"
	"errors"
)

var quotaMarkers = [][]byte{
	[]byte("insufficient_quota"),
	[]byte("insufficient quota"),
	[]byte("quota_exceeded"),
	[]byte("quota exceeded"),
	[]byte("billing"),
}

// RotationTrigger reports whether an upstream failure should rotate the
// provider credential and retry. Auth failures (401, 403) and rate
// limits (429) always rotate; other 4xx responses rotate only when the
// body signals an exhausted quota.
func RotationTrigger(err error) bool {
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		return false
	}

	switch upstream.StatusCode {
	case 401, 403, 429:
		return true
	}

	if upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
		lower := bytes.ToLower(upstream.Body)
		for _, marker := range quotaMarkers {
			if bytes.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}
