package processing

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxImageBytes caps how much of a remote image is read before the
// fetch is abandoned.
const maxImageBytes = 20 << 20

var imageClient = &http.Client{Timeout: 15 * time.Second}

// ImageData holds an image ready for a base64 content block.
type ImageData struct {
	MediaType string
	Data      string
}

// ProcessImageURL turns an image reference into base64 data. Data URIs
// are decoded in place; http(s) URLs are fetched with a bounded client.
func ProcessImageURL(url string) (*ImageData, error) {
	if strings.HasPrefix(url, "data:") {
		return parseDataURI(url)
	}
	return fetchRemoteImage(url)
}

// parseDataURI handles data:[<media type>][;base64],<data>. Only the
// base64 form is accepted since that is what image payloads use.
func parseDataURI(uri string) (*ImageData, error) {
	comma := strings.Index(uri, ",")
	if comma == -1 {
		return nil, fmt.Errorf("invalid data URI")
	}

	meta := strings.Split(uri[:comma], ";")
	mediaType := strings.TrimPrefix(meta[0], "data:")
	if mediaType == "" {
		mediaType = "text/plain"
	}

	base64Encoded := false
	for _, part := range meta[1:] {
		if part == "base64" {
			base64Encoded = true
			break
		}
	}
	if !base64Encoded {
		return nil, fmt.Errorf("only base64 data URIs are supported for images")
	}

	return &ImageData{MediaType: mediaType, Data: uri[comma+1:]}, nil
}

func fetchRemoteImage(url string) (*ImageData, error) {
	resp, err := imageClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	return &ImageData{
		MediaType: contentType,
		Data:      base64.StdEncoding.EncodeToString(body),
	}, nil
}
