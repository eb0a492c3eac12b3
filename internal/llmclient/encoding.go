package llmclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is advertised on every request. Setting it explicitly turns
// off net/http's transparent gzip handling, so decodeBody covers gzip too.
const acceptEncoding = "gzip, deflate, br"

// maxDecodedSize caps a response body, before and after decompression.
const maxDecodedSize = 32 << 20

// ErrResponseTooLarge is returned when a response body exceeds maxDecodedSize.
var ErrResponseTooLarge = errors.New("response too large")

// readLimited reads at most maxDecodedSize bytes and fails instead of truncating.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDecodedSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, maxDecodedSize)
	}
	return data, nil
}

// decodeBody undoes the response Content-Encoding. The body is returned
// unchanged when the encoding is unknown or the payload does not decode;
// callers then see the raw bytes and classify them as they would any other
// malformed reply. A payload that inflates past maxDecodedSize is an error.
func decodeBody(body []byte, contentEncoding string) ([]byte, error) {
	if len(body) == 0 || contentEncoding == "" {
		return body, nil
	}

	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))

	var reader io.Reader
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body, nil
		}
		defer zr.Close()
		reader = zr
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		reader = fr
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, nil
	}

	decoded, err := readLimited(reader)
	if errors.Is(err, ErrResponseTooLarge) {
		return nil, err
	}
	if err != nil {
		return body, nil
	}
	return decoded, nil
}
