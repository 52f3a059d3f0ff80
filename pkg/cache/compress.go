package cache

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"io"
)

// deflate reversibly compresses text for storage: zlib then base64.
func deflate(text string) string {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		w.Close()
		return text
	}
	if err := w.Close(); err != nil {
		return text
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// inflate reverses deflate. Values that do not decode are returned as-is so
// uncompressed legacy entries keep working.
func inflate(text string) string {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return text
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return text
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return text
	}
	return string(out)
}
