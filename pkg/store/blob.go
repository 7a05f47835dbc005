// Package store implements forgecache's two node-local tiers: a byte-capacity
// bounded in-memory map and a durable one-file-per-key directory. Both tiers
// hold values in compressed form; compression and decompression happen at the
// tier boundary so callers only ever see raw bytes.
package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compress returns the zlib-compressed form of value. This is the only blob
// format the tiers and the durable files use.
func Compress(value []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := zlib.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress inflates a blob produced by Compress.
func Decompress(blob []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return value, nil
}
