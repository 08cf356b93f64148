package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Captured output is stored zstd-compressed. EncodeAll and DecodeAll are
// safe for concurrent use on a shared encoder and decoder.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func compressText(s string) []byte {
	if s == "" {
		return nil
	}
	return encoder.EncodeAll([]byte(s), nil)
}

func decompressText(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return "", fmt.Errorf("decompress output: %w", err)
	}
	return string(out), nil
}
