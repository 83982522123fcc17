package safe

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressionOptions controls which blobs are stored zstd-compressed.
type CompressionOptions struct {
	// MinSize is the smallest blob worth compressing.
	MinSize int
	// Level is a zstd level, 1 (fastest) to 4 (best).
	Level int
	// SkipExtensions names already-compressed formats.
	SkipExtensions []string
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024,
		Level:   2,
		SkipExtensions: []string{
			".zip", ".gz", ".zst", ".xz", ".bz2", ".7z",
			".png", ".jpg", ".jpeg", ".gif", ".webp",
			".mp3", ".mp4", ".mkv", ".pdf",
		},
	}
}

// codec compresses blob payloads. EncodeAll and DecodeAll are safe for
// concurrent use, so one encoder and one decoder serve every caller.
type codec struct {
	minSize int
	skip    map[string]bool
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

func newCodec(opts CompressionOptions) (*codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	skip := make(map[string]bool, len(opts.SkipExtensions))
	for _, ext := range opts.SkipExtensions {
		skip[strings.ToLower(ext)] = true
	}
	return &codec{minSize: opts.MinSize, skip: skip, enc: enc, dec: dec}, nil
}

// worthCompressing is false for small blobs and known compressed formats.
func (c *codec) worthCompressing(path string, size int) bool {
	return size >= c.minSize && !c.skip[strings.ToLower(filepath.Ext(path))]
}

// encode returns the payload to persist and whether it is compressed.
// Blobs that do not shrink are stored raw.
func (c *codec) encode(path string, content []byte) ([]byte, bool) {
	if !c.worthCompressing(path, len(content)) {
		return content, false
	}
	out := c.enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	if len(out) >= len(content) {
		return content, false
	}
	return out, true
}

func (c *codec) decode(payload []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}
