// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ledgermesh/ledgermesh/artifact"
)

// CompressionTag identifies the compression algorithm used for a
// stored artifact. The tag is the first byte of every file in the
// disk store, so changing a value breaks on-disk compatibility.
type CompressionTag uint8

const (
	// CompressionNone stores artifact bytes as-is. Used for kinds
	// whose payloads are already high-entropy (signature shares).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 frame compression. Fast default for
	// bulk binary data; used for state-sync chunks where decode
	// throughput matters more than ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Better ratios
	// for the structured payloads of consensus and ingress
	// artifacts.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// compressionForKind maps artifact kinds to their at-rest compression.
func compressionForKind(kind artifact.Kind) CompressionTag {
	switch kind {
	case artifact.KindStateSync:
		return CompressionLZ4
	case artifact.KindCertification, artifact.KindDKG:
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// Shared zstd coders. EncodeAll/DecodeAll on these are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses payload under the given tag. For
// CompressionNone the input is returned unchanged (no copy).
func Compress(payload []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return payload, nil

	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil

	case CompressionZstd:
		return zstdEncoder.EncodeAll(payload, nil), nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress reverses Compress for the given tag.
func Decompress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		payload, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return payload, nil

	case CompressionZstd:
		payload, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
