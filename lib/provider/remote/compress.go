// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression identifies how a bulk payload is encoded on the wire. The
// values are protocol constants shared by host and guest.
type Compression uint8

const (
	// CompressionNone sends bytes as they are.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression: cheap to decode, a good
	// default for file contents of unknown type.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level: better ratios for
	// text-like data such as directory listings.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses the configuration spelling of a compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// compressThreshold is the smallest payload worth compressing; below
// it the frame overhead eats any saving.
const compressThreshold = 512

var errIncompressible = errors.New("payload is incompressible")

// errDigestMismatch reports a payload whose BLAKE3 digest does not
// match the one the host computed.
var errDigestMismatch = errors.New("payload digest mismatch")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("remote: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("remote: zstd decoder initialization failed: " + err.Error())
	}
}

// payload is a bulk byte string in transit: file contents or an encoded
// directory listing. Digest covers the uncompressed bytes.
type payload struct {
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Digest      []byte      `cbor:"digest"`
	Bytes       []byte      `cbor:"bytes"`
}

// packPayload digests data and compresses it with the preferred
// algorithm, falling back to none when compression does not help.
func packPayload(data []byte, preferred Compression) (payload, error) {
	digest := blake3.Sum256(data)
	packed := payload{
		Compression: CompressionNone,
		Size:        len(data),
		Digest:      digest[:],
		Bytes:       data,
	}
	if preferred == CompressionNone || len(data) < compressThreshold {
		return packed, nil
	}

	var compressed []byte
	var err error
	switch preferred {
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return payload{}, fmt.Errorf("unsupported compression %s", preferred)
	}
	if errors.Is(err, errIncompressible) {
		return packed, nil
	}
	if err != nil {
		return payload{}, err
	}

	packed.Compression = preferred
	packed.Bytes = compressed
	return packed, nil
}

// unpack decompresses the payload and verifies its digest.
func (p payload) unpack() ([]byte, error) {
	var data []byte
	var err error
	switch p.Compression {
	case CompressionNone:
		if len(p.Bytes) != p.Size {
			return nil, fmt.Errorf("payload: size %d does not match expected %d", len(p.Bytes), p.Size)
		}
		data = p.Bytes
	case CompressionLZ4:
		data, err = decompressLZ4(p.Bytes, p.Size)
	case CompressionZstd:
		data, err = decompressZstd(p.Bytes, p.Size)
	default:
		return nil, fmt.Errorf("payload: unsupported compression %s", p.Compression)
	}
	if err != nil {
		return nil, err
	}

	digest := blake3.Sum256(data)
	if !bytes.Equal(digest[:], p.Digest) {
		return nil, errDigestMismatch
	}
	return data, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
