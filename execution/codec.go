package execution

import (
	"github.com/klauspost/compress/zstd"
)

// stateEncoder/stateDecoder are package-level, reused across every
// SaveState/RestoreState byte round-trip, the same singleton-codec
// shape compr/compression.go uses for its own zstd encoder/decoder
// pair (EncodeAll/DecodeAll rather than a streaming Writer/Reader,
// since a saved-state blob is always handled as one in-memory value).
var (
	stateEncoder *zstd.Encoder
	stateDecoder *zstd.Decoder
)

func init() {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	stateEncoder = enc

	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	stateDecoder = dec
}

func compressState(raw []byte) []byte {
	return stateEncoder.EncodeAll(raw, nil)
}

func decompressState(data []byte) ([]byte, error) {
	return stateDecoder.DecodeAll(data, nil)
}
