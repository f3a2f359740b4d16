package protocol

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// encMode uses Core Deterministic Encoding so identical payloads always
// produce identical bytes.
var encMode cbor.EncMode

// decMode rejects unknown fields and duplicate keys; a payload that does not
// match the shape of its kind is malformed rather than silently defaulted.
var decMode cbor.DecMode

// Shared zstd state for compressed frames. Encoder and Decoder are safe for
// concurrent EncodeAll/DecodeAll use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

const maxDecompressedBytes = 64 << 20

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedBytes))
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

func marshalPayload(p Payload) ([]byte, error) {
	return encMode.Marshal(p)
}

// CBOR simple values null and undefined. Every payload is a map, so a body
// holding only one of these never matches its kind.
const (
	cborNull      = 0xf6
	cborUndefined = 0xf7
)

var errNullPayload = errors.New("null payload")

func unmarshalPayload(data []byte, v any) error {
	if len(data) == 1 && (data[0] == cborNull || data[0] == cborUndefined) {
		return errNullPayload
	}
	return decMode.Unmarshal(data, v)
}

func compress(src []byte) []byte {
	return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)))
}

func decompress(src []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, nil)
}
