package tagsync

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
)

// Wire format: [version:1][flags:1][armored payload]
//
// The transport mangles arbitrary byte sequences, so everything after the
// two header characters is base64 (raw URL alphabet, no padding). The
// header characters themselves are printable digits. Payloads bigger than
// compressThreshold get snappy-compressed before armoring; below that the
// snappy framing costs more than it saves.
const (
	wireVersion       = '1'
	flagCompressed    = 0x01
	compressThreshold = 100

	// MaxMessageLen is the transport's hard per-message ceiling.
	MaxMessageLen = 255
)

var (
	ErrEncodeNil    = errors.New("codec: cannot encode nil value")
	ErrEncodeEmpty  = errors.New("codec: serialization produced no bytes")
	ErrDecodeEmpty  = errors.New("codec: cannot decode empty input")
	ErrDecodeShort  = errors.New("codec: input shorter than envelope header")
	ErrBadVersion   = errors.New("codec: wire version mismatch")
	ErrBadFlags     = errors.New("codec: malformed flags byte")
	ErrArmor        = errors.New("codec: payload is not valid transport armoring")
	ErrDecompress   = errors.New("codec: decompression failed")
	ErrDeserialize  = errors.New("codec: deserialization failed")
	ErrEmptyPayload = errors.New("codec: envelope carries no payload")
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEnc = em

	// Wire maps decode as map[string]any so the protocol layer can
	// normalize keys without knowing the message type up front.
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any{}),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	cborDec = dm
}

var wireArmor = base64.RawURLEncoding

// Encode turns a structured value into a transport-safe wire string.
func Encode(v any) (string, error) {
	if v == nil {
		return "", ErrEncodeNil
	}

	raw, err := cborEnc.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: serialize: %w", err)
	}
	if len(raw) == 0 {
		return "", ErrEncodeEmpty
	}

	var flags byte
	if len(raw) > compressThreshold {
		raw = snappy.Encode(nil, raw)
		flags |= flagCompressed
	}

	armored := wireArmor.EncodeToString(raw)
	if armored == "" {
		return "", ErrEmptyPayload
	}

	return string([]byte{wireVersion, '0' + flags}) + armored, nil
}

// Decode reverses Encode. The result is a map[string]any for wire
// messages (CBOR maps), or the matching Go scalar/slice otherwise.
func Decode(wire string) (any, error) {
	if wire == "" {
		return nil, ErrDecodeEmpty
	}
	if len(wire) < 2 {
		return nil, ErrDecodeShort
	}
	if wire[0] != wireVersion {
		return nil, fmt.Errorf("%w: got %q want %q", ErrBadVersion, wire[0], byte(wireVersion))
	}

	flags := wire[1] - '0'
	if flags&^byte(flagCompressed) != 0 {
		return nil, ErrBadFlags
	}

	raw, err := wireArmor.DecodeString(wire[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArmor, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	if flags&flagCompressed != 0 {
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
	}

	var v any
	if err := cborDec.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return v, nil
}

// EstimateSize runs the encode pipeline and reports the wire length,
// so senders can pre-flight against MaxMessageLen before committing.
func EstimateSize(v any) (int, error) {
	wire, err := Encode(v)
	if err != nil {
		return 0, err
	}
	return len(wire), nil
}
