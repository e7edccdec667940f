package tagsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripSmall(t *testing.T) {
	msg := map[string]any{"t": "m", "bt": "Nomi#1234", "at": int64(100)}

	wire, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, byte(wireVersion), wire[0])
	assert.Equal(t, byte('0'), wire[1], "small payload must not be compressed")

	decoded, err := Decode(wire)
	require.NoError(t, err)
	m, ok := decoded.(map[string]any)
	require.True(t, ok, "wire maps decode as map[string]any")
	assert.Equal(t, "m", m["t"])
	assert.Equal(t, "Nomi#1234", m["bt"])
	assert.EqualValues(t, 100, m["at"])
}

func TestEncodeDecodeRoundTripCompressed(t *testing.T) {
	// Repetitive payload well past the compression threshold.
	big := map[string]any{
		"t":  "cu",
		"an": strings.Repeat("all work and no play ", 20),
	}

	wire, err := Encode(big)
	require.NoError(t, err)
	assert.Equal(t, byte('1'), wire[1], "large payload must take the compressed path")

	decoded, err := Decode(wire)
	require.NoError(t, err)
	m := decoded.(map[string]any)
	assert.Equal(t, big["an"], m["an"])
}

func TestEncodeWireIsTransportSafe(t *testing.T) {
	wire, err := Encode(map[string]any{"bt": "Zul#9999", "cs": []any{map[string]any{"n": "Zulgar", "r": "Proudmoore"}}})
	require.NoError(t, err)
	for i := 0; i < len(wire); i++ {
		c := wire[i]
		assert.True(t, c >= '-' && c <= 'z', "byte %d (%q) is outside the safe alphabet", i, c)
	}
}

func TestEncodeNil(t *testing.T) {
	_, err := Encode(nil)
	assert.ErrorIs(t, err, ErrEncodeNil)
}

func TestDecodeFailuresAreDistinct(t *testing.T) {
	_, err := Decode("")
	assert.ErrorIs(t, err, ErrDecodeEmpty)

	_, err = Decode("1")
	assert.ErrorIs(t, err, ErrDecodeShort)

	wire, err := Encode(map[string]any{"t": "m"})
	require.NoError(t, err)

	// Version skew is a hard failure, no best-effort parsing.
	_, err = Decode("9" + wire[1:])
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = Decode(string(wire[0]) + "7" + wire[2:])
	assert.ErrorIs(t, err, ErrBadFlags)

	_, err = Decode(wire[:2] + "!!!not-base64!!!")
	assert.ErrorIs(t, err, ErrArmor)

	// Claim compression over an uncompressed payload.
	_, err = Decode(wire[:1] + "1" + wire[2:])
	assert.ErrorIs(t, err, ErrDecompress)

	// A complete header with nothing after it is a missing payload,
	// not a short envelope.
	_, err = Decode(wire[:2])
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	wire, err := Encode(map[string]any{"t": "m", "bt": "Nomi#1234", "an": "Foo"})
	require.NoError(t, err)

	_, err = Decode(wire[:len(wire)-6])
	assert.Error(t, err)
}

func TestEstimateSize(t *testing.T) {
	msg := map[string]any{"t": "m", "bt": "Nomi#1234"}
	size, err := EstimateSize(msg)
	require.NoError(t, err)

	wire, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, len(wire), size)
}
