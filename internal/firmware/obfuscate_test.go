package firmware

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashgate/internal/device"
)

func TestObfuscateIsInvolution(t *testing.T) {
	id, err := device.Parse("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	images := [][]byte{
		{},
		{0x00},
		{0xE9, 0x00, 0xFF, 0x41},
		bytes.Repeat([]byte{0x5A}, 1000),
	}
	for _, original := range images {
		image := append([]byte{}, original...)
		Obfuscate(image, id)
		Obfuscate(image, id)
		assert.Equal(t, original, image)
	}
}

func TestObfuscateKeyStream(t *testing.T) {
	id, err := device.Parse("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	key := ObfuscationKey(id)
	assert.Equal(t, []byte("AABBCCDDEEFFAABBCCDDEEFF"), key, "key period is twice the compact id length")

	// XOR of a zero image exposes the repeating key stream.
	image := make([]byte, len(key)*2)
	Obfuscate(image, id)
	assert.Equal(t, append(key, key...), image)
}

func TestPersonalizeReplacesPlaceholder(t *testing.T) {
	id, err := device.Parse("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	image := append([]byte{0xE9, 0x01, 0x02}, []byte("xxMACBIND:000000000000yy")...)
	out := Personalize(image, id)
	assert.Contains(t, string(out), "MACBIND:AABBCCDDEEFF")
	assert.NotContains(t, string(out), "MACBIND:000000000000")
	// Surrounding bytes untouched.
	assert.Equal(t, byte(0xE9), out[0])
	assert.Equal(t, byte('y'), out[len(out)-1])
}

func TestPersonalizeOnlyFirstOccurrence(t *testing.T) {
	id, _ := device.Parse("AA:BB:CC:DD:EE:FF")
	image := []byte("MACBIND:000000000000--MACBIND:000000000000")
	out := Personalize(image, id)
	assert.Equal(t, "MACBIND:AABBCCDDEEFF--MACBIND:000000000000", string(out))
}

func TestPersonalizeWithoutMarkerIsNoop(t *testing.T) {
	id, _ := device.Parse("AA:BB:CC:DD:EE:FF")
	image := []byte{0xE9, 0x41, 0x42, 0x43}
	out := Personalize(append([]byte(nil), image...), id)
	assert.Equal(t, image, out)
}
