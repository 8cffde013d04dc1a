package firmware

import (
	"bytes"

	"flashgate/internal/device"
)

// Personalization marker: the raw image carries the marker text followed
// by a zero-filled placeholder that the distributor overwrites with the
// compact device id. Firmware checks the embedded value at boot.
const (
	bindMarker      = "MACBIND:"
	bindPlaceholder = bindMarker + "000000000000"
)

// Personalize overwrites the first placeholder occurrence with the compact
// device id, in place. An image without the marker is returned untouched;
// absence is not an error.
func Personalize(image []byte, id device.Identity) []byte {
	idx := bytes.Index(image, []byte(bindPlaceholder))
	if idx < 0 {
		return image
	}
	copy(image[idx:], []byte(bindMarker+id.Compact()))
	return image
}

// ObfuscationKey derives the repeating XOR key stream: the compact device
// id concatenated with itself, a 24-byte period.
func ObfuscationKey(id device.Identity) []byte {
	compact := id.Compact()
	return []byte(compact + compact)
}

// Obfuscate XORs every byte of image with the device-derived key stream,
// in place, returning image. The transform is self-inverse: applying it
// twice with the same identity recovers the original bytes. This is a
// deterrent, not encryption.
func Obfuscate(image []byte, id device.Identity) []byte {
	key := ObfuscationKey(id)
	for i := range image {
		image[i] ^= key[i%len(key)]
	}
	return image
}
