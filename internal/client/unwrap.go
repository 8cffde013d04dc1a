// Package client holds the device-side half of the distribution protocol:
// the HTTP API client, the unwrap step that reverses the transport
// obfuscation, and the best-effort integrity check run before the image is
// handed to the external flashing routine.
package client

import (
	"fmt"
	"log/slog"

	"flashgate/internal/device"
	"flashgate/internal/firmware"
)

// Expected first bytes of a valid image. The check is advisory: a
// mismatch is reported, never fatal, because the obfuscation layer is a
// deterrent rather than an integrity mechanism.
var imageMagic = []byte{0xE9, 0x00}

// Unwrap reverses the transport obfuscation using the locally known
// device identity, returning the genuine image bytes. The transform is
// self-inverse, so this is the same XOR the server applied.
func Unwrap(data []byte, id device.Identity) []byte {
	out := append([]byte(nil), data...)
	return firmware.Obfuscate(out, id)
}

// IntegrityReport summarizes the advisory post-unwrap checks.
type IntegrityReport struct {
	MagicOK bool
	SizeOK  bool
	Size    int
}

// OK reports whether every advisory check passed.
func (r IntegrityReport) OK() bool {
	return r.MagicOK && r.SizeOK
}

// CheckIntegrity inspects an unwrapped image. expectedSize <= 0 skips the
// size comparison; otherwise the image must be within 10% of it. Failures
// are logged as warnings by the caller and do not block flashing.
func CheckIntegrity(image []byte, expectedSize int, logger *slog.Logger) IntegrityReport {
	report := IntegrityReport{MagicOK: true, SizeOK: true, Size: len(image)}

	if len(image) == 0 {
		report.MagicOK = false
	} else if image[0] != imageMagic[0] && image[0] != imageMagic[1] {
		report.MagicOK = false
		logger.Warn("unexpected image magic byte",
			slog.String("got", fmt.Sprintf("0x%02X", image[0])))
	}

	if expectedSize > 0 {
		diff := len(image) - expectedSize
		if diff < 0 {
			diff = -diff
		}
		if diff*10 > expectedSize {
			report.SizeOK = false
			logger.Warn("image size mismatch",
				slog.Int("size", len(image)),
				slog.Int("expected", expectedSize))
		}
	}

	return report
}
