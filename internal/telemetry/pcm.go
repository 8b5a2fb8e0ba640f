package telemetry

import (
	"encoding/binary"
	"math"
	"slices"
)

// BytesPerSample is the size of one little-endian signed 16-bit PCM sample.
const BytesPerSample = 2

// ValidateChunk checks a raw audio chunk before it is queued: the sample
// rate must be one of allowedRates, the payload must be whole int16 samples
// and there must be at least minSamples of them.
func ValidateChunk(deviceID string, raw []byte, sampleRate int, allowedRates []int, minSamples int) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if !slices.Contains(allowedRates, sampleRate) {
		return invalid("sample_rate", "%d Hz is not one of %v", sampleRate, allowedRates)
	}
	if len(raw)%BytesPerSample != 0 {
		return invalid("body", "odd byte length %d is not int16 PCM", len(raw))
	}
	if n := len(raw) / BytesPerSample; n < minSamples {
		return invalid("body", "%d samples, need at least %d", n, minSamples)
	}
	return nil
}

// DecodePCM16LE decodes little-endian signed 16-bit PCM. A trailing odd
// byte is ignored; ValidateChunk rejects such payloads before decoding.
func DecodePCM16LE(raw []byte) []int16 {
	samples := make([]int16, len(raw)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*BytesPerSample:]))
	}
	return samples
}

// RMS returns the root mean square amplitude of samples, in raw int16
// units (0..32768). This is the reading's audio_level.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
