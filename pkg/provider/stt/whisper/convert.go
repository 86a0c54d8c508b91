package whisper

import "encoding/binary"

// downmixMono averages all channels of interleaved 16-bit signed little-endian
// PCM into a single mono channel. If channels is 1 the input is returned
// unchanged. Any trailing partial frame is silently ignored.
func downmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]byte, frames*2)
	for i := range frames {
		var sum int
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[idx : idx+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(int16(sum/channels)))
	}
	return mono
}
