// Package audio provides the PCM frame type and signal helpers shared by the
// streaming layer and the speech detector: [AudioFrame], RMS/decibel energy
// measurement over 16-bit little-endian PCM, and [Drain] for abandoned
// streaming channels.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: received from client streams,
// processed by the speech detector, buffered into answer segments, and played
// back through the connection writer.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (16000 on the default client wire format).
	SampleRate int

	// Channels: 1 for mono (the wire format), 2 for stereo sources.
	Channels int

	// Seq is the strictly increasing per-connection frame sequence number,
	// assigned by the receiving connection.
	Seq uint64

	// Timestamp marks when this frame was received, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data, derived
// from sample counts rather than wall-clock time.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
