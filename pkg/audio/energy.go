package audio

import "math"

// EnergyFloorDB is the sentinel energy returned for frames whose RMS is
// effectively zero. Using a finite floor instead of -Inf keeps downstream
// threshold arithmetic well-defined.
const EnergyFloorDB = -100.0

// rmsEpsilon is the normalised RMS below which a frame is treated as digital
// silence and clamped to EnergyFloorDB.
const rmsEpsilon = 1e-10

// RMS computes the root-mean-square amplitude of little-endian int16 PCM,
// normalised to [0, 1]. Returns 0 for empty or odd-length input.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 || len(pcm)%2 != 0 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < len(pcm); i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// EnergyDB converts normalised PCM to decibels relative to full scale.
// Frames at or below the silence epsilon map to EnergyFloorDB rather than
// -Inf or NaN.
func EnergyDB(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms < rmsEpsilon {
		return EnergyFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < EnergyFloorDB {
		return EnergyFloorDB
	}
	return db
}
