package tts

// VoiceProfile selects and tunes the examiner voice used for question
// read-out. The zero value lets the provider pick its default voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name, used in logs and the voice
	// catalogue.
	Name string

	// Provider names the backend this voice belongs to, so a profile is not
	// accidentally sent to a different service after failover.
	Provider string

	// PitchShift adjusts pitch in the range -10 to +10, 0 for the voice
	// default.
	PitchShift float64

	// SpeedFactor scales speaking rate in the range 0.5 to 2.0, 1.0 for the
	// voice default.
	SpeedFactor float64

	// Metadata carries provider-specific attributes such as gender, age or
	// accent.
	Metadata map[string]string
}
