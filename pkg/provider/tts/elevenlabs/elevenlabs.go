// Package elevenlabs implements tts.Provider on the ElevenLabs streaming
// WebSocket API, the default cloud backend for examiner question read-out.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/vivavox/vivavox/pkg/provider/tts"
)

const (
	defaultWSBase   = "wss://api.elevenlabs.io"
	defaultHTTPBase = "https://api.elevenlabs.io"

	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

var _ tts.Provider = (*Provider)(nil)

// Provider streams speech from ElevenLabs. One Synthesize call opens one
// WebSocket; the connection is torn down when the utterance finishes or the
// context is cancelled.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID, "eleven_flash_v2_5" by default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio output format, "pcm_24000" by default.
// The value must match the playback rate the stream layer expects.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithEndpoints overrides the production API hosts. wsBase is the WebSocket
// origin ("wss://..."), httpBase the REST origin ("https://...").
func WithEndpoints(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = wsBase
		p.httpBase = httpBase
	}
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// wsFrame is an outbound message on the stream-input socket. The same shape
// serves all three frames of an utterance: the opening frame carries the API
// key, output format and voice settings, the text frame carries the
// utterance, and the closing flush frame is just {"text":""}.
type wsFrame struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// wsEvent is an inbound message on the stream-input socket.
type wsEvent struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// streamURL builds the stream-input endpoint for a voice.
func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s", p.wsBase, voiceID, p.model)
}

// Synthesize opens a WebSocket to ElevenLabs, submits the whole utterance,
// and returns a channel emitting raw PCM chunks as they are rendered. The
// channel closes when synthesis completes or ctx is cancelled; cancelling ctx
// also tears down the connection, which is how playback stops on barge-in.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	send := func(frame wsFrame) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	opening := wsFrame{
		Text:          " ", // the first text value must be non-empty
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	for _, frame := range []wsFrame{opening, {Text: text, VoiceSettings: vs}, {}} {
		if err := send(frame); err != nil {
			conn.Close(websocket.StatusInternalError, "handshake write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev wsEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
				if err == nil {
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				}
			}
			if ev.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}

// apiVoice is one entry in the GET /v1/voices response.
type apiVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

func (v apiVoice) profile() tts.VoiceProfile {
	meta := make(map[string]string, len(v.Labels)+1)
	for k, val := range v.Labels {
		meta[k] = val
	}
	if v.Category != "" {
		meta["category"] = v.Category
	}
	return tts.VoiceProfile{
		ID:       v.VoiceID,
		Name:     v.Name,
		Provider: "elevenlabs",
		Metadata: meta,
	}
}

// ListVoices returns every voice available to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Voices []apiVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(body.Voices))
	for _, v := range body.Voices {
		profiles = append(profiles, v.profile())
	}
	return profiles, nil
}
