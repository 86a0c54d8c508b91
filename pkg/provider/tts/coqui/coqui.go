// Package coqui implements tts.Provider against a locally hosted Coqui TTS
// server, the no-API-key option for examiner question read-out.
//
// Two server APIs are supported:
//
//   - APIModeStandard (default) targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu): GET /api/tts for synthesis, GET /details
//     for the voice catalogue.
//
//   - APIModeXTTS targets the Coqui XTTS v2 API server: POST /tts_to_audio/
//     for synthesis, GET /studio_speakers for the catalogue.
//
// Both servers render one whole utterance per HTTP call, so Synthesize
// splits the text into sentences and keeps a few requests in flight at once.
// Playback of the first sentence can then start while later sentences are
// still rendering, which keeps the perceived latency close to a true
// streaming backend.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/vivavox/vivavox/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// sentenceLookahead bounds how many synthesis requests run concurrently.
	// More lookahead hides server latency but raises its load.
	sentenceLookahead = 4

	audioChanBuf = 256
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API to speak.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server. Default.
	APIModeStandard APIMode = "standard"
)

// Provider renders speech on a Coqui server. Safe for concurrent use;
// multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int // target sample rate, 0 keeps the model's native rate
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server, "en" by default.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout, 30s by default.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server API, [APIModeStandard] by default.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples synthesised mono PCM to the given rate, to
// match the client playback rate. Zero disables resampling.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// New returns a Provider for the server at serverURL, such as
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// audioResult carries one rendered sentence or its error.
type audioResult struct {
	pcm []byte
	err error
}

// Synthesize splits text into sentences, renders each over HTTP with up to
// sentenceLookahead requests in flight, and emits the PCM on the returned
// channel in sentence order. The channel closes when everything is rendered
// or ctx is cancelled; callers must drain it.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	// XTTS needs a speaker_wav reference. The standard server can run
	// single-speaker models without one.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	sentences := splitSentences(text)
	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		// Each sentence gets a single-use result channel; pending holds them
		// in sentence order while requests run concurrently.
		pending := make(chan chan audioResult, sentenceLookahead)

		go func() {
			defer close(pending)
			for _, sentence := range sentences {
				ch := make(chan audioResult, 1)
				select {
				case pending <- ch:
				case <-ctx.Done():
					return
				}
				go func(s string, out chan<- audioResult) {
					pcm, err := p.renderSentence(ctx, s, voice)
					out <- audioResult{pcm: pcm, err: err}
				}(sentence, ch)
			}
		}()

		for ch := range pending {
			select {
			case result := <-ch:
				if result.err != nil {
					// Stop the stream on a failed sentence. ctx.Err()
					// distinguishes cancellation from a server error.
					return
				}
				for pcm := result.pcm; len(pcm) > 0; {
					end := min(pcmChunkSize, len(pcm))
					select {
					case audioCh <- pcm[:end]:
					case <-ctx.Done():
						return
					}
					pcm = pcm[end:]
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// renderSentence issues one synthesis request and returns the decoded PCM.
func (p *Provider) renderSentence(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	var req *http.Request
	var err error

	if p.apiMode == APIModeStandard {
		params := url.Values{}
		params.Set("text", sentence)
		if voice.ID != "" {
			params.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/api/tts?"+params.Encode(), nil)
	} else {
		var data []byte
		data, err = json.Marshal(struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
		if err != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/tts_to_audio/", bytes.NewReader(data))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset:]
	if p.outputRate > 0 && info.SampleRate != p.outputRate && info.Channels == 1 {
		pcm = resampleMono16(pcm, info.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// ListVoices fetches the server's voice catalogue. XTTS mode reads
// /studio_speakers; standard mode reads /details and returns one profile per
// speaker, or a single model-named profile for single-speaker models.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		return p.listVoicesStandard(ctx)
	}
	return p.listVoicesXTTS(ctx)
}

// getJSON fetches path from the server and decodes the JSON body into out.
func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coqui: decode %s response: %w", path, err)
	}
	return nil
}

func (p *Provider) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	// Only the speaker names matter; the values are reference waveforms.
	var raw map[string]json.RawMessage
	if err := p.getJSON(ctx, "/studio_speakers", &raw); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func (p *Provider) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	var details struct {
		ModelName string   `json:"model_name"`
		Language  string   `json:"language"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, "/details", &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)

		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{
			"type":       "single-speaker",
			"model_name": name,
		},
	}}, nil
}

// resampleMono16 converts 16-bit little-endian mono PCM between sample rates
// with linear interpolation.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := srcSamples * dstRate / srcRate
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, dstSamples*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		v := sample(idx)
		if idx+1 < srcSamples {
			v += (sample(idx+1) - v) * frac
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// splitSentences breaks text into complete sentences and keeps any trailing
// fragment. Whitespace-only pieces are dropped.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := findSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(rest[:idx+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[idx+1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that
// ends the string or precedes whitespace, -1 when there is none. Requiring
// trailing whitespace keeps "Dr." and "3.14" intact.
func findSentenceBoundary(s string) int {
	for off := 0; off < len(s); {
		i := strings.IndexAny(s[off:], ".!?")
		if i < 0 {
			return -1
		}
		i += off
		if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
			return i
		}
		off = i + 1
	}
	return -1
}

// wavInfo holds the format metadata from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// parseWAV walks the RIFF chunks to locate the fmt and data sub-chunks. The
// fmt chunk size varies between encoders, so a fixed 44-byte offset is not
// safe.
func parseWAV(wav []byte) (wavInfo, error) {
	le := binary.LittleEndian
	switch {
	case len(wav) < 12:
		return wavInfo{}, errors.New("coqui: WAV response too short to be a valid RIFF file")
	case string(wav[:4]) != "RIFF":
		return wavInfo{}, errors.New("coqui: WAV response missing RIFF header")
	case string(wav[8:12]) != "WAVE":
		return wavInfo{}, errors.New("coqui: WAV response missing WAVE identifier")
	}

	// Coqui model default, used if the data chunk precedes fmt.
	info := wavInfo{SampleRate: 22050, Channels: 1}

	for offset := 12; offset+8 <= len(wav); {
		id := string(wav[offset : offset+4])
		size := int(le.Uint32(wav[offset+4 : offset+8]))
		body := wav[offset+8:]

		switch {
		case id == "fmt " && size >= 16 && len(body) >= 16:
			info.Channels = int(le.Uint16(body[2:4]))
			info.SampleRate = int(le.Uint32(body[4:8]))
		case id == "data":
			info.DataOffset = offset + 8
			return info, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		offset += 8 + size + size%2
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}
