// Package whisper implements stt.Provider against a local whisper.cpp
// server. whisper.cpp has no streaming API, so the provider works on whole
// utterances: the PCM segment the voice-activity detector hands over is
// wrapped in a WAV container and POSTed to /inference as one multipart
// request.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/vivavox/vivavox/pkg/provider/stt"
)

// whisper.cpp accepts only 16-bit signed little-endian PCM.
const bitsPerSample = 16

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Provider transcribes utterances on a whisper.cpp server. Stateless between
// calls and safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel forwards a model identifier such as "base.en" to the server.
// Empty keeps whichever model the server was started with, the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the recognition language code, "en" by default.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the HTTP client, for timeout tuning or test
// transports.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// New returns a Provider for the whisper.cpp server at serverURL, such as
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe submits one utterance and returns its transcript. Multi-channel
// input is downmixed first since whisper.cpp expects mono. An empty segment
// yields an empty Transcript without touching the network.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, nil
	}

	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}
	if ch > 1 {
		pcm = downmixMono(pcm, ch)
		ch = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	text, err := p.infer(ctx, encodeWAV(pcm, sr, ch), lang)
	if err != nil {
		return stt.Transcript{}, err
	}

	return stt.Transcript{
		Text:     text,
		Duration: pcmDuration(pcm, sr, ch),
	}, nil
}

// infer POSTs a WAV payload to /inference and returns the transcribed text.
func (p *Provider) infer(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if fw, err := mw.CreateFormFile("file", "audio.wav"); err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	} else if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	for _, field := range []struct{ name, value string }{
		{"language", language},
		{"model", p.model},
	} {
		if field.value == "" {
			continue
		}
		if err := mw.WriteField(field.name, field.value); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", field.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// encodeWAV wraps raw 16-bit little-endian PCM in a RIFF/WAVE container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	le := binary.LittleEndian
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	u32 := func(v int) {
		var b [4]byte
		le.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	}
	u16 := func(v int) {
		var b [2]byte
		le.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	}

	buf.WriteString("RIFF")
	u32(36 + len(pcm))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	u32(16) // PCM fmt chunk size
	u16(1)  // PCM format tag
	u16(channels)
	u32(sampleRate)
	u32(byteRate)
	u16(blockAlign)
	u16(bitsPerSample)

	buf.WriteString("data")
	u32(len(pcm))
	buf.Write(pcm)
	return buf.Bytes()
}

// pcmDuration returns the playback duration of a PCM buffer, 0 for invalid
// input.
func pcmDuration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := len(pcm) / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
