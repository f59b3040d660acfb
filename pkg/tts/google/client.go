// Package google implements tts.Synthesizer against the Google Cloud
// Text-to-Speech REST API using an API key.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/user/bedtime/pkg/tts"
)

// DefaultBaseURL is the public Text-to-Speech endpoint.
const DefaultBaseURL = "https://texttospeech.googleapis.com"

// Client talks to the Text-to-Speech v1 REST API.
type Client struct {
	config     *tts.Config
	httpClient *http.Client
}

// New creates a client. An empty BaseURL means DefaultBaseURL.
func New(config *tts.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type voicesResponse struct {
	Voices []struct {
		LanguageCodes          []string `json:"languageCodes"`
		Name                   string   `json:"name"`
		SSMLGender             string   `json:"ssmlGender"`
		NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
	} `json:"voices"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tts API error (status %d): %s", e.StatusCode, e.Body)
}

// Synthesize calls text:synthesize and decodes the base64 audio payload.
func (c *Client) Synthesize(ctx context.Context, text string, voice tts.VoiceSpec) ([]byte, error) {
	voice = voice.WithDefaults(tts.DefaultVoice())
	reqBody := synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceSelection{LanguageCode: voice.LanguageCode, Name: voice.Name},
		AudioConfig: audioConfig{
			AudioEncoding: string(voice.Encoding),
			SpeakingRate:  voice.SpeakingRate,
			Pitch:         voice.Pitch,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/text:synthesize", nil, body)
	if err != nil {
		return nil, err
	}

	var out synthesizeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if out.AudioContent == "" {
		return nil, fmt.Errorf("no audio content in response")
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding audio content: %w", err)
	}
	return audio, nil
}

// ListVoices returns voices sorted by language code, then name.
func (c *Client) ListVoices(ctx context.Context, languageCode string) ([]tts.Voice, error) {
	q := url.Values{}
	if languageCode != "" {
		q.Set("languageCode", languageCode)
	}
	respBody, err := c.do(ctx, http.MethodGet, "/v1/voices", q, nil)
	if err != nil {
		return nil, err
	}

	var out voicesResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	voices := make([]tts.Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		language, region, _ := strings.Cut(lang, "-")
		voices = append(voices, tts.Voice{
			Name:                   v.Name,
			LanguageCode:           lang,
			SSMLGender:             v.SSMLGender,
			NaturalSampleRateHertz: v.NaturalSampleRateHertz,
			DisplayName:            fmt.Sprintf("%s (%s, %s)", v.Name, lang, v.SSMLGender),
			Language:               language,
			Region:                 region,
		})
	}
	sort.SliceStable(voices, func(i, j int) bool {
		if voices[i].LanguageCode != voices[j].LanguageCode {
			return voices[i].LanguageCode < voices[j].LanguageCode
		}
		return voices[i].Name < voices[j].Name
	})
	return voices, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	base := c.config.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if q == nil {
		q = url.Values{}
	}
	if c.config.APIKey != "" {
		q.Set("key", c.config.APIKey)
	}
	endpoint := strings.TrimSuffix(base, "/") + path
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
