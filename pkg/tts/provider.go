// Package tts defines the speech backend used to narrate stories.
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	// Synthesize returns the encoded audio for text spoken with the given voice.
	Synthesize(ctx context.Context, text string, voice VoiceSpec) ([]byte, error)
	// ListVoices returns the voices available for languageCode, or all voices when empty.
	ListVoices(ctx context.Context, languageCode string) ([]Voice, error)
}

// Encoding names an audio container/codec understood by the speech backend.
type Encoding string

const (
	EncodingMP3      Encoding = "MP3"
	EncodingOggOpus  Encoding = "OGG_OPUS"
	EncodingLinear16 Encoding = "LINEAR16"
)

// Encodings lists every supported encoding.
var Encodings = []Encoding{EncodingMP3, EncodingOggOpus, EncodingLinear16}

// ParseEncoding accepts an encoding name in any case; empty means MP3.
func ParseEncoding(s string) (Encoding, error) {
	if s == "" {
		return EncodingMP3, nil
	}
	e := Encoding(strings.ToUpper(s))
	for _, known := range Encodings {
		if e == known {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown audio encoding %q", s)
}

// Extension returns the file extension for assets in this encoding.
func (e Encoding) Extension() string {
	switch e {
	case EncodingOggOpus:
		return ".ogg"
	case EncodingLinear16:
		return ".wav"
	default:
		return ".mp3"
	}
}

// ContentType returns the MIME type stored alongside uploaded assets.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingOggOpus:
		return "audio/ogg"
	case EncodingLinear16:
		return "audio/wav"
	default:
		return "audio/mp3"
	}
}

// VoiceSpec selects the voice and audio settings for one synthesis call.
type VoiceSpec struct {
	LanguageCode string   `json:"languageCode"`
	Name         string   `json:"name"`
	Encoding     Encoding `json:"audioEncoding"`
	SpeakingRate float64  `json:"speakingRate"`
	Pitch        float64  `json:"pitch"`
}

// DefaultVoice is used when a caller does not pick one.
func DefaultVoice() VoiceSpec {
	return VoiceSpec{
		LanguageCode: "en-US",
		Name:         "en-US-Wavenet-D",
		Encoding:     EncodingMP3,
		SpeakingRate: 1,
	}
}

// WithDefaults fills zero fields from def.
func (v VoiceSpec) WithDefaults(def VoiceSpec) VoiceSpec {
	if v.LanguageCode == "" {
		v.LanguageCode = def.LanguageCode
	}
	if v.Name == "" {
		v.Name = def.Name
	}
	if v.Encoding == "" {
		v.Encoding = def.Encoding
	}
	if v.SpeakingRate == 0 {
		v.SpeakingRate = def.SpeakingRate
	}
	if v.Pitch == 0 {
		v.Pitch = def.Pitch
	}
	return v
}

// Voice describes one voice offered by the backend.
type Voice struct {
	Name                   string `json:"name"`
	LanguageCode           string `json:"languageCode"`
	SSMLGender             string `json:"ssmlGender"`
	NaturalSampleRateHertz int    `json:"naturalSampleRateHertz"`
	DisplayName            string `json:"displayName"`
	Language               string `json:"language"`
	Region                 string `json:"region,omitempty"`
}

// Config holds connection settings for a speech backend.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}
