package tts

import "testing"

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingMP3, false},
		{"mp3", EncodingMP3, false},
		{"OGG_OPUS", EncodingOggOpus, false},
		{"linear16", EncodingLinear16, false},
		{"flac", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEncoding(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEncoding(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodingExtensionAndContentType(t *testing.T) {
	if EncodingMP3.Extension() != ".mp3" || EncodingMP3.ContentType() != "audio/mp3" {
		t.Error("unexpected MP3 extension or content type")
	}
	if EncodingOggOpus.Extension() != ".ogg" {
		t.Errorf("unexpected OGG extension %q", EncodingOggOpus.Extension())
	}
	if EncodingLinear16.ContentType() != "audio/wav" {
		t.Errorf("unexpected LINEAR16 content type %q", EncodingLinear16.ContentType())
	}
}

func TestVoiceSpecWithDefaults(t *testing.T) {
	v := VoiceSpec{Name: "en-GB-Neural2-A", SpeakingRate: 0.8}.WithDefaults(DefaultVoice())
	if v.Name != "en-GB-Neural2-A" {
		t.Errorf("explicit name overwritten: %q", v.Name)
	}
	if v.LanguageCode != "en-US" {
		t.Errorf("expected default language, got %q", v.LanguageCode)
	}
	if v.Encoding != EncodingMP3 {
		t.Errorf("expected default encoding, got %q", v.Encoding)
	}
	if v.SpeakingRate != 0.8 {
		t.Errorf("explicit speaking rate overwritten: %v", v.SpeakingRate)
	}
}
