package transcribe

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, filename, ctype string
		wantName, wantMIME    string
	}{
		{"accepted type keeps name", "dream.webm", "audio/webm;codecs=opus", "dream.webm", "audio/webm"},
		{"accepted type renames", "blob", "audio/ogg", "record.ogg", "audio/ogg"},
		{"safari video mp4", "clip.mp4", "video/mp4", "clip.mp4", "video/mp4"},
		{"mpeg maps to mp3", "voice.MP3", "AUDIO/MPEG", "voice.MP3", "audio/mpeg"},
		{"unknown type uses extension", "note.m4a", "application/octet-stream", "note.m4a", "audio/mp4"},
		{"nothing matches", "blob.bin", "", "record.webm", "audio/webm"},
		{"empty filename", "", "audio/flac", "record.flac", "audio/flac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			name, mime := Normalize(tt.filename, tt.ctype)
			if name != tt.wantName || mime != tt.wantMIME {
				t.Errorf("Normalize(%q, %q) = (%q, %q), want (%q, %q)", tt.filename, tt.ctype, name, mime, tt.wantName, tt.wantMIME)
			}
		})
	}
}

func TestSanitizeKey(t *testing.T) {
	t.Parallel()
	if got := SanitizeKey("  gsk_abc\r\n"); got != "gsk_abc" {
		t.Errorf("SanitizeKey = %q", got)
	}
	if got := SanitizeKey("gsk_\nabc"); got != "gsk_abc" {
		t.Errorf("SanitizeKey = %q", got)
	}
}
