package transcribe

import "strings"

// acceptedMIMEs lists the container types the provider accepts, in lookup
// order, with their preferred extension.
var acceptedMIMEs = []struct {
	mime string
	ext  string
}{
	{"audio/flac", ".flac"},
	{"audio/mpeg", ".mp3"},
	{"audio/mp3", ".mp3"},
	{"audio/mpga", ".mp3"},
	{"audio/mp4", ".m4a"},
	{"video/mp4", ".mp4"},
	{"audio/ogg", ".ogg"},
	{"audio/opus", ".opus"},
	{"audio/wav", ".wav"},
	{"audio/webm", ".webm"},
}

// Normalize picks an accepted MIME type and a filename carrying its extension.
//
// The declared content type wins when accepted (parameters such as
// ";codecs=opus" are ignored). Otherwise the filename extension decides.
// Anything else is sent as audio/webm, the MediaRecorder default.
func Normalize(filename, contentType string) (name, mime string) {
	if filename == "" {
		filename = "audio"
	}
	ctype, _, _ := strings.Cut(contentType, ";")
	ctype = strings.ToLower(strings.TrimSpace(ctype))

	var ext string
	for _, a := range acceptedMIMEs {
		if a.mime == ctype {
			mime, ext = a.mime, a.ext
			break
		}
	}
	if ext == "" {
		lower := strings.ToLower(filename)
		for _, a := range acceptedMIMEs {
			if strings.HasSuffix(lower, a.ext) {
				mime, ext = a.mime, a.ext
				break
			}
		}
	}
	if mime == "" {
		mime, ext = "audio/webm", ".webm"
	}

	if strings.HasSuffix(strings.ToLower(filename), ext) {
		return filename, mime
	}
	return "record" + ext, mime
}

// SanitizeKey strips CR and LF from an API key read from the environment and
// trims surrounding space.
func SanitizeKey(key string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(key))
}
