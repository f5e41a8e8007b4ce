package inbox

import (
	"path/filepath"
	"strings"
)

var audioTypes = map[string]string{
	".wav": "audio/x-wav",
	".mp3": "audio/mpeg",
}

// IsAudio reports whether name carries an allowed audio extension.
func IsAudio(name string) bool {
	_, ok := audioTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// MimeType returns the content type for an allowed audio file name.
func MimeType(name string) (string, bool) {
	mime, ok := audioTypes[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}
