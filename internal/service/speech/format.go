package speech

import "bytes"

// DetectFormat sniffs the audio container from the payload's magic bytes.
// Returns "" when no known container is recognized.
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return "ogg"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	case len(data) >= 12 && bytes.Equal(data[4:12], []byte("ftypM4A ")):
		return "m4a"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("fLaC")):
		return "flac"
	}
	return ""
}
