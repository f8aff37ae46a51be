package library

import (
	"bytes"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

// Title returns the tagged title of an in-memory file, falling back to the
// stem of name when the file carries no readable tags.
func Title(data []byte, name string) string {
	if m, err := tag.ReadFrom(bytes.NewReader(data)); err == nil {
		if t := strings.TrimSpace(m.Title()); t != "" {
			return t
		}
	}
	return stem(name)
}

func stem(name string) string {
	base := path.Base(filepath.ToSlash(name))
	if base == "." || base == "/" {
		return "Untitled"
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// frameDuration walks MPEG frame headers to get the playing time without
// decoding; the decoded length includes encoder padding.
func frameDuration(data []byte) (time.Duration, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))
	var (
		total   time.Duration
		skipped int
		frames  int
	)
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return 0, err
		}
		total += fr.Duration()
		frames++
	}
	return total, nil
}

// IsAudioFile checks if a file has one of the supported extensions
func IsAudioFile(filePath string, formats []string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range formats {
		if ext == format {
			return true
		}
	}
	return false
}

// extensionFor maps a response Content-Type to a decoder extension
func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return ".wav"
	default:
		return ""
	}
}
