// Package library turns audio files and URLs into catalog tracks.
package library

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/mewkiz/flac"

	"crossdeck/internal/engine"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyAudio        = errors.New("no audio frames decoded")
)

// maxChannels caps decoded channels; the engine mixes in stereo
const maxChannels = 2

// Decode reads and decodes the audio file at path.
func Decode(path string) (*engine.Buffer, error) {
	data, err := readAll(path)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data, filepath.Ext(path))
}

// DecodeBytes decodes an in-memory file. ext selects the codec (".wav",
// ".flac" or ".mp3", case-insensitive).
func DecodeBytes(data []byte, ext string) (*engine.Buffer, error) {
	var (
		buf *engine.Buffer
		err error
	)
	switch strings.ToLower(ext) {
	case ".wav":
		buf, err = decodeWAV(data)
	case ".flac":
		buf, err = decodeFLAC(data)
	case ".mp3":
		buf, err = decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return buf, nil
}

func decodeWAV(data []byte) (*engine.Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	nch := int(dec.NumChans)
	depth := int(dec.BitDepth)
	if nch == 0 || depth == 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("invalid wav header")
	}

	frames := len(pcm.Data) / nch
	out := engine.NewBuffer(min(nch, maxChannels), frames, int(dec.SampleRate))
	scale := 1 / float32(int64(1)<<(depth-1))
	for i := 0; i < frames; i++ {
		for ch := range out.Data {
			v := pcm.Data[i*nch+ch]
			if depth == 8 {
				v -= 128 // 8-bit PCM is unsigned
			}
			out.Data[ch][i] = float32(v) * scale
		}
	}
	return out, nil
}

func decodeFLAC(data []byte) (*engine.Buffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode flac: %w", err)
	}
	defer stream.Close()

	si := stream.Info
	if si.SampleRate == 0 || si.NChannels == 0 || si.BitsPerSample == 0 {
		return nil, fmt.Errorf("flac stream missing sample info")
	}
	nch := min(int(si.NChannels), maxChannels)
	scale := 1 / float32(int64(1)<<(si.BitsPerSample-1))

	chans := make([][]float32, nch)
	for ch := range chans {
		chans[ch] = make([]float32, 0, si.NSamples)
	}
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if len(chans[0]) == 0 {
				return nil, fmt.Errorf("decode flac frame: %w", err)
			}
			break // truncated stream; keep what decoded
		}
		for ch := 0; ch < nch; ch++ {
			for _, s := range frame.Subframes[ch].Samples {
				chans[ch] = append(chans[ch], float32(s)*scale)
			}
		}
	}
	return &engine.Buffer{SampleRate: int(si.SampleRate), Data: chans}, nil
}

func decodeMP3(data []byte) (*engine.Buffer, error) {
	stream, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	defer stream.Close()

	nch := min(format.NumChannels, maxChannels)
	if nch <= 0 {
		nch = maxChannels
	}
	chans := make([][]float32, nch)
	if n := stream.Len(); n > 0 {
		for ch := range chans {
			chans[ch] = make([]float32, 0, n)
		}
	}

	block := make([][2]float64, 4096)
	for {
		n, ok := stream.Stream(block)
		for _, s := range block[:n] {
			for ch := range chans {
				chans[ch] = append(chans[ch], float32(s[ch]))
			}
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil && len(chans[0]) == 0 {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	return &engine.Buffer{SampleRate: int(format.SampleRate), Data: chans}, nil
}

func readAll(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
