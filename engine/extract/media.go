package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// MediaPreprocessor wraps the ffprobe/ffmpeg CLIs to validate a video
// has an audio track and extract that track as mono MP3 before
// transcription, mirroring original_source's transcription_service.py
// _validate_audio_track/_extract_audio_from_video (there implemented
// via the ffmpeg-python bindings over the same two binaries).
type MediaPreprocessor struct {
	FFprobePath string
	FFmpegPath  string
}

// NewMediaPreprocessor returns a preprocessor using ffprobe/ffmpeg from
// PATH.
func NewMediaPreprocessor() *MediaPreprocessor {
	return &MediaPreprocessor{FFprobePath: "ffprobe", FFmpegPath: "ffmpeg"}
}

// HasAudioTrack probes a video file for at least one audio stream.
func (m *MediaPreprocessor) HasAudioTrack(ctx context.Context, videoPath string) (bool, error) {
	cmd := exec.CommandContext(ctx, m.FFprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		videoPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("extract: ffprobe: %w: %s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()) != "", nil
}

// ExtractAudioTrack demuxes a video's audio into a standalone mono MP3
// file at outPath, suitable for handing to the transcription provider.
func (m *MediaPreprocessor) ExtractAudioTrack(ctx context.Context, videoPath, outPath string) error {
	hasAudio, err := m.HasAudioTrack(ctx, videoPath)
	if err != nil {
		return err
	}
	if !hasAudio {
		return fmt.Errorf("extract: %s: %w", videoPath, domain.ErrNoAudioTrack)
	}

	cmd := exec.CommandContext(ctx, m.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-codec:a", "libmp3lame",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract: ffmpeg extract audio: %w: %s", err, stderr.String())
	}
	return nil
}

// PrepareAudioSource stages raw media bytes on disk and, for video
// categories, demuxes the audio track, returning the path to a file
// ready for the transcription provider. Callers are responsible for
// removing the returned path.
func (m *MediaPreprocessor) PrepareAudioSource(ctx context.Context, cat Category, mimeType string, data []byte) (string, error) {
	srcExt := ".bin"
	if ext := ExtensionFor(mimeType); ext != "" {
		srcExt = ext
	}
	srcFile, err := os.CreateTemp("", "ingestpipe-media-src-*"+srcExt)
	if err != nil {
		return "", fmt.Errorf("extract: media temp src: %w", err)
	}
	defer os.Remove(srcFile.Name())
	if _, err := srcFile.Write(data); err != nil {
		srcFile.Close()
		return "", fmt.Errorf("extract: media write src: %w", err)
	}
	if err := srcFile.Close(); err != nil {
		return "", fmt.Errorf("extract: media close src: %w", err)
	}

	if cat == CategoryAudio {
		// Already audio: copy to a stable temp path the caller owns.
		dst, err := os.CreateTemp("", "ingestpipe-media-audio-*"+srcExt)
		if err != nil {
			return "", fmt.Errorf("extract: media temp dst: %w", err)
		}
		defer dst.Close()
		if _, err := dst.Write(data); err != nil {
			return "", fmt.Errorf("extract: media copy audio: %w", err)
		}
		return dst.Name(), nil
	}

	outFile, err := os.CreateTemp("", "ingestpipe-media-audio-*.mp3")
	if err != nil {
		return "", fmt.Errorf("extract: media temp out: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()

	if err := m.ExtractAudioTrack(ctx, srcFile.Name(), outPath); err != nil {
		os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}
