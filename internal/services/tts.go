package services

import "context"

// ---------------------------------------------------------------------------
// TTSService — common interface for text-to-speech providers
// The composer only needs audio bytes and a duration; any provider that can
// deliver those plugs in here.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string // "mp3", "wav", etc.
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// GenerateSpeech converts text to audio using the provider's default
	// settings.
	GenerateSpeech(ctx context.Context, text string) (*TTSResponse, error)
}

// estimateAudioDuration approximates speech length from text when the
// provider doesn't report one. Roughly 150 words/minute at normal speed,
// scaled by the speed factor.
func estimateAudioDuration(text string, speed float64) int {
	if speed <= 0 {
		speed = 1.0
	}

	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}

	msPerWord := 400.0 / speed // 150 wpm = 400ms per word
	return int(float64(words) * msPerWord)
}
