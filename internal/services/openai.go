package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dullyvine/reelforge/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
	}
}

// GenerateScript writes a voiceover narration script for a topic, sized for
// the target duration.
func (s *OpenAIService) GenerateScript(ctx context.Context, topic string, targetDurationSec int) (string, error) {
	systemPrompt := fmt.Sprintf(`You are an expert short-form video scriptwriter.

Write voiceover narration — text that will be spoken aloud, not shown on
screen. Use short, punchy sentences and a conversational register. Open with
a hook, build momentum, and land a satisfying conclusion.

The narration must take about %d seconds when read at a natural pace
(roughly %d words). Return ONLY the narration text, no headings, no stage
directions, no quotation marks around the whole thing.`, targetDurationSec, targetDurationSec*5/2)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-5-mini",
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Write the narration for the topic: %q", topic),
			},
		},
		Temperature: 1.0,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	script := strings.TrimSpace(resp.Choices[0].Message.Content)
	if script == "" {
		return "", fmt.Errorf("openai returned an empty script")
	}

	log.Printf("[OpenAI] Script generated (%d chars) for topic %q", len(script), truncateString(topic, 60))
	return script, nil
}

// ---------------------------------------------------------------------------
// Whisper Transcription — word-level timestamps for caption segmentation
// ---------------------------------------------------------------------------

// TranscribeAudio sends audio to OpenAI Whisper and returns word-level
// timestamps. The audio bytes should be the raw TTS output.
func (s *OpenAIService) TranscribeAudio(ctx context.Context, audioData []byte, language string) ([]models.WordTimestamp, error) {
	if language == "" {
		language = "en"
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audioData),
		FilePath: "audio.mp3", // Filename hint for the API (required by the library)
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	if len(resp.Words) == 0 {
		return nil, fmt.Errorf("whisper returned no word timestamps (text: %q)", resp.Text)
	}

	words := make([]models.WordTimestamp, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = models.WordTimestamp{
			Word:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		}
	}

	log.Printf("[Whisper] Transcribed %d words (duration: %.1fs, text: %q)",
		len(words), resp.Duration, truncateString(resp.Text, 80))

	return words, nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
