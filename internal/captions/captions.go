package captions

import (
	"fmt"
	"strings"

	"github.com/dullyvine/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// Caption segmenter
//
// Converts word-level timestamps (or, absent those, raw script text) into
// time-bounded caption segments. Two paths:
//
//   - SegmentFromWords: the accurate path, driven by Whisper word timestamps.
//     Greedy single left-to-right pass, breaking on length limits, natural
//     pauses, and sentence boundaries.
//   - SegmentFromScript: the fallback when no transcription is available.
//     Splits on punctuation and allocates time proportional to character
//     share of the total.
// ---------------------------------------------------------------------------

const (
	// maxWordsPerSegment caps how many words one caption shows at once.
	maxWordsPerSegment = 5

	// maxCharsPerSegment caps caption text length so lines don't wrap.
	maxCharsPerSegment = 40

	// pauseThreshold is the silence gap (seconds) between consecutive words
	// that forces a segment break. The pause itself belongs to neither
	// segment.
	pauseThreshold = 0.4

	// minFragmentDuration floors each fallback caption's display time so a
	// two-character fragment doesn't flash by.
	minFragmentDuration = 1.0 // seconds
)

// SegmentFromWords builds caption segments from Whisper word timestamps.
//
// Words accumulate into the current segment until a break condition holds:
// the accumulation has reached maxWordsPerSegment words or maxCharsPerSegment
// characters, the next word starts more than pauseThreshold after the last
// one ended, or the accumulated text ends in sentence-terminal punctuation.
// The triggering word seeds the next segment; segment bounds come from the
// first and last accumulated words. Concatenating the segments' word lists
// reproduces the input exactly.
func SegmentFromWords(words []models.WordTimestamp) ([]models.CaptionSegment, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("no words to segment")
	}

	var segments []models.CaptionSegment
	var current []models.WordTimestamp

	for _, word := range words {
		if len(current) > 0 && shouldBreak(current, word) {
			segments = append(segments, finalizeSegment(current))
			current = nil
		}
		current = append(current, word)
	}

	// Flush the trailing partial accumulation
	if len(current) > 0 {
		segments = append(segments, finalizeSegment(current))
	}

	return segments, nil
}

// shouldBreak decides whether the current accumulation must close before
// next is appended.
func shouldBreak(current []models.WordTimestamp, next models.WordTimestamp) bool {
	if len(current) >= maxWordsPerSegment {
		return true
	}

	text := joinWords(current)
	if len(text) >= maxCharsPerSegment {
		return true
	}

	// Natural pause: split at the silence so the pause belongs to neither
	// segment.
	lastEnd := current[len(current)-1].End
	if next.Start-lastEnd > pauseThreshold {
		return true
	}

	return endsSentence(text)
}

func endsSentence(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func finalizeSegment(words []models.WordTimestamp) models.CaptionSegment {
	copied := make([]models.WordTimestamp, len(words))
	copy(copied, words)

	return models.CaptionSegment{
		Text:      joinWords(words),
		StartTime: words[0].Start,
		EndTime:   words[len(words)-1].End,
		Words:     copied,
	}
}

func joinWords(words []models.WordTimestamp) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if trimmed := strings.TrimSpace(w.Word); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// SegmentFromScript approximates caption timing from raw script text when no
// transcription exists. The script is split on sentence and clause
// punctuation; each fragment gets display time proportional to its character
// share of the total, floored at minFragmentDuration. Fragments are laid out
// back-to-back from 0, so the floor can push the total past totalDuration —
// accepted, since without timestamps there is no ground truth to correct
// against.
func SegmentFromScript(script string, totalDuration float64) ([]models.CaptionSegment, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("script is empty")
	}
	if totalDuration <= 0 {
		return nil, fmt.Errorf("total duration must be positive, got %v", totalDuration)
	}

	fragments := splitScript(script)
	if len(fragments) == 0 {
		return nil, fmt.Errorf("script contains no caption fragments")
	}

	totalChars := 0
	for _, f := range fragments {
		totalChars += len(f)
	}

	segments := make([]models.CaptionSegment, 0, len(fragments))
	var cursor float64
	for _, fragment := range fragments {
		dur := totalDuration * float64(len(fragment)) / float64(totalChars)
		if dur < minFragmentDuration {
			dur = minFragmentDuration
		}

		segments = append(segments, models.CaptionSegment{
			Text:      fragment,
			StartTime: cursor,
			EndTime:   cursor + dur,
		})
		cursor += dur
	}

	return segments, nil
}

// splitScript breaks the script on sentence-terminal and clause punctuation,
// dropping empty fragments.
func splitScript(script string) []string {
	isBoundary := func(r rune) bool {
		switch r {
		case '.', '!', '?', ',', ';', ':':
			return true
		}
		return false
	}

	var fragments []string
	for _, piece := range strings.FieldsFunc(script, isBoundary) {
		if trimmed := strings.TrimSpace(piece); trimmed != "" {
			fragments = append(fragments, trimmed)
		}
	}
	return fragments
}
