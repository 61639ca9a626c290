package captions

import (
	"strings"
	"testing"

	"github.com/dullyvine/reelforge/internal/models"
)

func word(text string, start, end float64) models.WordTimestamp {
	return models.WordTimestamp{Word: text, Start: start, End: end}
}

func TestSegmentFromWordsPauseSplit(t *testing.T) {
	words := []models.WordTimestamp{
		word("Hello", 0, 0.3),
		word("world", 0.3, 0.6),
		word("...", 0.6, 1.5),
		word("Next", 2.2, 2.5),
	}

	segments, err := SegmentFromWords(words)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	// The 0.7s gap before "Next" exceeds the 0.4s pause threshold, so it
	// starts a new segment.
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}

	first := segments[0]
	if len(first.Words) != 3 {
		t.Errorf("first segment has %d words, expected 3", len(first.Words))
	}
	if first.StartTime != 0 || first.EndTime != 1.5 {
		t.Errorf("first segment bounds [%v, %v], expected [0, 1.5]", first.StartTime, first.EndTime)
	}

	second := segments[1]
	if len(second.Words) != 1 || second.Words[0].Word != "Next" {
		t.Errorf("second segment words = %v, expected just Next", second.Words)
	}
	if second.StartTime != 2.2 || second.EndTime != 2.5 {
		t.Errorf("second segment bounds [%v, %v], expected [2.2, 2.5]", second.StartTime, second.EndTime)
	}
}

func TestSegmentFromWordsMaxWords(t *testing.T) {
	var words []models.WordTimestamp
	for i := 0; i < 12; i++ {
		start := float64(i) * 0.3
		words = append(words, word("go", start, start+0.3))
	}

	segments, err := SegmentFromWords(words)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	// 12 words at 5 words/segment → 5, 5, 2
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	for i, want := range []int{5, 5, 2} {
		if len(segments[i].Words) != want {
			t.Errorf("segment %d has %d words, expected %d", i, len(segments[i].Words), want)
		}
	}
}

func TestSegmentFromWordsMaxChars(t *testing.T) {
	// Two long words already hit the 40-char limit, so the third starts a
	// new segment despite the low word count.
	words := []models.WordTimestamp{
		word("supercalifragilistic", 0, 0.8),
		word("expialidociousforever", 0.8, 1.6),
		word("done", 1.6, 1.9),
	}

	segments, err := SegmentFromWords(words)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[1].Text != "done" {
		t.Errorf("second segment text = %q, expected done", segments[1].Text)
	}
}

func TestSegmentFromWordsSentenceSplit(t *testing.T) {
	words := []models.WordTimestamp{
		word("Stop.", 0, 0.4),
		word("Go", 0.5, 0.8),
		word("now", 0.8, 1.1),
	}

	segments, err := SegmentFromWords(words)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "Stop." {
		t.Errorf("first segment = %q, expected Stop.", segments[0].Text)
	}
	if segments[1].Text != "Go now" {
		t.Errorf("second segment = %q, expected Go now", segments[1].Text)
	}
}

func TestSegmentFromWordsConservation(t *testing.T) {
	// Word conservation: concatenating every segment's word list reproduces
	// the input exactly — same words, same order, same timestamps.
	input := []models.WordTimestamp{
		word("The", 0, 0.2),
		word("history", 0.2, 0.7),
		word("of", 0.7, 0.9),
		word("coffee.", 0.9, 1.4),
		word("It", 2.1, 2.3),
		word("begins", 2.3, 2.8),
		word("in", 2.8, 3.0),
		word("Ethiopia", 3.0, 3.6),
		word("long", 3.6, 3.9),
		word("ago", 3.9, 4.2),
	}

	segments, err := SegmentFromWords(input)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	var flattened []models.WordTimestamp
	for _, seg := range segments {
		flattened = append(flattened, seg.Words...)
	}

	if len(flattened) != len(input) {
		t.Fatalf("got %d words back, expected %d", len(flattened), len(input))
	}
	for i := range input {
		if flattened[i] != input[i] {
			t.Errorf("word %d: got %+v, expected %+v", i, flattened[i], input[i])
		}
	}

	// Segments must be in non-decreasing time order and non-overlapping
	for i := 1; i < len(segments); i++ {
		if segments[i].StartTime < segments[i-1].EndTime {
			t.Errorf("segment %d starts at %v before segment %d ends at %v",
				i, segments[i].StartTime, i-1, segments[i-1].EndTime)
		}
	}
}

func TestSegmentFromWordsEmpty(t *testing.T) {
	if _, err := SegmentFromWords(nil); err == nil {
		t.Error("expected error for empty word list")
	}
}

func TestSegmentFromScriptProportional(t *testing.T) {
	// Two fragments, 30 and 10 chars → 75% / 25% of the 20s total.
	script := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 10) + "."

	segments, err := SegmentFromScript(script, 20)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}

	if segments[0].StartTime != 0 {
		t.Errorf("first segment starts at %v, expected 0", segments[0].StartTime)
	}
	if segments[0].EndTime != 15 {
		t.Errorf("first segment ends at %v, expected 15", segments[0].EndTime)
	}
	if segments[1].StartTime != 15 || segments[1].EndTime != 20 {
		t.Errorf("second segment bounds [%v, %v], expected [15, 20]", segments[1].StartTime, segments[1].EndTime)
	}
}

func TestSegmentFromScriptMinimumFloor(t *testing.T) {
	// "Hi" is 2 of 42 chars, which would get under 0.5s of a 10s total; the
	// 1s floor applies and the overall layout is allowed to overshoot.
	script := "Hi, " + strings.Repeat("x", 40) + "."

	segments, err := SegmentFromScript(script, 10)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if got := segments[0].EndTime - segments[0].StartTime; got != 1.0 {
		t.Errorf("short fragment duration = %v, expected floor of 1.0", got)
	}
	// Back-to-back layout even when floored
	if segments[1].StartTime != segments[0].EndTime {
		t.Errorf("segments not contiguous: %v vs %v", segments[1].StartTime, segments[0].EndTime)
	}
}

func TestSegmentFromScriptSplitsOnClausePunctuation(t *testing.T) {
	segments, err := SegmentFromScript("First part, second part; third part: fourth part.", 12)
	if err != nil {
		t.Fatalf("segmentation failed: %v", err)
	}

	want := []string{"First part", "second part", "third part", "fourth part"}
	if len(segments) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(segments))
	}
	for i, w := range want {
		if segments[i].Text != w {
			t.Errorf("segment %d = %q, expected %q", i, segments[i].Text, w)
		}
	}
}

func TestSegmentFromScriptEmpty(t *testing.T) {
	if _, err := SegmentFromScript("", 10); err == nil {
		t.Error("expected error for empty script")
	}
	if _, err := SegmentFromScript("   ", 10); err == nil {
		t.Error("expected error for blank script")
	}
	if _, err := SegmentFromScript("hello", 0); err == nil {
		t.Error("expected error for zero duration")
	}
}
