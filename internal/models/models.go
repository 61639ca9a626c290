package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state — a job in a terminal
// state never transitions again and holds exactly one of result URL / error.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type FlowType string

const (
	FlowSingleAsset  FlowType = "single_asset"
	FlowMultiAsset   FlowType = "multi_asset"
	FlowStockFootage FlowType = "stock_footage"
)

// WordTimestamp represents a single word with its precise timing from Whisper.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// TimelineSlot is a contiguous time-bounded placement of one visual asset
// within the final timeline. Slots are non-overlapping and back-to-back:
// slot[i].EndOffset == slot[i+1].StartOffset, and the last slot ends at the
// requested total duration.
type TimelineSlot struct {
	AssetRef       string   `json:"asset_ref"`
	TargetDuration float64  `json:"target_duration"` // seconds
	StartOffset    float64  `json:"start_offset"`
	EndOffset      float64  `json:"end_offset"`
	NativeDuration *float64 `json:"native_duration,omitempty"` // nil = unknown (e.g. still image)
	NeedsLoop      bool     `json:"needs_loop"`
	NeedsTrim      bool     `json:"needs_trim"`
}

// CaptionSegment is a time-bounded caption line. When derived from word
// timestamps the Words list is carried along so the renderer can do
// word-by-word highlighting.
type CaptionSegment struct {
	Text      string          `json:"text"`
	StartTime float64         `json:"start_time"`
	EndTime   float64         `json:"end_time"`
	Words     []WordTimestamp `json:"words,omitempty"`
}

// ---------------------------------------------------------------------------
// Render request — the frozen snapshot a job carries. One variant struct per
// flow type so backend submissions can be built with compile-time
// exhaustiveness instead of poking at a loose map.
// ---------------------------------------------------------------------------

// SingleAssetSpec renders one generated image (or AI video) under the full
// voiceover.
type SingleAssetSpec struct {
	AssetURL    string `json:"asset_url"`
	MotionStyle string `json:"motion_style,omitempty"` // e.g. "ken_burns", "none"
}

// MultiAssetSpec renders a sequence of generated images laid out by the
// timing allocator.
type MultiAssetSpec struct {
	AssetURLs []string `json:"asset_urls"`
}

// StockFootageSpec renders stock clips, each with a known native duration,
// looped or trimmed per the timeline flags.
type StockFootageSpec struct {
	Clips []StockClip `json:"clips"`
}

type StockClip struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// TextOverlay is an optional title/CTA burned over the video.
type TextOverlay struct {
	Text     string  `json:"text"`
	Position string  `json:"position"` // "top", "center", "bottom"
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// RenderRequest is the fully-resolved render payload, immutable once a job is
// enqueued. Exactly one variant field matching Flow must be set.
type RenderRequest struct {
	Flow            FlowType         `json:"flow"`
	VoiceoverURL    string           `json:"voiceover_url"`
	DurationSeconds float64          `json:"duration_seconds"`
	Timeline        []TimelineSlot   `json:"timeline"`
	Captions        []CaptionSegment `json:"captions,omitempty"`
	Overlays        []TextOverlay    `json:"overlays,omitempty"`
	AspectRatio     string           `json:"aspect_ratio,omitempty"` // default "9:16"

	SingleAsset  *SingleAssetSpec  `json:"single_asset,omitempty"`
	MultiAsset   *MultiAssetSpec   `json:"multi_asset,omitempty"`
	StockFootage *StockFootageSpec `json:"stock_footage,omitempty"`
}

// Validate checks the tagged-union shape: a known flow type, the matching
// variant present, and the other variants absent.
func (r *RenderRequest) Validate() error {
	if r.DurationSeconds <= 0 {
		return fmt.Errorf("duration_seconds must be positive, got %v", r.DurationSeconds)
	}
	if r.VoiceoverURL == "" {
		return fmt.Errorf("voiceover_url is required")
	}
	if len(r.Timeline) == 0 {
		return fmt.Errorf("timeline is empty")
	}

	set := 0
	if r.SingleAsset != nil {
		set++
	}
	if r.MultiAsset != nil {
		set++
	}
	if r.StockFootage != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one flow variant must be set, got %d", set)
	}

	switch r.Flow {
	case FlowSingleAsset:
		if r.SingleAsset == nil {
			return fmt.Errorf("flow %s requires single_asset payload", r.Flow)
		}
		if r.SingleAsset.AssetURL == "" {
			return fmt.Errorf("single_asset.asset_url is required")
		}
	case FlowMultiAsset:
		if r.MultiAsset == nil {
			return fmt.Errorf("flow %s requires multi_asset payload", r.Flow)
		}
		if len(r.MultiAsset.AssetURLs) == 0 {
			return fmt.Errorf("multi_asset.asset_urls is empty")
		}
	case FlowStockFootage:
		if r.StockFootage == nil {
			return fmt.Errorf("flow %s requires stock_footage payload", r.Flow)
		}
		if len(r.StockFootage.Clips) == 0 {
			return fmt.Errorf("stock_footage.clips is empty")
		}
	default:
		return fmt.Errorf("unknown flow type %q", r.Flow)
	}

	return nil
}

// RenderStatus is the backend's answer to a status poll.
type RenderStatus struct {
	Status    string `json:"status"` // "queued", "processing", "completed", "failed"
	Progress  int    `json:"progress"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// JobRecord is one render job owned by the scheduler. The scheduler mutates
// only the lifecycle fields (Status, Progress, BackendHandle, ResultURL,
// Error); Request is frozen at enqueue time.
type JobRecord struct {
	ID            uuid.UUID      `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	Status        JobStatus      `json:"status"`
	Progress      int            `json:"progress"` // 0-100
	BackendHandle string         `json:"backend_handle,omitempty"`
	ResultURL     string         `json:"result_url,omitempty"`
	Error         string         `json:"error,omitempty"`
	Request       *RenderRequest `json:"request"`
}

// DTOs for API responses

type CreateRenderRequest struct {
	Flow        FlowType `json:"flow"`
	Topic       string   `json:"topic,omitempty"`  // topic to generate a script from (optional when Script set)
	Script      string   `json:"script,omitempty"` // narration script (generated from Topic when empty)
	AssetCount  int      `json:"asset_count,omitempty"`
	StockQuery  string   `json:"stock_query,omitempty"` // search query for stock footage flow
	AspectRatio *string  `json:"aspect_ratio,omitempty"`
	OverlayText *string  `json:"overlay_text,omitempty"`
}

type CreateRenderResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

type ListJobsResponse struct {
	Jobs  []*JobRecord `json:"jobs"`
	Total int          `json:"total"`
}

type TimelinePreviewRequest struct {
	Assets          []TimelineAssetInput `json:"assets"`
	Durations       []float64            `json:"durations,omitempty"` // manual override, parallel to assets
	DurationSeconds float64              `json:"duration_seconds"`
}

type TimelineAssetInput struct {
	ID             string   `json:"id"`
	NativeDuration *float64 `json:"native_duration,omitempty"`
}

type CaptionPreviewRequest struct {
	Words           []WordTimestamp `json:"words,omitempty"`
	Script          string          `json:"script,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
}
