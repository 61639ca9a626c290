package composer

import (
	"context"
	"fmt"
	"log"

	"github.com/dullyvine/reelforge/internal/captions"
	"github.com/dullyvine/reelforge/internal/models"
	"github.com/dullyvine/reelforge/internal/services"
	"github.com/dullyvine/reelforge/internal/storage"
	"github.com/dullyvine/reelforge/internal/timeline"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Render request composer
//
// Resolves a wizard request into the frozen RenderRequest snapshot a job
// carries: generates the script when only a topic was given, runs the audio
// and visual pipelines in parallel, then lays out the timeline against the
// voiceover duration and segments the captions. The scheduler never sees any
// of this — it only receives the finished, immutable snapshot.
// ---------------------------------------------------------------------------

const (
	defaultScriptDurationSec = 60
	defaultMultiAssetCount   = 3
	defaultAspectRatio       = "9:16"
	maxAssetCount            = 10
)

type Composer struct {
	openai  *services.OpenAIService
	tts     services.TTSService
	images  *services.ImageService
	stock   *services.StockService
	storage *storage.Storage
}

func New(openaiSvc *services.OpenAIService, ttsSvc services.TTSService, imageSvc *services.ImageService, stockSvc *services.StockService, stor *storage.Storage) *Composer {
	return &Composer{
		openai:  openaiSvc,
		tts:     ttsSvc,
		images:  imageSvc,
		stock:   stockSvc,
		storage: stor,
	}
}

// Compose builds the frozen render request for a wizard submission.
func (c *Composer) Compose(ctx context.Context, req *models.CreateRenderRequest) (*models.RenderRequest, error) {
	script := req.Script
	if script == "" {
		if req.Topic == "" {
			return nil, fmt.Errorf("either script or topic is required")
		}
		var err error
		script, err = c.openai.GenerateScript(ctx, req.Topic, defaultScriptDurationSec)
		if err != nil {
			return nil, fmt.Errorf("failed to generate script: %w", err)
		}
	}

	aspectRatio := defaultAspectRatio
	if req.AspectRatio != nil && *req.AspectRatio != "" {
		aspectRatio = *req.AspectRatio
	}

	assetCount := req.AssetCount
	if assetCount <= 0 {
		assetCount = defaultMultiAssetCount
	}
	if assetCount > maxAssetCount {
		assetCount = maxAssetCount
	}

	// ─────────────────────────────────────────────────────────────────────
	// Concurrent pipelines: audio + visual run in parallel, then converge
	// at timeline/caption layout which needs outputs from both.
	//
	// Pipeline A (audio):  TTS → upload → Whisper transcription
	// Pipeline B (visual): image generation + upload, or stock search
	// ─────────────────────────────────────────────────────────────────────

	// Shared results — written by one goroutine each, read only after g.Wait()
	var (
		voiceoverURL   string
		audioDuration  float64 // seconds
		wordTimestamps []models.WordTimestamp
		imageURLs      []string
		stockVideos    []services.StockVideo
	)

	g, gctx := errgroup.WithContext(ctx)

	// ── Pipeline A: Audio (TTS → upload → Whisper) ─────────────────────
	g.Go(func() error {
		log.Printf("[Composer] Generating voiceover (%d chars)...", len(script))
		audioResp, err := c.tts.GenerateSpeech(gctx, script)
		if err != nil {
			return fmt.Errorf("failed to generate voiceover: %w", err)
		}
		audioDuration = float64(audioResp.DurationMs) / 1000.0

		objectPath := c.storage.GenerateObjectPath("voiceover.mp3")
		if err := c.storage.Upload(gctx, objectPath, audioResp.AudioData, "audio/mpeg"); err != nil {
			return fmt.Errorf("failed to upload voiceover: %w", err)
		}
		voiceoverURL = c.storage.GetPublicURL(objectPath)

		// Transcription is non-critical — captions fall back to the script
		log.Printf("[Composer] Transcribing voiceover for captions...")
		wordTimestamps, err = c.openai.TranscribeAudio(gctx, audioResp.AudioData, "en")
		if err != nil {
			log.Printf("[Composer] WARNING: transcription failed, captions will use script timing: %v", err)
			wordTimestamps = nil
		}
		return nil
	})

	// ── Pipeline B: Visuals ────────────────────────────────────────────
	switch req.Flow {
	case models.FlowSingleAsset:
		g.Go(func() error {
			urls, err := c.generateImages(gctx, script, aspectRatio, 1)
			if err != nil {
				return err
			}
			imageURLs = urls
			return nil
		})

	case models.FlowMultiAsset:
		g.Go(func() error {
			urls, err := c.generateImages(gctx, script, aspectRatio, assetCount)
			if err != nil {
				return err
			}
			imageURLs = urls
			return nil
		})

	case models.FlowStockFootage:
		g.Go(func() error {
			query := req.StockQuery
			if query == "" {
				query = req.Topic
			}
			if query == "" {
				return fmt.Errorf("stock footage flow requires stock_query or topic")
			}
			videos, err := c.stock.SearchVideos(gctx, query, assetCount)
			if err != nil {
				return fmt.Errorf("stock search failed: %w", err)
			}
			stockVideos = videos
			return nil
		})

	default:
		return nil, fmt.Errorf("unknown flow type %q", req.Flow)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c.assemble(req, script, aspectRatio, voiceoverURL, audioDuration, wordTimestamps, imageURLs, stockVideos)
}

// generateImages produces count images from the script and uploads them,
// one goroutine per image.
func (c *Composer) generateImages(ctx context.Context, script, aspectRatio string, count int) ([]string, error) {
	urls := make([]string, count)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			prompt := fmt.Sprintf("A cinematic scene illustrating part %d of %d of this narration: %s", i+1, count, script)
			data, err := c.images.GenerateImage(gctx, prompt, aspectRatio)
			if err != nil {
				return fmt.Errorf("failed to generate image %d: %w", i, err)
			}

			objectPath := c.storage.GenerateObjectPath(fmt.Sprintf("image_%d.png", i))
			if err := c.storage.Upload(gctx, objectPath, data, "image/png"); err != nil {
				return fmt.Errorf("failed to upload image %d: %w", i, err)
			}
			urls[i] = c.storage.GetPublicURL(objectPath)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// assemble lays out the timeline and captions and freezes the request.
func (c *Composer) assemble(req *models.CreateRenderRequest, script, aspectRatio, voiceoverURL string, audioDuration float64, words []models.WordTimestamp, imageURLs []string, stockVideos []services.StockVideo) (*models.RenderRequest, error) {
	out := &models.RenderRequest{
		Flow:            req.Flow,
		VoiceoverURL:    voiceoverURL,
		DurationSeconds: audioDuration,
		AspectRatio:     aspectRatio,
	}

	var assets []timeline.Asset
	switch req.Flow {
	case models.FlowSingleAsset:
		assets = []timeline.Asset{{ID: imageURLs[0]}}
		out.SingleAsset = &models.SingleAssetSpec{AssetURL: imageURLs[0], MotionStyle: "ken_burns"}

	case models.FlowMultiAsset:
		for _, u := range imageURLs {
			assets = append(assets, timeline.Asset{ID: u})
		}
		out.MultiAsset = &models.MultiAssetSpec{AssetURLs: imageURLs}

	case models.FlowStockFootage:
		clips := make([]models.StockClip, len(stockVideos))
		for i, v := range stockVideos {
			dur := v.DurationSeconds
			assets = append(assets, timeline.Asset{ID: v.URL, NativeDuration: &dur})
			clips[i] = models.StockClip{URL: v.URL, DurationSeconds: v.DurationSeconds}
		}
		out.StockFootage = &models.StockFootageSpec{Clips: clips}
	}

	slots, err := timeline.Allocate(assets, audioDuration)
	if err != nil {
		return nil, fmt.Errorf("timeline allocation failed: %w", err)
	}
	out.Timeline = slots

	// Captions: accurate path from word timestamps, script-proportional
	// fallback otherwise
	if len(words) > 0 {
		segments, err := captions.SegmentFromWords(words)
		if err != nil {
			return nil, fmt.Errorf("caption segmentation failed: %w", err)
		}
		out.Captions = segments
	} else {
		segments, err := captions.SegmentFromScript(script, audioDuration)
		if err != nil {
			return nil, fmt.Errorf("caption fallback failed: %w", err)
		}
		out.Captions = segments
	}

	if req.OverlayText != nil && *req.OverlayText != "" {
		out.Overlays = []models.TextOverlay{
			{Text: *req.OverlayText, Position: "top", StartSec: 0, EndSec: audioDuration},
		}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("composed request invalid: %w", err)
	}

	log.Printf("[Composer] Request composed (flow=%s, duration=%.1fs, slots=%d, captions=%d)",
		out.Flow, out.DurationSeconds, len(out.Timeline), len(out.Captions))
	return out, nil
}
