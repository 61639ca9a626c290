package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ---------------------------------------------------------------------------
// Pexels Stock Footage Service
// Searches the Pexels video library for the stock-footage flow. Each result
// carries its native duration, which the timing allocator uses to decide
// loop/trim treatment per slot.
// ---------------------------------------------------------------------------

const pexelsBaseURL = "https://api.pexels.com"

type StockService struct {
	apiKey string
	client *http.Client
}

func NewStockService(apiKey string) *StockService {
	return &StockService{
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// StockVideo is one search result with a directly downloadable file URL.
type StockVideo struct {
	ID              int
	URL             string
	DurationSeconds float64
	Width           int
	Height          int
}

type pexelsSearchResponse struct {
	Videos []pexelsVideo `json:"videos"`
}

type pexelsVideo struct {
	ID         int               `json:"id"`
	Duration   int               `json:"duration"`
	VideoFiles []pexelsVideoFile `json:"video_files"`
}

type pexelsVideoFile struct {
	Link    string `json:"link"`
	Quality string `json:"quality"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// SearchVideos returns up to count stock clips matching the query,
// portrait-oriented for vertical video.
func (s *StockService) SearchVideos(ctx context.Context, query string, count int) ([]StockVideo, error) {
	if query == "" {
		return nil, fmt.Errorf("stock search query is empty")
	}
	if count <= 0 {
		count = 1
	}

	reqURL := fmt.Sprintf("%s/videos/search?query=%s&per_page=%d&orientation=portrait",
		pexelsBaseURL, url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pexels request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pexels response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pexels returned status %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}

	var search pexelsSearchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("failed to parse pexels response: %w", err)
	}

	if len(search.Videos) == 0 {
		return nil, fmt.Errorf("no stock videos found for query %q", query)
	}

	videos := make([]StockVideo, 0, len(search.Videos))
	for _, v := range search.Videos {
		file := pickVideoFile(v.VideoFiles)
		if file == nil {
			continue
		}
		videos = append(videos, StockVideo{
			ID:              v.ID,
			URL:             file.Link,
			DurationSeconds: float64(v.Duration),
			Width:           file.Width,
			Height:          file.Height,
		})
	}

	if len(videos) == 0 {
		return nil, fmt.Errorf("stock results for %q had no usable video files", query)
	}

	log.Printf("[Pexels] Found %d stock clips for %q", len(videos), query)
	return videos, nil
}

// pickVideoFile prefers an HD rendition, falling back to the first file.
func pickVideoFile(files []pexelsVideoFile) *pexelsVideoFile {
	for i := range files {
		if files[i].Quality == "hd" {
			return &files[i]
		}
	}
	if len(files) > 0 {
		return &files[0]
	}
	return nil
}
