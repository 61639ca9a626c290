package timeline

import (
	"fmt"
	"math"

	"github.com/dullyvine/reelforge/internal/models"
)

// ---------------------------------------------------------------------------
// Asset timing allocator
//
// Converts a list of heterogeneous-duration visual assets into a gapless
// timeline matching a fixed target (voiceover) duration, deciding per-asset
// whether the renderer needs to loop a too-short clip or trim a too-long one.
// Pure computation — any change to the asset list triggers a full
// recomputation, never an incremental patch.
// ---------------------------------------------------------------------------

const (
	// MinSlotDuration is the shortest slot the allocator will emit. Anything
	// below this renders as a flash frame.
	MinSlotDuration = 1.0 // seconds

	// durationEpsilon is the tolerance when comparing a clip's native
	// duration against its slot — within it, neither loop nor trim is needed.
	durationEpsilon = 0.05 // seconds
)

// Asset is one visual input to the allocator. NativeDuration is nil for
// assets without an intrinsic length (still images).
type Asset struct {
	ID             string
	NativeDuration *float64
}

// Allocate distributes totalTarget seconds evenly across the assets.
//
// All slots but the last get ceil(totalTarget/count) seconds; the last slot
// absorbs the remainder so the timeline ends at exactly totalTarget. The
// remainder slot is clamped to MinSlotDuration, so with pathologically short
// targets the last slot can extend past totalTarget rather than flash.
func Allocate(assets []Asset, totalTarget float64) ([]models.TimelineSlot, error) {
	if err := checkInputs(assets, totalTarget); err != nil {
		return nil, err
	}

	count := len(assets)
	perSlot := math.Ceil(totalTarget / float64(count))

	durations := make([]float64, count)
	for i := range durations {
		durations[i] = perSlot
	}

	last := totalTarget - perSlot*float64(count-1)
	if last < MinSlotDuration {
		last = MinSlotDuration
	}
	durations[count-1] = last

	return buildSlots(assets, durations), nil
}

// AllocateManual lays out caller-supplied per-asset durations (e.g. from a
// timeline editor), computing only offsets and loop/trim flags. The last
// slot's end is forced to totalTarget — extended or truncated as needed — so
// the contiguity invariant holds even when the supplied durations don't sum
// to the target.
func AllocateManual(assets []Asset, durations []float64, totalTarget float64) ([]models.TimelineSlot, error) {
	if err := checkInputs(assets, totalTarget); err != nil {
		return nil, err
	}
	if len(durations) != len(assets) {
		return nil, fmt.Errorf("got %d durations for %d assets", len(durations), len(assets))
	}
	for i, d := range durations {
		if d <= 0 {
			return nil, fmt.Errorf("duration %d must be positive, got %v", i, d)
		}
	}

	adjusted := make([]float64, len(durations))
	copy(adjusted, durations)

	// Force the final slot to close the timeline at exactly totalTarget.
	var before float64
	for _, d := range adjusted[:len(adjusted)-1] {
		before += d
	}
	last := totalTarget - before
	if last < MinSlotDuration {
		last = MinSlotDuration
	}
	adjusted[len(adjusted)-1] = last

	return buildSlots(assets, adjusted), nil
}

func checkInputs(assets []Asset, totalTarget float64) error {
	if len(assets) == 0 {
		return fmt.Errorf("no assets to allocate")
	}
	if totalTarget <= 0 {
		return fmt.Errorf("total target duration must be positive, got %v", totalTarget)
	}
	return nil
}

// buildSlots converts per-slot durations into TimelineSlots. Offsets come
// from a single cumulative pass over the durations, not incremental addition
// per caller, so long asset lists don't accumulate float drift differently
// between runs.
func buildSlots(assets []Asset, durations []float64) []models.TimelineSlot {
	slots := make([]models.TimelineSlot, len(assets))

	var offset float64
	for i, asset := range assets {
		dur := durations[i]
		slot := models.TimelineSlot{
			AssetRef:       asset.ID,
			TargetDuration: dur,
			StartOffset:    offset,
			EndOffset:      offset + dur,
			NativeDuration: asset.NativeDuration,
		}

		if asset.NativeDuration != nil {
			native := *asset.NativeDuration
			if native < dur-durationEpsilon {
				slot.NeedsLoop = true
			} else if native > dur+durationEpsilon {
				slot.NeedsTrim = true
			}
		}

		slots[i] = slot
		offset = slot.EndOffset
	}

	return slots
}
