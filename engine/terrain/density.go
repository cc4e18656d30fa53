package terrain

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/anthonynsimon/bild/transform"
	"go.uber.org/zap"
)

func (t *terrain) PrepareDensityMaps(prototypes []*DetailPrototype, resolution int) error {
	if t.released {
		return ErrReleased
	}
	if resolution < 1 {
		return fmt.Errorf("%d: %w", resolution, ErrInvalidResolution)
	}

	staged := make([]common.TextureStagingData, len(prototypes))
	errs := make([]error, len(prototypes))
	var wg sync.WaitGroup
	for i, p := range prototypes {
		if p == nil {
			continue
		}
		wg.Add(1)
		t.densityPool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				staged[i], errs[i] = ResampleDensity(p.DensityMap, resolution)
				if errs[i] != nil {
					errs[i] = fmt.Errorf("density map %q: %w", p.Name, errs[i])
				}
				return nil, errs[i]
			},
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for i, p := range prototypes {
		if p == nil {
			continue
		}
		if err := t.uploadDensity(p, staged[i]); err != nil {
			return err
		}
	}
	t.logger.Debug("density maps prepared", zap.Int("prototypes", len(prototypes)), zap.Int("resolution", resolution))
	return nil
}

func (t *terrain) uploadDensity(p *DetailPrototype, staged common.TextureStagingData) error {
	if p.DensityTexture.Valid() && p.DensityTexture.Descriptor().Width == staged.Width {
		return t.r.WriteTexture(p.DensityTexture, staged.Pixels)
	}
	t.r.ReleaseTexture(p.DensityTexture)
	tex, err := t.r.CreateTexture(singleChannelDescriptor("Density "+p.Name, int(staged.Width)), staged.Pixels)
	if err != nil {
		return fmt.Errorf("failed to upload density map %q: %w", p.Name, err)
	}
	p.DensityTexture = tex
	return nil
}

// ResampleDensity resizes a density map to resolution x resolution with linear filtering and
// keeps its red channel. A nil map yields full density everywhere.
//
// Parameters:
//   - img: the authored density map, may be nil
//   - resolution: the output edge in texels
//
// Returns:
//   - common.TextureStagingData: single channel staging data
//   - error: an error if the resolution is invalid
func ResampleDensity(img image.Image, resolution int) (common.TextureStagingData, error) {
	if resolution < 1 {
		return common.TextureStagingData{}, ErrInvalidResolution
	}
	if img == nil || img.Bounds().Empty() {
		pixels := make([]byte, resolution*resolution)
		for i := range pixels {
			pixels[i] = 255
		}
		return common.TextureStagingData{Pixels: pixels, Width: uint32(resolution), Height: uint32(resolution), Channels: 1}, nil
	}
	return common.ImageToStaging(transform.Resize(img, resolution, resolution, transform.Linear), 1)
}

// HeightsFromImage resamples a grayscale heightmap image to resolution x resolution heights
// in [0, 1], read from the red channel.
//
// Parameters:
//   - img: the heightmap image
//   - resolution: the output edge in samples
//
// Returns:
//   - []float32: row-major heights
//   - error: an error if the resolution is below two or the image is empty
func HeightsFromImage(img image.Image, resolution int) ([]float32, error) {
	if resolution < 2 || img == nil || img.Bounds().Empty() {
		return nil, ErrInvalidHeightmap
	}
	staged, err := common.ImageToStaging(transform.Resize(img, resolution, resolution, transform.Linear), 1)
	if err != nil {
		return nil, err
	}
	heights := make([]float32, len(staged.Pixels))
	for i, v := range staged.Pixels {
		heights[i] = float32(v) / 255
	}
	return heights, nil
}
