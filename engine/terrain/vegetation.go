package terrain

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/config"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/property_block"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// PipelineKey is the compute pipeline key of the vegetation kernel.
const PipelineKey = "terrain_vegetation"

// WorkgroupSize is the edge of one square vegetation workgroup.
const WorkgroupSize = 8

// TransformSize is the byte size of one generated transform.
const TransformSize = 64

// Bindings of the vegetation dispatch, all in group 0.
const (
	BindingTransforms = 0
	BindingCounter    = 1
	BindingUniforms   = 2
	BindingDensity    = 3
	BindingHeight     = 4
	BindingHoles      = 5
	BindingNoise      = 6
)

// NewPipeline returns the vegetation compute pipeline. The heightmap is R32Float, which WebGPU
// only samples as unfilterable.
//
// Returns:
//   - pipeline.Pipeline: the pipeline description
func NewPipeline() pipeline.Pipeline {
	cs := shader.NewShader(PipelineKey, shader.ShaderTypeCompute, vegetationSource, "cs_generate", nil)
	layout := shader.Reflect(cs).BindGroupLayouts[0]
	for i := range layout.Entries {
		if layout.Entries[i].Binding == BindingHeight {
			layout.Entries[i].Texture.SampleType = wgpu.TextureSampleTypeUnfilterableFloat
		}
	}
	layout.Label = PipelineKey + " group 0"
	return pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeCompute,
		pipeline.WithComputeShader(cs),
		pipeline.WithBindGroupLayout(0, layout),
	)
}

// WorkgroupCount returns the 2D dispatch covering a detail grid.
func WorkgroupCount(detailResolution int) [3]uint32 {
	n := common.DivCeil(uint32(max(detailResolution, 0)), WorkgroupSize)
	return [3]uint32{n, n, 1}
}

func (t *terrain) GenerateVegetation(prototypes []*DetailPrototype, transformBuffer, counterBuffer *resource.Buffer, cameraPos mgl32.Vec3, viewDistance float32, noiseTexture *resource.Texture, sizeAndIndexes SizeAndIndexes) (bool, error) {
	if !t.Initialized() || !t.IsTerrainWithinViewDistance(cameraPos, viewDistance) {
		return false, nil
	}
	res := sizeAndIndexes.DetailResolution
	if res < 1 {
		return false, fmt.Errorf("%d: %w", res, ErrInvalidResolution)
	}
	if !transformBuffer.Valid() || !counterBuffer.Valid() || !noiseTexture.Valid() {
		return false, ErrMissingResource
	}
	slots := int(transformBuffer.Size()/TransformSize) - sizeAndIndexes.StartIndex
	if sizeAndIndexes.StartIndex < 0 || slots <= 0 {
		return false, fmt.Errorf("start index %d: %w", sizeAndIndexes.StartIndex, ErrMissingResource)
	}
	if sizeAndIndexes.MaxInstances > 0 {
		slots = min(slots, sizeAndIndexes.MaxInstances)
	}

	holes, holesEnabled, err := t.holesTexture()
	if err != nil {
		return false, err
	}
	if err := t.r.WriteBuffer(counterBuffer, 0, make([]byte, 4)); err != nil {
		return false, err
	}

	if err := t.r.BeginComputeFrame(); err != nil {
		return false, err
	}
	defer t.r.EndComputeFrame()

	dispatched := 0
	for _, p := range prototypes {
		if p == nil || p.SubSettingIndex != sizeAndIndexes.SubSettingIndex {
			continue
		}
		if !p.DensityTexture.Valid() {
			t.logger.Debug("skipping prototype without density texture", zap.String("prototype", p.Name))
			continue
		}

		uniforms, err := t.uniformBuffer(dispatched)
		if err != nil {
			return false, err
		}
		u := GPUVegetationUniforms{
			TerrainPosition:  t.position,
			ViewDistance:     viewDistance,
			TerrainSize:      t.size,
			Density:          p.Density,
			CameraPosition:   cameraPos,
			MinScale:         p.MinScale,
			MaxScale:         max(p.MaxScale, p.MinScale),
			DetailResolution: uint32(res),
			MaxInstances:     uint32(slots),
			StartIndex:       uint32(sizeAndIndexes.StartIndex),
			NoiseSpread:      common.Clamp(p.NoiseSpread, 0, 1),
		}
		if err := t.r.WriteBuffer(uniforms, 0, u.Marshal()); err != nil {
			return false, err
		}

		keywords := shader.KeywordSet("").
			Toggle(shader.KeywordDensityReduceByDistance, p.ReduceByDistance).
			Toggle(shader.KeywordTerrainHoles, holesEnabled)
		err = t.r.DispatchCompute(renderer.ComputeDispatch{
			Label:       "Vegetation " + p.Name,
			PipelineKey: PipelineKey,
			Keywords:    keywords,
			Bindings: property_block.NewPropertyBlock("Vegetation "+p.Name,
				property_block.WithBuffer(BindingTransforms, transformBuffer),
				property_block.WithBuffer(BindingCounter, counterBuffer),
				property_block.WithBuffer(BindingUniforms, uniforms),
				property_block.WithTexture(BindingDensity, p.DensityTexture),
				property_block.WithTexture(BindingHeight, t.heightTex),
				property_block.WithTexture(BindingHoles, holes),
				property_block.WithTexture(BindingNoise, noiseTexture),
			),
			WorkgroupCount: WorkgroupCount(res),
		})
		if err != nil {
			t.logger.Error("vegetation dispatch failed", zap.String("prototype", p.Name), zap.Error(err))
			return false, err
		}
		dispatched++
	}
	return true, nil
}

// uniformBuffer returns the i-th uniform buffer of the call. Each dispatch of a compute frame
// keeps its own block because queued writes land before the batch is submitted.
func (t *terrain) uniformBuffer(i int) (*resource.Buffer, error) {
	for len(t.uniforms) <= i {
		buf, err := t.r.CreateBuffer(fmt.Sprintf("Vegetation Uniforms %d", len(t.uniforms)), UniformsSize,
			resource.BufferUsageUniform|resource.BufferUsageCopyDst)
		if err != nil {
			return nil, err
		}
		t.uniforms = append(t.uniforms, buf)
	}
	return t.uniforms[i], nil
}

// holesTexture returns the texture bound as the holes map and whether holes are tested.
// Initialization samples the holes once and caches the texture, Runtime samples on every
// call and None never samples.
func (t *terrain) holesTexture() (*resource.Texture, bool, error) {
	switch t.holesSampling {
	case config.HolesNone:
		return t.solidTex, false, nil
	case config.HolesInitialization:
		if t.holesTex.Valid() {
			return t.holesTex, true, nil
		}
	}

	staged, ok := t.sampleHoles()
	if !ok {
		return t.solidTex, false, nil
	}
	if len(staged.Pixels) != int(staged.Width*staged.Height) {
		return nil, false, fmt.Errorf("holes map %dx%d with %d bytes: %w", staged.Width, staged.Height, len(staged.Pixels), ErrMissingResource)
	}
	if t.holesTex.Valid() && t.holesTex.Descriptor().Width == staged.Width && t.holesTex.Descriptor().Height == staged.Height {
		return t.holesTex, true, t.r.WriteTexture(t.holesTex, staged.Pixels)
	}
	t.r.ReleaseTexture(t.holesTex)
	desc := singleChannelDescriptor("Terrain Holes", int(staged.Width))
	desc.Height = staged.Height
	tex, err := t.r.CreateTexture(desc, staged.Pixels)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upload holes map: %w", err)
	}
	t.holesTex = tex
	return tex, true, nil
}

func (t *terrain) sampleHoles() (common.TextureStagingData, bool) {
	if t.holesSource != nil {
		staged := t.holesSource()
		return staged, len(staged.Pixels) > 0
	}
	return t.holes, len(t.holes.Pixels) > 0
}
