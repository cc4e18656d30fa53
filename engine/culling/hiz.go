package culling

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/chewxy/math32"
)

// HiZPipelineKey is the compute pipeline key of the Hi-Z reduction.
const HiZPipelineKey = "instancer_hiz"

// HiZReduction is the number of depth texels per Hi-Z texel along each axis.
const HiZReduction = 4

// HiZWorkgroupSize is the edge of one square Hi-Z workgroup.
const HiZWorkgroupSize = 8

// Bindings of the Hi-Z dispatch.
const (
	BindingDepth  = 0
	BindingHiZOut = 1
)

// NewHiZPipeline returns the compute pipeline that reduces the depth attachment to the Hi-Z
// texture, keeping the farthest depth of every block.
//
// Returns:
//   - pipeline.Pipeline: the pipeline description
func NewHiZPipeline() pipeline.Pipeline {
	return pipeline.NewPipeline(HiZPipelineKey, pipeline.PipelineTypeCompute,
		pipeline.WithComputeShader(shader.NewShader(HiZPipelineKey, shader.ShaderTypeCompute, hiZSource, "cs_build_hiz", nil)),
		pipeline.WithReflectedLayouts(),
	)
}

// HiZDescriptor returns the Hi-Z texture descriptor for a depth attachment size.
//
// Parameters:
//   - width: the depth width in pixels
//   - height: the depth height in pixels
//
// Returns:
//   - resource.TextureDescriptor: the Hi-Z texture descriptor
func HiZDescriptor(width, height uint32) resource.TextureDescriptor {
	return resource.TextureDescriptor{
		Label:          "Hi-Z",
		Width:          max(common.DivCeil(width, HiZReduction), 1),
		Height:         max(common.DivCeil(height, HiZReduction), 1),
		Format:         resource.TextureFormatR32Float,
		MipLevelCount:  1,
		StorageBinding: true,
	}
}

// HiZWorkgroupCount returns the dispatch size covering a Hi-Z texture.
func HiZWorkgroupCount(desc resource.TextureDescriptor) [3]uint32 {
	return [3]uint32{common.DivCeil(desc.Width, HiZWorkgroupSize), common.DivCeil(desc.Height, HiZWorkgroupSize), 1}
}

// HiZKernel is the CPU implementation of the Hi-Z reduction.
//
// Parameters:
//   - d: the dispatch, with the depth and output textures in d.Bindings
//   - mem: host memory of the bound resources
//
// Returns:
//   - error: an error if a texture is missing
func HiZKernel(d renderer.ComputeDispatch, mem renderer.BufferMemory) error {
	if d.Bindings == nil {
		return fmt.Errorf("%s: %w", d.Label, ErrMissingBinding)
	}
	depthTex, outTex := d.Bindings.Texture(BindingDepth), d.Bindings.Texture(BindingHiZOut)
	depth, out := mem.Pixels(depthTex), mem.Pixels(outTex)
	if depth == nil || out == nil {
		return fmt.Errorf("%s: %w", d.Label, ErrMissingBinding)
	}
	src, dst := depthTex.Descriptor(), outTex.Descriptor()
	sw, sh := int(src.Width), int(src.Height)
	if len(depth) < sw*sh*4 || len(out) < int(dst.Width*dst.Height)*4 {
		return fmt.Errorf("%s: %w", d.Label, ErrBindingTooSmall)
	}
	read := func(x, y int) float32 {
		x, y = min(x, sw-1), min(y, sh-1)
		return math.Float32frombits(binary.LittleEndian.Uint32(depth[(y*sw+x)*4:]))
	}
	for y := range int(dst.Height) {
		for x := range int(dst.Width) {
			var farthest float32
			for by := range HiZReduction {
				for bx := range HiZReduction {
					farthest = math32.Max(farthest, read(x*HiZReduction+bx, y*HiZReduction+by))
				}
			}
			binary.LittleEndian.PutUint32(out[(y*int(dst.Width)+x)*4:], math.Float32bits(farthest))
		}
	}
	return nil
}
