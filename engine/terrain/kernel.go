package terrain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-instancer/common"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/resource"
	"github.com/Carmen-Shannon/oxy-instancer/engine/renderer/shader"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrMissingBinding is returned by the CPU kernel when a dispatch lacks a binding it reads.
var ErrMissingBinding = errors.New("terrain: missing binding")

// texels is a CPU view of a bound texture.
type texels struct {
	pixels []byte
	desc   resource.TextureDescriptor
}

// load returns channel c of the texel under uv, clamped to the edges.
func (tx texels) load(uv mgl32.Vec2, c int) float32 {
	w, h := int(tx.desc.Width), int(tx.desc.Height)
	x := min(int(uv.X()*float32(w)), w-1)
	y := min(int(uv.Y()*float32(h)), h-1)
	return tx.at(x, y, c)
}

func (tx texels) at(x, y, c int) float32 {
	i := y*int(tx.desc.Width) + x
	if tx.desc.Format == resource.TextureFormatR32Float {
		return math.Float32frombits(binary.LittleEndian.Uint32(tx.pixels[i*4:]))
	}
	bpp := tx.desc.Format.BytesPerPixel()
	if c >= bpp {
		return 0
	}
	return float32(tx.pixels[i*bpp+c]) / 255
}

// bilinear interpolates channel 0 across the texel grid spanning uv in [0, 1].
func (tx texels) bilinear(uv mgl32.Vec2) float32 {
	w, h := int(tx.desc.Width), int(tx.desc.Height)
	px := common.Clamp(uv.X(), 0, 1) * float32(w-1)
	py := common.Clamp(uv.Y(), 0, 1) * float32(h-1)
	x0, y0 := int(px), int(py)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := px-float32(x0), py-float32(y0)
	top := lerp(tx.at(x0, y0, 0), tx.at(x1, y0, 0), fx)
	bottom := lerp(tx.at(x0, y1, 0), tx.at(x1, y1, 0), fx)
	return lerp(top, bottom, fy)
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

// Kernel is the CPU implementation of the vegetation kernel. It visits the detail grid in
// row-major order and places at most one instance per cell, the way the compute shader does.
//
// Parameters:
//   - d: the dispatch, with the vegetation bindings in d.Bindings
//   - mem: host memory of the bound resources
//
// Returns:
//   - error: an error if a binding is missing or too small
func Kernel(d renderer.ComputeDispatch, mem renderer.BufferMemory) error {
	b := d.Bindings
	if b == nil {
		return fmt.Errorf("%s: %w", d.Label, ErrMissingBinding)
	}
	transforms, counter, raw := mem.Bytes(b.Buffer(BindingTransforms)), mem.Bytes(b.Buffer(BindingCounter)), mem.Bytes(b.Buffer(BindingUniforms))
	if transforms == nil || len(counter) < 4 || raw == nil {
		return fmt.Errorf("%s: %w", d.Label, ErrMissingBinding)
	}
	u, err := UnmarshalUniforms(raw)
	if err != nil {
		return fmt.Errorf("%s uniforms: %w", d.Label, err)
	}

	maps := map[int]texels{}
	for _, binding := range []int{BindingDensity, BindingHeight, BindingHoles, BindingNoise} {
		tex := b.Texture(binding)
		pixels := mem.Pixels(tex)
		if pixels == nil {
			return fmt.Errorf("%s binding %d: %w", d.Label, binding, ErrMissingBinding)
		}
		maps[binding] = texels{pixels: pixels, desc: tex.Descriptor()}
	}
	density, height, holes, noise := maps[BindingDensity], maps[BindingHeight], maps[BindingHoles], maps[BindingNoise]
	reduce := d.Keywords.Has(shader.KeywordDensityReduceByDistance)
	testHoles := d.Keywords.Has(shader.KeywordTerrainHoles)

	res := int(u.DetailResolution)
	origin, size, cam := mgl32.Vec3(u.TerrainPosition), mgl32.Vec3(u.TerrainSize), mgl32.Vec3(u.CameraPosition)
	for y := range res {
		for x := range res {
			cell := mgl32.Vec2{float32(x) + 0.5, float32(y) + 0.5}
			n := [4]float32{}
			for c := range n {
				n[c] = noise.load(cell.Mul(1/float32(res)), c)
			}
			jitter := mgl32.Vec2{n[0] - 0.5, n[1] - 0.5}.Mul(u.NoiseSpread)
			local := cell.Add(jitter).Mul(1 / float32(res))
			local = mgl32.Vec2{common.Clamp(local.X(), 0, 1), common.Clamp(local.Y(), 0, 1)}

			if testHoles && holes.load(local, 0) < 0.5 {
				continue
			}
			world := origin.Add(mgl32.Vec3{local.X() * size.X(), height.bilinear(local) * size.Y(), local.Y() * size.Z()})
			dist := world.Sub(cam).Len()
			if dist > u.ViewDistance {
				continue
			}
			dens := density.at(min(x, int(density.desc.Width)-1), min(y, int(density.desc.Height)-1), 0) * u.Density
			if reduce {
				dens *= common.Clamp(1-dist/u.ViewDistance, 0, 1)
			}
			if n[2] >= dens {
				continue
			}

			slot := binary.LittleEndian.Uint32(counter)
			if slot >= u.MaxInstances {
				continue
			}
			offset := int(u.StartIndex+slot) * TransformSize
			if offset+TransformSize > len(transforms) {
				return fmt.Errorf("%s transforms: %w", d.Label, ErrMissingBinding)
			}
			binary.LittleEndian.PutUint32(counter, slot+1)
			scale := lerp(u.MinScale, u.MaxScale, n[3])
			common.PutMatrix4x4(transforms[offset:], common.BuildModelMatrix(world, n[3]*2*math32.Pi, scale))
		}
	}
	return nil
}
