package vrend

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Neathan/vrend/driver"
	"github.com/Neathan/vrend/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func newTestAssets(t *testing.T, opts ...ContextOption) (*Assets, *Context, *drivertest.Device) {
	t.Helper()
	ctx, dev := newTestContext(t, opts...)
	assets, err := NewAssets(ctx)
	require.NoError(t, err)
	return assets, ctx, dev
}

func viewImage(ref TextureRef) *drivertest.Image {
	return ref.Texture().View.(*drivertest.ImageView).Image()
}

func TestAssetsDefaultTextures(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()

	want := []struct {
		texel  []byte
		format vk.Format
	}{
		{[]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Srgb},
		{[]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Unorm},
		{[]byte{128, 128, 255, 255}, vk.FormatR8g8b8a8Unorm},
		{[]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Unorm},
		{[]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Srgb},
	}
	for slot, w := range want {
		tex := assets.DefaultTexture(slot)
		require.NotNil(t, tex, "slot %d", slot)
		img := tex.Image.(*drivertest.Image)
		assert.Equal(t, w.format, img.Desc().Format, "slot %d", slot)
		assert.Equal(t, w.texel, img.Texels(), "slot %d", slot)
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, img.Layout())
		assert.Same(t, img, tex.View.(*drivertest.ImageView).Image())

		info := tex.Descriptor()
		assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, info.Layout)
	}

	assets.Destroy()
	assert.False(t, leaked(dev, "image"))
	assert.False(t, leaked(dev, "image view"))
	assert.False(t, leaked(dev, "sampler"))
	requireNoViolations(t, dev)
}

func TestCreateTextureClampsAnisotropy(t *testing.T) {
	for _, tc := range []struct {
		name string
		opt  float32
		want float32
	}{
		{"device limit", 0, 16},
		{"below limit", 4, 4},
		{"above limit", 64, 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assets, ctx, _ := newTestAssets(t, WithMaxAnisotropy(tc.opt))
			defer ctx.Destroy()
			defer assets.Destroy()

			props := TextureProperties{
				MagFilter:    vk.FilterNearest,
				MinFilter:    vk.FilterLinear,
				AddressModeU: vk.SamplerAddressModeClampToEdge,
				AddressModeV: vk.SamplerAddressModeMirroredRepeat,
				AddressModeW: vk.SamplerAddressModeRepeat,
			}
			tex, err := assets.CreateTexture(assets.DefaultTexture(0).Image, props)
			require.NoError(t, err)
			defer tex.Destroy()

			assert.Equal(t, driver.SamplerDesc{
				MagFilter:     vk.FilterNearest,
				MinFilter:     vk.FilterLinear,
				AddressModeU:  vk.SamplerAddressModeClampToEdge,
				AddressModeV:  vk.SamplerAddressModeMirroredRepeat,
				AddressModeW:  vk.SamplerAddressModeRepeat,
				MaxAnisotropy: tc.want,
			}, tex.Sampler.(*drivertest.Sampler).Desc())
		})
	}
}

func TestCreateTextureSamplerFailure(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()
	defer assets.Destroy()

	dev.Fail("CreateSampler", vk.ErrorOutOfHostMemory)
	_, err := assets.CreateTexture(assets.DefaultTexture(0).Image, DefaultTextureProperties())
	require.ErrorIs(t, err, ErrResourceCreation)
	assert.Contains(t, dev.Leaks(), "5 image view", "view released with the failed sampler")
}

func TestTextureRefs(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()
	defer assets.Destroy()

	tex, err := assets.CreateTexture(assets.DefaultTexture(1).Image, DefaultTextureProperties())
	require.NoError(t, err)

	shared := Shared(tex)
	shared.Release()
	assert.NotNil(t, tex.View, "shared release keeps the texture")
	assert.Same(t, tex, shared.Texture())

	owned := Owned(tex)
	owned.Release()
	assert.Nil(t, tex.View)
	assert.Nil(t, tex.Sampler)
	assert.Contains(t, dev.Leaks(), "5 image view")
	assert.Contains(t, dev.Leaks(), "5 image", "the image belongs to its owner")
}

func TestLoadImage(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()
	defer assets.Destroy()

	pixels := pattern(8 * 4 * 4)
	img, err := assets.LoadImage(pixels, 8, 4, vk.FormatR8g8b8a8Unorm)
	require.NoError(t, err)
	defer img.Destroy()

	fake := img.Image.(*drivertest.Image)
	assert.Equal(t, pixels, fake.Texels())
	assert.Equal(t, vk.ImageUsageFlags(vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit), fake.Desc().Usage)
	assert.Equal(t, deviceLocal, img.Memory.(*drivertest.Memory).Flags()&deviceLocal)

	before := dev.Stats().Images
	_, err = assets.LoadImage(pixels[:10], 8, 4, vk.FormatR8g8b8a8Unorm)
	require.Error(t, err)
	assert.Equal(t, before+1, dev.Stats().Images)
	assert.Contains(t, dev.Leaks(), "6 image", "rejected image released")
}

func checker() *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			if (x+y)%2 == 0 {
				m.Set(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				m.Set(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}
	return m
}

var checkerRGBA = []byte{
	255, 0, 0, 255, 0, 0, 255, 255, 255, 0, 0, 255,
	0, 0, 255, 255, 255, 0, 0, 255, 0, 0, 255, 255,
}

func TestDecodeImage(t *testing.T) {
	encoders := map[string]func(*bytes.Buffer) error{
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, checker()) },
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, checker()) },
		"tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, checker(), nil) },
	}
	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf))

			m, err := DecodeImage(&buf)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 3, 2), m.Bounds())
			assert.Equal(t, checkerRGBA, m.Pix)
		})
	}

	_, err := DecodeImage(bytes.NewReader([]byte("definitely not an image")))
	require.Error(t, err)
}

func TestLoadImageFile(t *testing.T) {
	assets, ctx, _ := newTestAssets(t)
	defer ctx.Destroy()
	defer assets.Destroy()

	dir := t.TempDir()
	path := filepath.Join(dir, "checker.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checker()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err := assets.LoadImageFile(path, vk.FormatR8g8b8a8Srgb)
	require.NoError(t, err)
	defer img.Destroy()

	fake := img.Image.(*drivertest.Image)
	assert.Equal(t, uint32(3), fake.Desc().Width)
	assert.Equal(t, uint32(2), fake.Desc().Height)
	assert.Equal(t, checkerRGBA, fake.Texels())

	_, err = assets.LoadImageFile(filepath.Join(dir, "missing.png"), vk.FormatR8g8b8a8Srgb)
	require.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()

	src := quadSource()
	model, err := assets.LoadModel(src)
	require.NoError(t, err)

	assert.Equal(t, src.VertexData, model.VertexBuffer().(*drivertest.Buffer).Bytes())
	assert.Equal(t, []int{0}, model.Nodes())
	require.Len(t, model.Meshes(0), 1)
	assert.Equal(t, uint32(6), model.Meshes(0)[0].IndexCount)
	require.Equal(t, 1, model.MaterialCount())

	mat := model.Material(0)
	require.IsType(t, OwnedTexture{}, mat.Color)
	assert.Equal(t, src.ImageData, viewImage(mat.Color).Texels())
	assert.Equal(t, vk.FormatR8g8b8a8Srgb, viewImage(mat.Color).Desc().Format)

	defaults := []TextureRef{mat.MetallicRoughness, mat.Normal, mat.Occlusion, mat.Emissive}
	for i, ref := range defaults {
		require.IsType(t, SharedTexture{}, ref, "slot %d", i+1)
		assert.Same(t, assets.DefaultTexture(i+1), ref.Texture())
	}

	// Every frame slot has its own factors and a set pointing at the textures.
	assert.NotSame(t, mat.Factors(0), mat.Factors(1))
	for slot := 0; slot < FramesInFlight; slot++ {
		assert.Equal(t, DefaultMaterialFactors(), *mat.Factors(slot))
		set := mat.Set(slot).(*drivertest.DescriptorSet)
		w, ok := set.Write(0)
		require.True(t, ok)
		assert.Equal(t, mat.factors[slot].Descriptor(), *w.Buffer)
		for i, ref := range []TextureRef{mat.Color, mat.MetallicRoughness, mat.Normal, mat.Occlusion, mat.Emissive} {
			w, ok := set.Write(uint32(i + 1))
			require.True(t, ok, "binding %d", i+1)
			assert.Equal(t, ref.Texture().Descriptor(), *w.Image)
		}
	}

	model.Destroy()
	assert.ElementsMatch(t, []string{
		"5 image", "5 memory", "5 image view", "5 sampler",
		"1 command pool", "1 descriptor pool", "1 descriptor set layout",
	}, dev.Leaks())

	assets.Destroy()
	requireNoViolations(t, dev)
}

func TestLoadModelSharesImagesAcrossMaterials(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()
	defer assets.Destroy()

	src := quadSource()
	second := DefaultMaterialSource()
	second.Color = 0
	second.Emissive = 0
	src.Materials = append(src.Materials, second)

	model, err := assets.LoadModel(src)
	require.NoError(t, err)
	require.Equal(t, 2, model.MaterialCount())

	a, b := model.Material(0), model.Material(1)
	assert.Same(t, viewImage(a.Color), viewImage(b.Color))
	assert.Same(t, viewImage(a.Color), viewImage(b.Emissive))
	assert.NotSame(t, a.Color.Texture(), b.Color.Texture(), "each slot owns its view")

	a.Destroy()
	assert.Equal(t, src.ImageData, viewImage(b.Color).Texels(), "image outlives one material")

	model.materials = model.materials[1:]
	model.Destroy()
	assert.Contains(t, dev.Leaks(), "5 image")
	requireNoViolations(t, dev)
}

func TestLoadModelRejectsInvalidSources(t *testing.T) {
	cases := map[string]func(*ModelSource){
		"no vertex data":    func(s *ModelSource) { s.VertexData = nil },
		"stream past end":   func(s *ModelSource) { s.Meshes[0][0].IndexLength += 4 },
		"too many indices":  func(s *ModelSource) { s.Meshes[0][0].IndexCount = 7 },
		"unknown material":  func(s *ModelSource) { s.Meshes[0][0].MaterialIndex = 1 },
		"image past end":    func(s *ModelSource) { s.Images[0].Offset = 4 },
		"unknown image":     func(s *ModelSource) { s.Textures[0].Image = 2 },
		"size mismatch":     func(s *ModelSource) { s.Textures[0].Format = vk.FormatR8Unorm },
		"unknown texture":   func(s *ModelSource) { s.Materials[0].Normal = 3 },
		"negative material": func(s *ModelSource) { s.Meshes[0][0].MaterialIndex = -1 },
		"overflowing range": func(s *ModelSource) { s.Meshes[0][0].UVStart = ^uint64(0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			assets, ctx, dev := newTestAssets(t)
			defer ctx.Destroy()
			defer assets.Destroy()

			src := quadSource()
			mutate(src)
			before := dev.Stats()
			_, err := assets.LoadModel(src)
			require.Error(t, err)
			assert.Equal(t, before, dev.Stats(), "validated before any device work")
		})
	}
}

func TestModelSourceRejectsMisalignedStreams(t *testing.T) {
	cases := map[string]func(*ModelSource){
		"index":    func(s *ModelSource) { s.Meshes[0][0].IndexStart += 2 },
		"position": func(s *ModelSource) { s.Meshes[0][0].PositionStart += 1 },
		"uv":       func(s *ModelSource) { s.Meshes[0][0].UVStart += 2 },
		"normal":   func(s *ModelSource) { s.Meshes[0][0].NormalStart += 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			src := quadSource()
			// Padding keeps the shifted stream inside the vertex data.
			src.VertexData = append(src.VertexData, 0, 0, 0, 0)
			require.NoError(t, src.Validate())
			mutate(src)
			assert.ErrorContains(t, src.Validate(), "aligned")
		})
	}
}

func TestModelSourceRejectsUnknownTextureFormat(t *testing.T) {
	src := quadSource()
	src.Textures[0].Format = vk.FormatBc1RgbUnormBlock
	assert.ErrorContains(t, src.Validate(), "unsupported format")
}

func TestLoadModelFailureReleasesPartialModel(t *testing.T) {
	for _, op := range []string{"CreateImage", "CreateSampler", "AllocateDescriptorSets"} {
		t.Run(op, func(t *testing.T) {
			assets, ctx, dev := newTestAssets(t)
			defer ctx.Destroy()
			defer assets.Destroy()
			before := dev.Leaks()

			dev.Fail(op, vk.ErrorOutOfDeviceMemory)
			_, err := assets.LoadModel(quadSource())
			require.ErrorIs(t, err, ErrResourceCreation)

			for _, kind := range []string{"buffer", "image", "image view", "sampler"} {
				assert.Equal(t, leaked(dev, kind), containsSuffix(before, " "+kind), kind)
			}
			assert.Subset(t, before, dev.Leaks())
		})
	}
}

func containsSuffix(list []string, suffix string) bool {
	for _, s := range list {
		if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func TestMaterialLayoutBindings(t *testing.T) {
	b := MaterialLayoutBindings()
	require.Len(t, b, 6)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, b[0].Type)
	assert.Equal(t, vertex|fragment, b[0].Stages)
	for i := 1; i < 6; i++ {
		assert.Equal(t, uint32(i), b[i].Binding)
		assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, b[i].Type)
		assert.Equal(t, fragment, b[i].Stages)
	}
}

func TestMaterialUsesFrameLayout(t *testing.T) {
	assets, ctx, dev := newTestAssets(t)
	defer ctx.Destroy()
	defer assets.Destroy()

	var refs [materialTextureSlots]TextureRef
	for i := range refs {
		refs[i] = Shared(assets.DefaultTexture(i))
	}
	factors := DefaultMaterialFactors()
	factors.Metallic = 1
	mat, err := NewMaterial(ctx, refs, factors)
	require.NoError(t, err)

	layout, err := ctx.LayoutCache().CreateDescriptorLayout(MaterialLayoutBindings())
	require.NoError(t, err)
	for slot := 0; slot < FramesInFlight; slot++ {
		assert.Same(t, layout, mat.Set(slot).(*drivertest.DescriptorSet).Layout())
		assert.Equal(t, float32(1), mat.Factors(slot).Metallic)
	}

	mat.Destroy()
	assert.Contains(t, dev.Leaks(), "5 sampler", "shared textures survive the material")
	requireNoViolations(t, dev)
}
