package vrend

import (
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Assets creates images, textures and models, and owns the default textures
// used by material slots without a texture.
type Assets struct {
	ctx *Context

	defaultImages   [materialTextureSlots]*AllocatedImage
	defaultTextures [materialTextureSlots]*Texture
}

// defaultTexels are the 1x1 defaults of the color, metallic-roughness,
// normal, occlusion and emissive slots.
var defaultTexels = [materialTextureSlots]struct {
	rgba   [4]byte
	format vk.Format
}{
	{[4]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Srgb},
	{[4]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Unorm},
	{[4]byte{128, 128, 255, 255}, vk.FormatR8g8b8a8Unorm},
	{[4]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Unorm},
	{[4]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Srgb},
}

// NewAssets uploads the default textures.
func NewAssets(ctx *Context) (*Assets, error) {
	a := &Assets{ctx: ctx}
	for i, d := range defaultTexels {
		img, err := a.LoadImage(d.rgba[:], 1, 1, d.format)
		if err != nil {
			a.Destroy()
			return nil, errors.Wrap(err, "load default image")
		}
		a.defaultImages[i] = img
		tex, err := a.CreateTexture(img.Image, DefaultTextureProperties())
		if err != nil {
			a.Destroy()
			return nil, errors.Wrap(err, "create default texture")
		}
		a.defaultTextures[i] = tex
	}
	return a, nil
}

// DefaultTexture returns the default of a material slot, 0 to 4 for color,
// metallic-roughness, normal, occlusion and emissive.
func (a *Assets) DefaultTexture(slot int) *Texture {
	return a.defaultTextures[slot]
}

// LoadImage creates a device local sampled image and uploads tightly packed
// texels into it.
func (a *Assets) LoadImage(pixels []byte, width, height uint32, format vk.Format) (*AllocatedImage, error) {
	img, err := a.ctx.CreateImage(driver.ImageDesc{
		Width:  width,
		Height: height,
		Format: format,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit),
	}, deviceLocal)
	if err != nil {
		return nil, err
	}
	if err := a.ctx.Uploader().UploadImage(img.Image, pixels); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// DecodeImage decodes a png, jpeg, gif, bmp, tiff or webp stream into RGBA.
func DecodeImage(r io.Reader) (*image.RGBA, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba, nil
	}
	b := src.Bounds()
	m := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(m, m.Bounds(), src, b.Min, draw.Src)
	return m, nil
}

// LoadImageFile decodes an image file and loads it with an RGBA8 format,
// vk.FormatR8g8b8a8Srgb for color data or vk.FormatR8g8b8a8Unorm otherwise.
func (a *Assets) LoadImageFile(path string, format vk.Format) (*AllocatedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	m, err := DecodeImage(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	b := m.Bounds()
	img, err := a.LoadImage(m.Pix, uint32(b.Dx()), uint32(b.Dy()), format)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	Logger().Info("vrend: image loaded", slog.String("path", path), slog.Int("width", b.Dx()), slog.Int("height", b.Dy()))
	return img, nil
}

// CreateTexture creates a color view of image and a sampler with props,
// anisotropic at the context's maximum.
func (a *Assets) CreateTexture(image driver.Image, props TextureProperties) (*Texture, error) {
	device := a.ctx.Device()
	view, err := device.CreateImageView(image, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return nil, creationFailed(err, "create texture view")
	}
	sampler, err := device.CreateSampler(driver.SamplerDesc{
		MagFilter:     props.MagFilter,
		MinFilter:     props.MinFilter,
		AddressModeU:  props.AddressModeU,
		AddressModeV:  props.AddressModeV,
		AddressModeW:  props.AddressModeW,
		MaxAnisotropy: a.ctx.MaxAnisotropy(),
	})
	if err != nil {
		view.Destroy()
		return nil, creationFailed(err, "create texture sampler")
	}
	return &Texture{Image: image, View: view, Sampler: sampler}, nil
}

// LoadModel uploads the vertex data and images of src and creates its
// materials. Material slots without a texture share the defaults.
func (a *Assets) LoadModel(src *ModelSource) (*Model, error) {
	if err := src.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model")
	}

	model := newModel(src.Meshes)
	vertex, err := a.ctx.CreateBuffer(uint64(len(src.VertexData)),
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit|vk.BufferUsageVertexBufferBit|vk.BufferUsageIndexBufferBit),
		deviceLocal)
	if err != nil {
		return nil, err
	}
	model.vertex = vertex
	if err := a.ctx.Uploader().UploadBuffer(vertex.Buffer, src.VertexData); err != nil {
		model.Destroy()
		return nil, errors.Wrap(err, "upload vertex data")
	}

	// One image per texture, since textures may view the same texels with
	// different formats.
	model.images = make([]*AllocatedImage, len(src.Textures))
	for i, t := range src.Textures {
		is := src.Images[t.Image]
		img, err := a.LoadImage(src.ImageData[is.Offset:is.Offset+is.Size], is.Width, is.Height, t.Format)
		if err != nil {
			model.Destroy()
			return nil, errors.Wrapf(err, "load texture %d", i)
		}
		model.images[i] = img
	}

	for i, ms := range src.Materials {
		var refs [materialTextureSlots]TextureRef
		for slot, idx := range ms.slots() {
			if idx == NoTexture {
				refs[slot] = Shared(a.defaultTextures[slot])
				continue
			}
			tex, err := a.CreateTexture(model.images[idx].Image, src.Textures[idx].Properties)
			if err != nil {
				for _, r := range refs[:slot] {
					r.Release()
				}
				model.Destroy()
				return nil, errors.Wrapf(err, "material %d", i)
			}
			refs[slot] = Owned(tex)
		}
		mat, err := NewMaterial(a.ctx, refs, ms.Factors)
		if err != nil {
			model.Destroy()
			return nil, errors.Wrapf(err, "material %d", i)
		}
		model.materials = append(model.materials, mat)
	}

	Logger().Debug("vrend: model loaded",
		slog.Int("nodes", len(model.nodes)),
		slog.Int("textures", len(src.Textures)),
		slog.Int("materials", len(model.materials)))
	return model, nil
}

// Destroy releases the default textures and images.
func (a *Assets) Destroy() {
	for i := range a.defaultTextures {
		if a.defaultTextures[i] != nil {
			a.defaultTextures[i].Destroy()
			a.defaultTextures[i] = nil
		}
		if a.defaultImages[i] != nil {
			a.defaultImages[i].Destroy()
			a.defaultImages[i] = nil
		}
	}
}
