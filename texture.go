package vrend

import (
	"github.com/Neathan/vrend/driver"
	vk "github.com/vulkan-go/vulkan"
)

// TextureProperties are the sampler settings of a texture.
type TextureProperties struct {
	MagFilter    vk.Filter
	MinFilter    vk.Filter
	AddressModeU vk.SamplerAddressMode
	AddressModeV vk.SamplerAddressMode
	AddressModeW vk.SamplerAddressMode
}

// DefaultTextureProperties samples linearly and repeats on every axis.
func DefaultTextureProperties() TextureProperties {
	return TextureProperties{
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		AddressModeU: vk.SamplerAddressModeRepeat,
		AddressModeV: vk.SamplerAddressModeRepeat,
		AddressModeW: vk.SamplerAddressModeRepeat,
	}
}

// Texture is a view and sampler over an image. The image is owned by
// whoever created it, not by the texture.
type Texture struct {
	Image   driver.Image
	View    driver.ImageView
	Sampler driver.Sampler
}

// Descriptor returns the texture as a combined image sampler write source.
func (t *Texture) Descriptor() driver.ImageInfo {
	return driver.ImageInfo{
		View:    t.View,
		Sampler: t.Sampler,
		Layout:  vk.ImageLayoutShaderReadOnlyOptimal,
	}
}

func (t *Texture) Destroy() {
	if t.Sampler != nil {
		t.Sampler.Destroy()
		t.Sampler = nil
	}
	if t.View != nil {
		t.View.Destroy()
		t.View = nil
	}
}

// TextureRef is a material's reference to a texture: either OwnedTexture or
// SharedTexture.
type TextureRef interface {
	Texture() *Texture
	// Release destroys the texture if the reference owns it.
	Release()

	textureRef()
}

// OwnedTexture is destroyed when released.
type OwnedTexture struct {
	texture *Texture
}

// Owned wraps a texture the reference holder is responsible for.
func Owned(t *Texture) OwnedTexture { return OwnedTexture{texture: t} }

func (r OwnedTexture) Texture() *Texture { return r.texture }
func (r OwnedTexture) Release()          { r.texture.Destroy() }
func (OwnedTexture) textureRef()         {}

// SharedTexture is owned elsewhere, typically one of the Assets defaults.
// Releasing it does nothing.
type SharedTexture struct {
	texture *Texture
}

// Shared wraps a texture owned by someone else.
func Shared(t *Texture) SharedTexture { return SharedTexture{texture: t} }

func (r SharedTexture) Texture() *Texture { return r.texture }
func (SharedTexture) Release()            {}
func (SharedTexture) textureRef()         {}

var (
	_ TextureRef = OwnedTexture{}
	_ TextureRef = SharedTexture{}
)
