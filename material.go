package vrend

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const materialTextureSlots = 5

// MaterialLayoutBindings returns the bindings of the material set: the
// factors block at 0, then color, metallic-roughness, normal, occlusion and
// emissive samplers at 1 to 5.
func MaterialLayoutBindings() []driver.LayoutBinding {
	bindings := []driver.LayoutBinding{{
		Binding: 0,
		Type:    vk.DescriptorTypeUniformBuffer,
		Count:   1,
		Stages:  vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
	}}
	for i := 0; i < materialTextureSlots; i++ {
		bindings = append(bindings, driver.LayoutBinding{
			Binding: uint32(i + 1),
			Type:    vk.DescriptorTypeCombinedImageSampler,
			Count:   1,
			Stages:  vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		})
	}
	return bindings
}

// Material binds five textures and a factors block per frame slot.
type Material struct {
	Color             TextureRef
	MetallicRoughness TextureRef
	Normal            TextureRef
	Occlusion         TextureRef
	Emissive          TextureRef

	factors [FramesInFlight]*UniformBuffer[MaterialFactors]
	sets    [FramesInFlight]driver.DescriptorSet
}

func (m *Material) textures() [materialTextureSlots]TextureRef {
	return [materialTextureSlots]TextureRef{m.Color, m.MetallicRoughness, m.Normal, m.Occlusion, m.Emissive}
}

// NewMaterial creates the factors buffers and descriptor sets of a material.
// The sets come from the context's persistent allocator. On failure every
// texture reference is released.
func NewMaterial(ctx *Context, textures [materialTextureSlots]TextureRef, factors MaterialFactors) (*Material, error) {
	m := &Material{
		Color:             textures[0],
		MetallicRoughness: textures[1],
		Normal:            textures[2],
		Occlusion:         textures[3],
		Emissive:          textures[4],
	}
	for slot := 0; slot < FramesInFlight; slot++ {
		ubo, err := NewUniformBuffer(ctx, &factors)
		if err != nil {
			m.Destroy()
			return nil, errors.Wrap(err, "create material factors")
		}
		m.factors[slot] = ubo

		b := ctx.NewDescriptorBuilder().
			BindBuffer(0, ubo.Descriptor(), vk.DescriptorTypeUniformBuffer,
				vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit))
		for i, ref := range textures {
			b.BindImage(uint32(i+1), ref.Texture().Descriptor(), vk.DescriptorTypeCombinedImageSampler,
				vk.ShaderStageFlags(vk.ShaderStageFragmentBit))
		}
		set, _, err := b.Build()
		if err != nil {
			m.Destroy()
			return nil, errors.Wrap(err, "build material set")
		}
		m.sets[slot] = set
	}
	return m, nil
}

// Set returns the descriptor set of a frame slot.
func (m *Material) Set(slot int) driver.DescriptorSet { return m.sets[slot] }

// Factors returns the writable factors of a frame slot.
func (m *Material) Factors(slot int) *MaterialFactors { return m.factors[slot].Data() }

// Destroy releases the texture references and the factors buffers. The sets
// belong to the allocator they came from.
func (m *Material) Destroy() {
	for _, ref := range m.textures() {
		if ref != nil {
			ref.Release()
		}
	}
	for i, ubo := range m.factors {
		if ubo != nil {
			ubo.Destroy()
			m.factors[i] = nil
		}
	}
}
