package vrend

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DescriptorBuilder collects bindings and the resources written to them, then
// produces the layout through a cache and the set through an allocator.
//
//	set, layout, err := ctx.NewDescriptorBuilder().
//		BindBuffer(0, ubo.Descriptor(), vk.DescriptorTypeUniformBuffer, stages).
//		BindImage(1, tex.Descriptor(), vk.DescriptorTypeCombinedImageSampler, stages).
//		Build()
type DescriptorBuilder struct {
	device    driver.Device
	cache     *DescriptorLayoutCache
	allocator *DescriptorAllocator

	bindings []driver.LayoutBinding
	writes   []driver.DescriptorWrite
}

func NewDescriptorBuilder(device driver.Device, cache *DescriptorLayoutCache, allocator *DescriptorAllocator) *DescriptorBuilder {
	return &DescriptorBuilder{device: device, cache: cache, allocator: allocator}
}

// BindBuffer declares a buffer binding and the buffer range written to it.
func (b *DescriptorBuilder) BindBuffer(binding uint32, info driver.BufferInfo, dtype vk.DescriptorType, stages vk.ShaderStageFlags) *DescriptorBuilder {
	b.bindings = append(b.bindings, driver.LayoutBinding{Binding: binding, Type: dtype, Count: 1, Stages: stages})
	b.writes = append(b.writes, driver.DescriptorWrite{Binding: binding, Type: dtype, Buffer: &info})
	return b
}

// BindImage declares an image binding and the view and sampler written to it.
func (b *DescriptorBuilder) BindImage(binding uint32, info driver.ImageInfo, dtype vk.DescriptorType, stages vk.ShaderStageFlags) *DescriptorBuilder {
	b.bindings = append(b.bindings, driver.LayoutBinding{Binding: binding, Type: dtype, Count: 1, Stages: stages})
	b.writes = append(b.writes, driver.DescriptorWrite{Binding: binding, Type: dtype, Image: &info})
	return b
}

// BuildLayout returns the layout of the declared bindings without allocating
// a set.
func (b *DescriptorBuilder) BuildLayout() (driver.DescriptorSetLayout, error) {
	return b.cache.CreateDescriptorLayout(b.bindings)
}

// Build allocates a set of the declared layout and writes every bound resource.
func (b *DescriptorBuilder) Build() (driver.DescriptorSet, driver.DescriptorSetLayout, error) {
	layout, err := b.BuildLayout()
	if err != nil {
		return nil, nil, err
	}
	set, err := b.allocator.Allocate(layout)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build descriptor set")
	}
	writes := make([]driver.DescriptorWrite, len(b.writes))
	for i, w := range b.writes {
		w.Set = set
		writes[i] = w
	}
	b.device.UpdateDescriptorSets(writes)
	return set, layout, nil
}
