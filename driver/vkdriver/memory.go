package vkdriver

import (
	"unsafe"

	"github.com/Neathan/vrend/driver"
	vk "github.com/vulkan-go/vulkan"
)

// Memory is a device memory allocation.
type Memory struct {
	device *Device
	handle vk.DeviceMemory
	size   uint64
}

func (d *Device) AllocateMemory(size uint64, memoryType uint32) (driver.Memory, error) {
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryType,
	}
	m := &Memory{device: d, size: size}
	if err := driver.Check("vkAllocateMemory", vk.AllocateMemory(d.handle, &info, nil, &m.handle)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Memory) Size() uint64 { return m.size }

func (m *Memory) Map(offset, size uint64) ([]byte, error) {
	var ptr unsafe.Pointer
	res := vk.MapMemory(m.device.handle, m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr)
	if err := driver.Check("vkMapMemory", res); err != nil {
		return nil, err
	}
	return mapped(ptr, size), nil
}

func (m *Memory) Unmap() {
	vk.UnmapMemory(m.device.handle, m.handle)
}

func (m *Memory) Destroy() {
	vk.FreeMemory(m.device.handle, m.handle, nil)
}

func memoryHandle(m driver.Memory) vk.DeviceMemory {
	return m.(*Memory).handle
}

func requirements(r vk.MemoryRequirements) driver.Requirements {
	r.Deref()
	return driver.Requirements{
		Size:           uint64(r.Size),
		Alignment:      uint64(r.Alignment),
		MemoryTypeBits: r.MemoryTypeBits,
	}
}

// Buffer is an exclusive buffer.
type Buffer struct {
	device *Device
	handle vk.Buffer
	size   uint64
}

func (d *Device) CreateBuffer(size uint64, usage vk.BufferUsageFlags) (driver.Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	b := &Buffer{device: d, size: size}
	if err := driver.Check("vkCreateBuffer", vk.CreateBuffer(d.handle, &info, nil, &b.handle)); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Size() uint64 { return b.size }

func (b *Buffer) Requirements() driver.Requirements {
	var r vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device.handle, b.handle, &r)
	return requirements(r)
}

func (b *Buffer) Bind(memory driver.Memory, offset uint64) error {
	return driver.Check("vkBindBufferMemory",
		vk.BindBufferMemory(b.device.handle, b.handle, memoryHandle(memory), vk.DeviceSize(offset)))
}

func (b *Buffer) Destroy() {
	vk.DestroyBuffer(b.device.handle, b.handle, nil)
}

func bufferHandle(b driver.Buffer) vk.Buffer {
	return b.(*Buffer).handle
}

// Image is an optimally tiled 2D image with one mip level.
type Image struct {
	device *Device
	handle vk.Image
	desc   driver.ImageDesc
	// swapchain images are owned by their swapchain.
	borrowed bool
}

func (d *Device) CreateImage(desc driver.ImageDesc) (driver.Image, error) {
	return d.createImage(desc)
}

func (d *Device) createImage(desc driver.ImageDesc) (*Image, error) {
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    desc.Format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         desc.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	img := &Image{device: d, desc: desc}
	if err := driver.Check("vkCreateImage", vk.CreateImage(d.handle, &info, nil, &img.handle)); err != nil {
		return nil, err
	}
	return img, nil
}

func (i *Image) Desc() driver.ImageDesc { return i.desc }

func (i *Image) Requirements() driver.Requirements {
	var r vk.MemoryRequirements
	vk.GetImageMemoryRequirements(i.device.handle, i.handle, &r)
	return requirements(r)
}

func (i *Image) Bind(memory driver.Memory, offset uint64) error {
	return driver.Check("vkBindImageMemory",
		vk.BindImageMemory(i.device.handle, i.handle, memoryHandle(memory), vk.DeviceSize(offset)))
}

func (i *Image) Destroy() {
	if !i.borrowed {
		vk.DestroyImage(i.device.handle, i.handle, nil)
	}
}

func imageHandle(i driver.Image) vk.Image {
	return i.(*Image).handle
}

// ImageView views a whole image.
type ImageView struct {
	device *Device
	handle vk.ImageView
}

func (d *Device) CreateImageView(image driver.Image, aspect vk.ImageAspectFlags) (driver.ImageView, error) {
	return d.createImageView(image.(*Image), aspect)
}

func (d *Device) createImageView(image *Image, aspect vk.ImageAspectFlags) (*ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.handle,
		ViewType: vk.ImageViewType2d,
		Format:   image.desc.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	v := &ImageView{device: d}
	if err := driver.Check("vkCreateImageView", vk.CreateImageView(d.handle, &info, nil, &v.handle)); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *ImageView) Destroy() {
	vk.DestroyImageView(v.device.handle, v.handle, nil)
}

// Sampler samples with a single mip level and an opaque black border.
type Sampler struct {
	device *Device
	handle vk.Sampler
}

func (d *Device) CreateSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	anisotropy := desc.MaxAnisotropy
	if anisotropy > d.limits.MaxSamplerAnisotropy {
		anisotropy = d.limits.MaxSamplerAnisotropy
	}
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               desc.MagFilter,
		MinFilter:               desc.MinFilter,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            desc.AddressModeU,
		AddressModeV:            desc.AddressModeV,
		AddressModeW:            desc.AddressModeW,
		AnisotropyEnable:        boolean(anisotropy >= 1),
		MaxAnisotropy:           anisotropy,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0,
		MaxLod:                  0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	s := &Sampler{device: d}
	if err := driver.Check("vkCreateSampler", vk.CreateSampler(d.handle, &info, nil, &s.handle)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sampler) Destroy() {
	vk.DestroySampler(s.device.handle, s.handle, nil)
}
