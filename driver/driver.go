// Package driver defines the device primitives the renderer core is written
// against. A backend (see vkdriver) maps them onto a real Vulkan device; the
// drivertest package maps them onto host memory for tests.
//
// Enumerations and flag sets are the Vulkan ones from vulkan-go so that values
// pass through a backend unchanged.
package driver

import (
	vk "github.com/vulkan-go/vulkan"
)

// Destroyer is implemented by every object that owns a device resource.
type Destroyer interface {
	Destroy()
}

// Limits holds the device limits the core consults.
type Limits struct {
	MaxSamplerAnisotropy float32
	MaxPushConstantsSize uint32
}

// Requirements are the memory requirements of a buffer or image.
type Requirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// ImageDesc describes a 2D single-mip image.
type ImageDesc struct {
	Width, Height uint32
	Format        vk.Format
	Usage         vk.ImageUsageFlags
}

// SamplerDesc describes a texture sampler.
type SamplerDesc struct {
	MagFilter     vk.Filter
	MinFilter     vk.Filter
	AddressModeU  vk.SamplerAddressMode
	AddressModeV  vk.SamplerAddressMode
	AddressModeW  vk.SamplerAddressMode
	MaxAnisotropy float32
}

// LayoutBinding is one slot of a descriptor set layout.
type LayoutBinding struct {
	Binding uint32
	Type    vk.DescriptorType
	Count   uint32
	Stages  vk.ShaderStageFlags
}

// PoolSize is the number of descriptors of one type a pool can hold.
type PoolSize struct {
	Type  vk.DescriptorType
	Count uint32
}

// BufferInfo references a range of a buffer from a descriptor.
type BufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

// ImageInfo references a sampled image from a descriptor.
type ImageInfo struct {
	View    ImageView
	Sampler Sampler
	Layout  vk.ImageLayout
}

// DescriptorWrite updates a single binding of a descriptor set. Exactly one of
// Buffer and Image is set.
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    vk.DescriptorType
	Buffer  *BufferInfo
	Image   *ImageInfo
}

// VertexBinding is one vertex input stream of a graphics pipeline.
type VertexBinding struct {
	Binding  uint32
	Stride   uint32
	Location uint32
	Format   vk.Format
}

// GraphicsPipelineDesc holds what a backend needs to build the single
// graphics pipeline used for forward rendering.
type GraphicsPipelineDesc struct {
	VertexShader   []byte
	FragmentShader []byte
	Vertex         []VertexBinding
	Layout         PipelineLayout
	RenderPass     RenderPass
	Extent         vk.Extent2D
	CullMode       vk.CullModeFlagBits
}

// Device is a logical device with one graphics queue.
type Device interface {
	Destroyer

	// MemoryTypes returns the property flags of each memory type, in index order.
	MemoryTypes() []vk.MemoryPropertyFlags
	Limits() Limits

	CreateBuffer(size uint64, usage vk.BufferUsageFlags) (Buffer, error)
	CreateImage(desc ImageDesc) (Image, error)
	AllocateMemory(size uint64, memoryType uint32) (Memory, error)
	CreateImageView(image Image, aspect vk.ImageAspectFlags) (ImageView, error)
	CreateSampler(desc SamplerDesc) (Sampler, error)

	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	CreateDescriptorPool(maxSets uint32, sizes []PoolSize) (DescriptorPool, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreatePipelineLayout(sets []DescriptorSetLayout, push []vk.PushConstantRange) (PipelineLayout, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)

	CreateCommandPool() (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)

	GraphicsQueue() Queue
	WaitIdle() error
}

// Buffer is a linear device resource.
type Buffer interface {
	Destroyer
	Size() uint64
	Requirements() Requirements
	Bind(memory Memory, offset uint64) error
}

// Image is a 2D device image.
type Image interface {
	Destroyer
	Desc() ImageDesc
	Requirements() Requirements
	Bind(memory Memory, offset uint64) error
}

// Memory is a device memory allocation. Map is only valid on host visible
// memory; the returned slice aliases the mapping until Unmap.
type Memory interface {
	Destroyer
	Size() uint64
	Map(offset, size uint64) ([]byte, error)
	Unmap()
}

type ImageView interface{ Destroyer }

type Sampler interface{ Destroyer }

type DescriptorSetLayout interface{ Destroyer }

// DescriptorSet is owned by the pool it came from and is invalidated when that
// pool is reset.
type DescriptorSet interface {
	Layout() DescriptorSetLayout
}

// DescriptorPool allocates descriptor sets. Allocate reports exhaustion with a
// *ResultError carrying vk.ErrorOutOfPoolMemory or vk.ErrorFragmentedPool.
type DescriptorPool interface {
	Destroyer
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Reset() error
}

type PipelineLayout interface{ Destroyer }

type Pipeline interface{ Destroyer }

type RenderPass interface{ Destroyer }

// Framebuffer is owned by the swapchain that created it.
type Framebuffer interface{}

// CommandPool allocates primary command buffers for the graphics queue.
type CommandPool interface {
	Destroyer
	Allocate() (CommandBuffer, error)
	Free(cb CommandBuffer)
}

// BufferImageCopy copies tightly packed texels between a buffer and a whole image.
type BufferImageCopy struct {
	BufferOffset  uint64
	Width, Height uint32
}

// ImageBarrier is a layout transition of a whole color image.
type ImageBarrier struct {
	Image     Image
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// ClearValues are the render pass clear values for the color and depth attachments.
type ClearValues struct {
	Color [4]float32
	Depth float32
}

// CommandBuffer records commands. Only the subset used by the renderer is
// exposed.
type CommandBuffer interface {
	Begin(oneTime bool) error
	End() error
	Reset() error

	BeginRenderPass(pass RenderPass, fb Framebuffer, extent vk.Extent2D, clear ClearValues)
	EndRenderPass()
	BindPipeline(p Pipeline)
	BindDescriptorSets(layout PipelineLayout, firstSet uint32, sets ...DescriptorSet)
	PushConstants(layout PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	BindVertexBuffers(first uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(buffer Buffer, offset uint64, indexType vk.IndexType)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	CopyBuffer(src, dst Buffer, size uint64)
	CopyBufferToImage(src Buffer, dst Image, layout vk.ImageLayout, region BufferImageCopy)
	CopyImageToBuffer(src Image, layout vk.ImageLayout, dst Buffer, region BufferImageCopy)
	PipelineBarrier(srcStage, dstStage vk.PipelineStageFlags, barriers ...ImageBarrier)
}

// SemaphoreWait makes a submission wait on a semaphore at the given stages.
type SemaphoreWait struct {
	Semaphore Semaphore
	Stages    vk.PipelineStageFlags
}

// Queue executes command buffers in submission order.
type Queue interface {
	Submit(buffers []CommandBuffer, wait []SemaphoreWait, signal []Semaphore, fence Fence) error
	WaitIdle() error
}

// Fence is signaled by the device when a submission completes.
type Fence interface {
	Destroyer
	// Wait blocks until the fence is signaled or the timeout in nanoseconds
	// elapses. A timeout yields a *ResultError carrying vk.Timeout.
	Wait(timeout uint64) error
	Reset() error
	Signaled() bool
}

type Semaphore interface{ Destroyer }

// Swapchain is a set of presentable images with matching framebuffers.
// Acquire and Present report a stale surface with a *ResultError carrying
// vk.ErrorOutOfDate or vk.Suboptimal.
type Swapchain interface {
	Destroyer
	Extent() vk.Extent2D
	ImageCount() int
	RenderPass() RenderPass
	Framebuffer(index uint32) Framebuffer
	AcquireNextImage(timeout uint64, signal Semaphore) (uint32, error)
	Present(queue Queue, index uint32, wait []Semaphore) error
}
