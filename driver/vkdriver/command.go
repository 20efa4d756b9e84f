package vkdriver

import (
	"unsafe"

	"github.com/Neathan/vrend/driver"
	vk "github.com/vulkan-go/vulkan"
)

// CommandPool allocates resettable primary command buffers on the graphics
// queue family.
type CommandPool struct {
	device *Device
	handle vk.CommandPool
}

func (d *Device) CreateCommandPool() (driver.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.graphics.family,
	}
	p := &CommandPool{device: d}
	if err := driver.Check("vkCreateCommandPool", vk.CreateCommandPool(d.handle, &info, nil, &p.handle)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CommandPool) Allocate() (driver.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := driver.Check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(p.device.handle, &info, buffers)); err != nil {
		return nil, err
	}
	return &CommandBuffer{handle: buffers[0]}, nil
}

func (p *CommandPool) Free(cb driver.CommandBuffer) {
	vk.FreeCommandBuffers(p.device.handle, p.handle, 1, []vk.CommandBuffer{cb.(*CommandBuffer).handle})
}

func (p *CommandPool) Destroy() {
	vk.DestroyCommandPool(p.device.handle, p.handle, nil)
}

// CommandBuffer records into a native command buffer.
type CommandBuffer struct {
	handle vk.CommandBuffer
}

func (c *CommandBuffer) Begin(oneTime bool) error {
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if oneTime {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return driver.Check("vkBeginCommandBuffer", vk.BeginCommandBuffer(c.handle, &info))
}

func (c *CommandBuffer) End() error {
	return driver.Check("vkEndCommandBuffer", vk.EndCommandBuffer(c.handle))
}

func (c *CommandBuffer) Reset() error {
	return driver.Check("vkResetCommandBuffer", vk.ResetCommandBuffer(c.handle, 0))
}

func (c *CommandBuffer) BeginRenderPass(pass driver.RenderPass, fb driver.Framebuffer, extent vk.Extent2D, clear driver.ClearValues) {
	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor(clear.Color[:])
	clearValues[1].SetDepthStencil(clear.Depth, 0)

	info := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      pass.(*RenderPass).handle,
		Framebuffer:     fb.(*Framebuffer).handle,
		RenderArea:      vk.Rect2D{Extent: extent},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.handle, &info, vk.SubpassContentsInline)
}

func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.handle)
}

func (c *CommandBuffer) BindPipeline(p driver.Pipeline) {
	vk.CmdBindPipeline(c.handle, vk.PipelineBindPointGraphics, p.(*Pipeline).handle)
}

func (c *CommandBuffer) BindDescriptorSets(layout driver.PipelineLayout, firstSet uint32, sets ...driver.DescriptorSet) {
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = setHandle(s)
	}
	vk.CmdBindDescriptorSets(c.handle, vk.PipelineBindPointGraphics, pipelineLayoutHandle(layout),
		firstSet, uint32(len(handles)), handles, 0, nil)
}

func (c *CommandBuffer) PushConstants(layout driver.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(c.handle, pipelineLayoutHandle(layout), stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []driver.Buffer, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	vkOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		handles[i] = bufferHandle(b)
		vkOffsets[i] = vk.DeviceSize(offsets[i])
	}
	vk.CmdBindVertexBuffers(c.handle, first, uint32(len(handles)), handles, vkOffsets)
}

func (c *CommandBuffer) BindIndexBuffer(buffer driver.Buffer, offset uint64, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(c.handle, bufferHandle(buffer), vk.DeviceSize(offset), indexType)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CommandBuffer) CopyBuffer(src, dst driver.Buffer, size uint64) {
	vk.CmdCopyBuffer(c.handle, bufferHandle(src), bufferHandle(dst), 1, []vk.BufferCopy{{Size: vk.DeviceSize(size)}})
}

func imageCopy(region driver.BufferImageCopy) []vk.BufferImageCopy {
	return []vk.BufferImageCopy{{
		BufferOffset: vk.DeviceSize(region.BufferOffset),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: region.Width, Height: region.Height, Depth: 1},
	}}
}

func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout vk.ImageLayout, region driver.BufferImageCopy) {
	vk.CmdCopyBufferToImage(c.handle, bufferHandle(src), imageHandle(dst), layout, 1, imageCopy(region))
}

func (c *CommandBuffer) CopyImageToBuffer(src driver.Image, layout vk.ImageLayout, dst driver.Buffer, region driver.BufferImageCopy) {
	vk.CmdCopyImageToBuffer(c.handle, imageHandle(src), layout, bufferHandle(dst), 1, imageCopy(region))
}

func (c *CommandBuffer) PipelineBarrier(srcStage, dstStage vk.PipelineStageFlags, barriers ...driver.ImageBarrier) {
	vkb := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		vkb[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			OldLayout:           b.OldLayout,
			NewLayout:           b.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               imageHandle(b.Image),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
	}
	vk.CmdPipelineBarrier(c.handle, srcStage, dstStage, 0, 0, nil, 0, nil, uint32(len(vkb)), vkb)
}

// Queue is a device queue.
type Queue struct {
	device *Device
	family uint32
	handle vk.Queue
}

func (q *Queue) Submit(buffers []driver.CommandBuffer, wait []driver.SemaphoreWait, signal []driver.Semaphore, fence driver.Fence) error {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    make([]vk.CommandBuffer, len(buffers)),
	}
	for i, b := range buffers {
		info.PCommandBuffers[i] = b.(*CommandBuffer).handle
	}
	if len(wait) > 0 {
		info.WaitSemaphoreCount = uint32(len(wait))
		info.PWaitSemaphores = make([]vk.Semaphore, len(wait))
		info.PWaitDstStageMask = make([]vk.PipelineStageFlags, len(wait))
		for i, w := range wait {
			info.PWaitSemaphores[i] = semaphoreHandle(w.Semaphore)
			info.PWaitDstStageMask[i] = w.Stages
		}
	}
	if len(signal) > 0 {
		info.SignalSemaphoreCount = uint32(len(signal))
		info.PSignalSemaphores = semaphoreHandles(signal)
	}
	f := vk.NullFence
	if fence != nil {
		f = fence.(*Fence).handle
	}
	return driver.Check("vkQueueSubmit", vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{info}, f))
}

func (q *Queue) WaitIdle() error {
	return driver.Check("vkQueueWaitIdle", vk.QueueWaitIdle(q.handle))
}

// Fence is a device to host completion signal.
type Fence struct {
	device *Device
	handle vk.Fence
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f := &Fence{device: d}
	if err := driver.Check("vkCreateFence", vk.CreateFence(d.handle, &info, nil, &f.handle)); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fence) Wait(timeout uint64) error {
	return driver.Check("vkWaitForFences",
		vk.WaitForFences(f.device.handle, 1, []vk.Fence{f.handle}, vk.True, timeout))
}

func (f *Fence) Reset() error {
	return driver.Check("vkResetFences", vk.ResetFences(f.device.handle, 1, []vk.Fence{f.handle}))
}

func (f *Fence) Signaled() bool {
	return vk.GetFenceStatus(f.device.handle, f.handle) == vk.Success
}

func (f *Fence) Destroy() {
	vk.DestroyFence(f.device.handle, f.handle, nil)
}

// Semaphore orders work on the device.
type Semaphore struct {
	device *Device
	handle vk.Semaphore
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	s := &Semaphore{device: d}
	if err := driver.Check("vkCreateSemaphore", vk.CreateSemaphore(d.handle, &info, nil, &s.handle)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Semaphore) Destroy() {
	vk.DestroySemaphore(s.device.handle, s.handle, nil)
}

func semaphoreHandle(s driver.Semaphore) vk.Semaphore {
	if s == nil {
		return vk.NullSemaphore
	}
	return s.(*Semaphore).handle
}

func semaphoreHandles(list []driver.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, len(list))
	for i, s := range list {
		out[i] = semaphoreHandle(s)
	}
	return out
}
