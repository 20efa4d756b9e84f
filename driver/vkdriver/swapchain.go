package vkdriver

import (
	"log/slog"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const depthFormat = vk.FormatD32Sfloat

// RenderPass clears a color and a depth attachment and leaves the color
// attachment ready for presentation.
type RenderPass struct {
	device *Device
	handle vk.RenderPass
}

func (r *RenderPass) Destroy() {
	vk.DestroyRenderPass(r.device.handle, r.handle, nil)
}

func (d *Device) createRenderPass(colorFormat vk.Format) (*RenderPass, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         colorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}, {
		Format:         depthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}}
	depthRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpasses := []vk.SubpassDescription{{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
		PDepthStencilAttachment: &depthRef,
	}}
	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentWriteBit),
	}}
	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	r := &RenderPass{device: d}
	if err := driver.Check("vkCreateRenderPass", vk.CreateRenderPass(d.handle, &info, nil, &r.handle)); err != nil {
		return nil, err
	}
	return r, nil
}

// Framebuffer targets one swapchain image and the shared depth image.
type Framebuffer struct {
	handle vk.Framebuffer
	view   *ImageView
}

// Swapchain owns its images, their views and framebuffers, the render pass
// and a depth attachment.
type Swapchain struct {
	device *Device
	handle vk.Swapchain
	extent vk.Extent2D
	format vk.SurfaceFormat

	renderPass   *RenderPass
	depth        *Image
	depthMemory  *Memory
	depthView    *ImageView
	framebuffers []*Framebuffer
}

var _ driver.Swapchain = (*Swapchain)(nil)

// chooseFormat prefers B8G8R8A8_UNORM and falls back to the first format.
func chooseFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: formats[0].ColorSpace}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm {
			return f
		}
	}
	return formats[0]
}

// choosePresentMode prefers mailbox. FIFO is always available.
func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(caps vk.SurfaceCapabilities, size vk.Extent2D) vk.Extent2D {
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		return caps.CurrentExtent
	}
	clamp := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return vk.Extent2D{
		Width:  clamp(size.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(size.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// CreateSwapchain creates a swapchain for the device's surface. size is used
// when the surface leaves the extent to the application. images of 0 requests
// one more than the surface minimum.
func (d *Device) CreateSwapchain(size vk.Extent2D, images int) (*Swapchain, error) {
	if d.surface == vk.NullSurface {
		return nil, errors.New("device has no surface")
	}
	formats, err := d.physical.surfaceFormats(d.surface)
	if err != nil {
		return nil, err
	}
	modes, err := d.physical.presentModes(d.surface)
	if err != nil {
		return nil, err
	}
	caps, err := d.physical.surfaceCapabilities(d.surface)
	if err != nil {
		return nil, err
	}

	count := uint32(images)
	if count == 0 {
		count = caps.MinImageCount + 1
	}
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	s := &Swapchain{
		device: d,
		extent: chooseExtent(caps, size),
		format: chooseFormat(formats),
	}
	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    count,
		ImageFormat:      s.format.Format,
		ImageColorSpace:  s.format.ColorSpace,
		ImageExtent:      s.extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(modes),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
		ImageSharingMode: vk.SharingModeExclusive,
	}
	if d.present.family != d.graphics.family {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.graphics.family, d.present.family}
	}
	if err := driver.Check("vkCreateSwapchainKHR", vk.CreateSwapchain(d.handle, &info, nil, &s.handle)); err != nil {
		return nil, err
	}
	if err := s.createTargets(); err != nil {
		s.Destroy()
		return nil, err
	}
	d.log.Info("swapchain created",
		slog.Int("images", len(s.framebuffers)),
		slog.Uint64("width", uint64(s.extent.Width)),
		slog.Uint64("height", uint64(s.extent.Height)))
	return s, nil
}

func (s *Swapchain) createTargets() error {
	d := s.device
	var count uint32
	if err := driver.Check("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.handle, s.handle, &count, nil)); err != nil {
		return err
	}
	images := make([]vk.Image, count)
	if err := driver.Check("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(d.handle, s.handle, &count, images)); err != nil {
		return err
	}

	var err error
	if s.renderPass, err = d.createRenderPass(s.format.Format); err != nil {
		return err
	}
	if err = s.createDepth(); err != nil {
		return err
	}

	for _, h := range images {
		img := &Image{device: d, handle: h, borrowed: true, desc: driver.ImageDesc{
			Width:  s.extent.Width,
			Height: s.extent.Height,
			Format: s.format.Format,
			Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		}}
		view, err := d.createImageView(img, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			return err
		}
		fb := &Framebuffer{view: view}
		s.framebuffers = append(s.framebuffers, fb)

		attachments := []vk.ImageView{view.handle, s.depthView.handle}
		info := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass.handle,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}
		if err := driver.Check("vkCreateFramebuffer", vk.CreateFramebuffer(d.handle, &info, nil, &fb.handle)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Swapchain) createDepth() error {
	d := s.device
	var err error
	s.depth, err = d.createImage(driver.ImageDesc{
		Width:  s.extent.Width,
		Height: s.extent.Height,
		Format: depthFormat,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	})
	if err != nil {
		return errors.Wrap(err, "depth image")
	}
	req := s.depth.Requirements()
	memType, err := d.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return errors.Wrap(err, "depth image")
	}
	mem, err := d.AllocateMemory(req.Size, memType)
	if err != nil {
		return errors.Wrap(err, "depth image")
	}
	s.depthMemory = mem.(*Memory)
	if err := s.depth.Bind(mem, 0); err != nil {
		return errors.Wrap(err, "depth image")
	}
	s.depthView, err = d.createImageView(s.depth, vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	return errors.Wrap(err, "depth image")
}

func (s *Swapchain) Extent() vk.Extent2D { return s.extent }

func (s *Swapchain) ImageCount() int { return len(s.framebuffers) }

func (s *Swapchain) RenderPass() driver.RenderPass { return s.renderPass }

func (s *Swapchain) Framebuffer(index uint32) driver.Framebuffer { return s.framebuffers[index] }

// AcquireNextImage returns the index of the next image. A suboptimal
// swapchain yields both a valid index and an error.
func (s *Swapchain) AcquireNextImage(timeout uint64, signal driver.Semaphore) (uint32, error) {
	var index uint32
	res := vk.AcquireNextImage(s.device.handle, s.handle, timeout, semaphoreHandle(signal), vk.NullFence, &index)
	return index, driver.Check("vkAcquireNextImageKHR", res)
}

// Present queues the image on the device's present queue.
func (s *Swapchain) Present(queue driver.Queue, index uint32, wait []driver.Semaphore) error {
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(wait)),
		PWaitSemaphores:    semaphoreHandles(wait),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{index},
	}
	present := s.device.present
	if q, ok := queue.(*Queue); ok && q.family == present.family {
		present = q
	}
	return driver.Check("vkQueuePresentKHR", vk.QueuePresent(present.handle, &info))
}

func (s *Swapchain) Destroy() {
	d := s.device
	for _, fb := range s.framebuffers {
		if fb.handle != vk.NullFramebuffer {
			vk.DestroyFramebuffer(d.handle, fb.handle, nil)
		}
		fb.view.Destroy()
	}
	s.framebuffers = nil
	if s.depthView != nil {
		s.depthView.Destroy()
	}
	if s.depth != nil {
		s.depth.Destroy()
	}
	if s.depthMemory != nil {
		s.depthMemory.Destroy()
	}
	if s.renderPass != nil {
		s.renderPass.Destroy()
	}
	vk.DestroySwapchain(d.handle, s.handle, nil)
}
