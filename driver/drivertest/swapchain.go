package drivertest

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// RenderPass is a color + depth render pass.
type RenderPass struct {
	device *Device
}

func (r *RenderPass) Destroy() { r.device.untrack(r, "render pass") }

// Framebuffer targets one swapchain image.
type Framebuffer struct {
	Index uint32
}

// Swapchain hands out its images round robin.
type Swapchain struct {
	device       *Device
	extent       vk.Extent2D
	renderPass   *RenderPass
	framebuffers []*Framebuffer
	acquired     []bool
	next         uint32
	presented    []uint32
}

var _ driver.Swapchain = (*Swapchain)(nil)

// NewSwapchain creates a swapchain of count images.
func NewSwapchain(d *Device, width, height uint32, count int) *Swapchain {
	s := &Swapchain{
		device:       d,
		extent:       vk.Extent2D{Width: width, Height: height},
		renderPass:   &RenderPass{device: d},
		framebuffers: make([]*Framebuffer, count),
		acquired:     make([]bool, count),
	}
	for i := range s.framebuffers {
		s.framebuffers[i] = &Framebuffer{Index: uint32(i)}
	}
	d.track(s.renderPass, "render pass")
	d.track(s, "swapchain")
	return s
}

// Presented returns the image indices in presentation order.
func (s *Swapchain) Presented() []uint32 { return s.presented }

func (s *Swapchain) Extent() vk.Extent2D { return s.extent }

func (s *Swapchain) ImageCount() int { return len(s.framebuffers) }

func (s *Swapchain) RenderPass() driver.RenderPass { return s.renderPass }

func (s *Swapchain) Framebuffer(index uint32) driver.Framebuffer { return s.framebuffers[index] }

func (s *Swapchain) AcquireNextImage(timeout uint64, signal driver.Semaphore) (uint32, error) {
	err := s.device.injected("AcquireNextImage")
	if err != nil && !driver.IsResult(err, vk.Suboptimal) {
		return 0, err
	}
	n := uint32(len(s.framebuffers))
	for i := uint32(0); i < n; i++ {
		idx := (s.next + i) % n
		if s.acquired[idx] {
			continue
		}
		s.acquired[idx] = true
		s.next = (idx + 1) % n
		signal.(*Semaphore).signal()
		return idx, err
	}
	s.device.violate("acquire with every swapchain image already acquired")
	return 0, errors.New("drivertest: no presentable image")
}

func (s *Swapchain) Present(queue driver.Queue, index uint32, wait []driver.Semaphore) error {
	if int(index) >= len(s.acquired) || !s.acquired[index] {
		s.device.violate("present of image %d that was not acquired", index)
		return errors.New("drivertest: image not acquired")
	}
	for _, w := range wait {
		w.(*Semaphore).wait()
	}
	s.acquired[index] = false
	s.presented = append(s.presented, index)
	return s.device.injected("QueuePresent")
}

func (s *Swapchain) Destroy() {
	s.renderPass.Destroy()
	s.device.untrack(s, "swapchain")
}
