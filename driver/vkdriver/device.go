// Package vkdriver implements the driver interfaces on a real Vulkan device
// through vulkan-go, with a GLFW window as the presentation surface.
package vkdriver

import (
	"log/slog"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	"github.com/vulkan-go/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

// Device is a logical device with a graphics queue and a present queue,
// which may be the same queue.
type Device struct {
	physical *PhysicalDevice
	handle   vk.Device
	graphics *Queue
	present  *Queue

	memoryTypes []vk.MemoryPropertyFlags
	limits      driver.Limits
	cache       vk.PipelineCache
	log         *slog.Logger

	// Owned when the device was created by Open.
	instance *Instance
	surface  vk.Surface
}

var _ driver.Device = (*Device)(nil)

// Open creates the instance, the window surface, the device and a swapchain
// sized to the window's framebuffer. Init must have been called. It returns
// driver.ErrNoSuitableDevice when no GPU meets the renderer's requirements.
// The swapchain must be destroyed before the device.
func Open(window *glfw.Window, opts Options) (*Device, *Swapchain, error) {
	opts.Extensions = append(opts.Extensions, window.GetRequiredInstanceExtensions()...)
	inst, err := CreateInstance(opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create instance")
	}

	ptr, err := window.CreateWindowSurface(inst.handle, nil)
	if err != nil {
		inst.Destroy()
		return nil, nil, errors.Wrap(err, "create window surface")
	}
	surface := vk.SurfaceFromPointer(ptr)
	fail := func(err error) (*Device, *Swapchain, error) {
		vk.DestroySurface(inst.handle, surface, nil)
		inst.Destroy()
		return nil, nil, err
	}

	physical, err := inst.PhysicalDevices()
	if err != nil {
		return fail(errors.Wrap(err, "enumerate physical devices"))
	}
	c, err := pickDevice(physical, surface, opts.logger())
	if err != nil {
		return fail(err)
	}
	d, err := createDevice(c, opts.logger())
	if err != nil {
		return fail(errors.Wrapf(err, "create device on %s", c.device.Name))
	}
	d.instance, d.surface = inst, surface

	w, h := window.GetFramebufferSize()
	sc, err := d.CreateSwapchain(vk.Extent2D{Width: uint32(w), Height: uint32(h)}, opts.SwapchainImages)
	if err != nil {
		d.Destroy()
		return nil, nil, err
	}
	return d, sc, nil
}

func createDevice(c candidate, log *slog.Logger) (*Device, error) {
	families := []uint32{c.graphics.Index}
	if c.present.Index != c.graphics.Index {
		families = append(families, c.present.Index)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, f := range families {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}
	extensions := []string{swapchainExtension}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{SamplerAnisotropy: vk.True}},
	}

	d := &Device{physical: c.device, log: log}
	if err := driver.Check("vkCreateDevice", vk.CreateDevice(c.device.handle, &createInfo, nil, &d.handle)); err != nil {
		return nil, err
	}
	d.graphics = d.queue(c.graphics.Index)
	d.present = d.graphics
	if c.present.Index != c.graphics.Index {
		d.present = d.queue(c.present.Index)
	}

	mp := c.device.MemoryProperties()
	d.memoryTypes = make([]vk.MemoryPropertyFlags, mp.MemoryTypeCount)
	for i := range d.memoryTypes {
		d.memoryTypes[i] = mp.MemoryTypes[i].PropertyFlags
	}
	limits := c.device.Properties.Limits
	d.limits = driver.Limits{
		MaxSamplerAnisotropy: limits.MaxSamplerAnisotropy,
		MaxPushConstantsSize: limits.MaxPushConstantsSize,
	}

	cacheInfo := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
	if err := driver.Check("vkCreatePipelineCache", vk.CreatePipelineCache(d.handle, &cacheInfo, nil, &d.cache)); err != nil {
		vk.DestroyDevice(d.handle, nil)
		return nil, err
	}

	log.Info("device created",
		slog.String("device", c.device.Name),
		slog.Uint64("graphics_family", uint64(c.graphics.Index)),
		slog.Uint64("present_family", uint64(c.present.Index)),
		slog.Int("memory_types", len(d.memoryTypes)))
	return d, nil
}

func (d *Device) queue(family uint32) *Queue {
	q := &Queue{device: d, family: family}
	vk.GetDeviceQueue(d.handle, family, 0, &q.handle)
	return q
}

// Physical returns the physical device the logical device was created on.
func (d *Device) Physical() *PhysicalDevice { return d.physical }

func (d *Device) MemoryTypes() []vk.MemoryPropertyFlags { return d.memoryTypes }

func (d *Device) Limits() driver.Limits { return d.limits }

func (d *Device) GraphicsQueue() driver.Queue { return d.graphics }

func (d *Device) WaitIdle() error {
	return driver.Check("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.handle))
}

// findMemoryType returns the first allowed memory type with all of props.
func (d *Device) findMemoryType(bits uint32, props vk.MemoryPropertyFlagBits) (uint32, error) {
	for i, flags := range d.memoryTypes {
		if bits&(1<<uint(i)) != 0 && vk.MemoryPropertyFlagBits(flags)&props == props {
			return uint32(i), nil
		}
	}
	return 0, errors.Newf("no memory type in %#b with properties %#x", bits, props)
}

// Destroy destroys the device and, when it was created by Open, the surface
// and the instance.
func (d *Device) Destroy() {
	vk.DestroyPipelineCache(d.handle, d.cache, nil)
	vk.DestroyDevice(d.handle, nil)
	if d.instance != nil {
		vk.DestroySurface(d.instance.handle, d.surface, nil)
		d.instance.Destroy()
	}
}
