package vkdriver

import (
	"fmt"
	"log/slog"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// QueueFamily is one queue family of a physical device.
type QueueFamily struct {
	Index      uint32
	Properties vk.QueueFamilyProperties
	device     *PhysicalDevice
}

func (q *QueueFamily) has(bit vk.QueueFlagBits) bool {
	return q.Properties.QueueFlags&vk.QueueFlags(bit) != 0
}

func (q *QueueFamily) IsGraphics() bool { return q.has(vk.QueueGraphicsBit) }
func (q *QueueFamily) IsCompute() bool  { return q.has(vk.QueueComputeBit) }
func (q *QueueFamily) IsTransfer() bool { return q.has(vk.QueueTransferBit) }

// SupportsPresent reports whether the family can present to the surface.
func (q *QueueFamily) SupportsPresent(surface vk.Surface) bool {
	var supported vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(q.device.handle, q.Index, surface, &supported)
	return supported == vk.True
}

func (q *QueueFamily) String() string {
	return fmt.Sprintf("{ Index: %d Count: %d Graphics: %v Compute: %v Transfer: %v }",
		q.Index, q.Properties.QueueCount, q.IsGraphics(), q.IsCompute(), q.IsTransfer())
}

// PhysicalDevice is a GPU as reported by the instance.
type PhysicalDevice struct {
	Name       string
	Properties vk.PhysicalDeviceProperties
	handle     vk.PhysicalDevice
}

func newPhysicalDevice(h vk.PhysicalDevice) *PhysicalDevice {
	p := &PhysicalDevice{handle: h}
	vk.GetPhysicalDeviceProperties(h, &p.Properties)
	p.Properties.Deref()
	p.Properties.Limits.Deref()
	p.Name = vk.ToString(p.Properties.DeviceName[:])
	return p
}

func (p *PhysicalDevice) String() string {
	return p.Name
}

// Features returns the supported device features.
func (p *PhysicalDevice) Features() vk.PhysicalDeviceFeatures {
	var f vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(p.handle, &f)
	f.Deref()
	return f
}

// MemoryProperties returns the memory types and heaps, dereferenced.
func (p *PhysicalDevice) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	var mp vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(p.handle, &mp)
	mp.Deref()
	for i := uint32(0); i < mp.MemoryTypeCount; i++ {
		mp.MemoryTypes[i].Deref()
	}
	for i := uint32(0); i < mp.MemoryHeapCount; i++ {
		mp.MemoryHeaps[i].Deref()
	}
	return mp
}

// QueueFamilies returns the queue families in index order.
func (p *PhysicalDevice) QueueFamilies() []*QueueFamily {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(p.handle, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(p.handle, &count, props)

	families := make([]*QueueFamily, count)
	for i := range props {
		props[i].Deref()
		families[i] = &QueueFamily{Index: uint32(i), Properties: props[i], device: p}
	}
	return families
}

// Extensions lists the device extensions.
func (p *PhysicalDevice) Extensions() ([]string, error) {
	var count uint32
	if err := driver.Check("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(p.handle, "", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if err := driver.Check("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(p.handle, "", &count, props)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, e := range props {
		e.Deref()
		names = append(names, vk.ToString(e.ExtensionName[:]))
	}
	return names, nil
}

func (p *PhysicalDevice) surfaceFormats(surface vk.Surface) ([]vk.SurfaceFormat, error) {
	var count uint32
	if err := driver.Check("vkGetPhysicalDeviceSurfaceFormatsKHR", vk.GetPhysicalDeviceSurfaceFormats(p.handle, surface, &count, nil)); err != nil {
		return nil, err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := driver.Check("vkGetPhysicalDeviceSurfaceFormatsKHR", vk.GetPhysicalDeviceSurfaceFormats(p.handle, surface, &count, formats)); err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	return formats, nil
}

func (p *PhysicalDevice) presentModes(surface vk.Surface) ([]vk.PresentMode, error) {
	var count uint32
	if err := driver.Check("vkGetPhysicalDeviceSurfacePresentModesKHR", vk.GetPhysicalDeviceSurfacePresentModes(p.handle, surface, &count, nil)); err != nil {
		return nil, err
	}
	modes := make([]vk.PresentMode, count)
	if err := driver.Check("vkGetPhysicalDeviceSurfacePresentModesKHR", vk.GetPhysicalDeviceSurfacePresentModes(p.handle, surface, &count, modes)); err != nil {
		return nil, err
	}
	return modes, nil
}

func (p *PhysicalDevice) surfaceCapabilities(surface vk.Surface) (vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	err := driver.Check("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", vk.GetPhysicalDeviceSurfaceCapabilities(p.handle, surface, &caps))
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return caps, err
}

// candidate is a physical device that can drive the renderer.
type candidate struct {
	device   *PhysicalDevice
	graphics *QueueFamily
	present  *QueueFamily
}

// suitable checks the requirements of the renderer: a graphics queue, a queue
// that presents to the surface, the swapchain extension and anisotropic
// sampling. It returns the reason a device was rejected.
func (p *PhysicalDevice) suitable(surface vk.Surface) (candidate, string) {
	c := candidate{device: p}
	for _, qf := range p.QueueFamilies() {
		graphics, present := qf.IsGraphics(), qf.SupportsPresent(surface)
		if graphics && present {
			c.graphics, c.present = qf, qf
			break
		}
		if graphics && c.graphics == nil {
			c.graphics = qf
		}
		if present && c.present == nil {
			c.present = qf
		}
	}
	if c.graphics == nil || c.present == nil {
		return c, "no graphics and present queue"
	}
	extensions, err := p.Extensions()
	if err != nil || !contains(extensions, swapchainExtension) {
		return c, "no swapchain support"
	}
	if p.Features().SamplerAnisotropy != vk.True {
		return c, "no anisotropic sampling"
	}
	formats, err := p.surfaceFormats(surface)
	if err != nil || len(formats) == 0 {
		return c, "no surface formats"
	}
	modes, err := p.presentModes(surface)
	if err != nil || len(modes) == 0 {
		return c, "no present modes"
	}
	return c, ""
}

// pickDevice returns the first suitable device, preferring discrete GPUs.
func pickDevice(devices []*PhysicalDevice, surface vk.Surface, log *slog.Logger) (candidate, error) {
	var found []candidate
	for _, p := range devices {
		c, reason := p.suitable(surface)
		if reason != "" {
			log.Debug("physical device rejected", slog.String("device", p.Name), slog.String("reason", reason))
			continue
		}
		found = append(found, c)
	}
	if len(found) == 0 {
		return candidate{}, errors.WithStack(driver.ErrNoSuitableDevice)
	}
	for _, c := range found {
		if c.device.Properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			return c, nil
		}
	}
	return found[0], nil
}
