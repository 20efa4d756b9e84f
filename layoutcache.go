package vrend

import (
	"encoding/binary"
	"log/slog"
	"sort"

	"github.com/Neathan/vrend/driver"
)

// descriptorLayoutKey is the byte encoding of bindings sorted by index.
type descriptorLayoutKey string

func layoutKey(sorted []driver.LayoutBinding) descriptorLayoutKey {
	b := make([]byte, 0, len(sorted)*16)
	for _, binding := range sorted {
		b = binary.LittleEndian.AppendUint32(b, binding.Binding)
		b = binary.LittleEndian.AppendUint32(b, uint32(binding.Type))
		b = binary.LittleEndian.AppendUint32(b, binding.Count)
		b = binary.LittleEndian.AppendUint32(b, uint32(binding.Stages))
	}
	return descriptorLayoutKey(b)
}

// DescriptorLayoutCache hands out one descriptor set layout per distinct
// binding list. Lists that only differ in order share a layout.
type DescriptorLayoutCache struct {
	device  driver.Device
	layouts map[descriptorLayoutKey]driver.DescriptorSetLayout
}

func NewDescriptorLayoutCache(device driver.Device) *DescriptorLayoutCache {
	return &DescriptorLayoutCache{
		device:  device,
		layouts: make(map[descriptorLayoutKey]driver.DescriptorSetLayout),
	}
}

// CreateDescriptorLayout returns the cached layout for bindings, creating it
// on first use. The caller's slice is not modified.
func (c *DescriptorLayoutCache) CreateDescriptorLayout(bindings []driver.LayoutBinding) (driver.DescriptorSetLayout, error) {
	less := func(i, j int) bool { return bindings[i].Binding < bindings[j].Binding }
	if !sort.SliceIsSorted(bindings, less) {
		sorted := append([]driver.LayoutBinding(nil), bindings...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Binding < sorted[j].Binding })
		bindings = sorted
	}

	key := layoutKey(bindings)
	if layout, ok := c.layouts[key]; ok {
		return layout, nil
	}

	layout, err := c.device.CreateDescriptorSetLayout(bindings)
	if err != nil {
		return nil, creationFailed(err, "create descriptor set layout with %d bindings", len(bindings))
	}
	c.layouts[key] = layout
	Logger().Debug("vrend: descriptor set layout created", slog.Int("bindings", len(bindings)), slog.Int("cached", len(c.layouts)))
	return layout, nil
}

// Len returns the number of distinct layouts created.
func (c *DescriptorLayoutCache) Len() int {
	return len(c.layouts)
}

// Destroy destroys every cached layout.
func (c *DescriptorLayoutCache) Destroy() {
	for key, layout := range c.layouts {
		layout.Destroy()
		delete(c.layouts, key)
	}
}
