package vkdriver

import (
	"github.com/Neathan/vrend/driver"
	vk "github.com/vulkan-go/vulkan"
)

// DescriptorSetLayout describes the bindings of a descriptor set.
type DescriptorSetLayout struct {
	device *Device
	handle vk.DescriptorSetLayout
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.LayoutBinding) (driver.DescriptorSetLayout, error) {
	vkb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: b.Count,
			StageFlags:      b.Stages,
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkb)),
		PBindings:    vkb,
	}
	l := &DescriptorSetLayout{device: d}
	if err := driver.Check("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.handle, &info, nil, &l.handle)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DescriptorSetLayout) Destroy() {
	vk.DestroyDescriptorSetLayout(l.device.handle, l.handle, nil)
}

func layoutHandle(l driver.DescriptorSetLayout) vk.DescriptorSetLayout {
	return l.(*DescriptorSetLayout).handle
}

// DescriptorSet is a set allocated from a DescriptorPool.
type DescriptorSet struct {
	handle vk.DescriptorSet
	layout driver.DescriptorSetLayout
}

func (s *DescriptorSet) Layout() driver.DescriptorSetLayout { return s.layout }

func setHandle(s driver.DescriptorSet) vk.DescriptorSet {
	return s.(*DescriptorSet).handle
}

// DescriptorPool allocates up to maxSets sets between resets. Running out of
// sets is reported as VK_ERROR_OUT_OF_POOL_MEMORY without calling the driver.
type DescriptorPool struct {
	device    *Device
	handle    vk.DescriptorPool
	maxSets   uint32
	allocated uint32
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []driver.PoolSize) (driver.DescriptorPool, error) {
	vks := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		vks[i] = vk.DescriptorPoolSize{Type: s.Type, DescriptorCount: s.Count}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vks)),
		PPoolSizes:    vks,
	}
	p := &DescriptorPool{device: d, maxSets: maxSets}
	if err := driver.Check("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.handle, &info, nil, &p.handle)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *DescriptorPool) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	if p.allocated >= p.maxSets {
		return nil, &driver.ResultError{Op: "vkAllocateDescriptorSets", Result: vk.ErrorOutOfPoolMemory}
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layoutHandle(layout)},
	}
	s := &DescriptorSet{layout: layout}
	if err := driver.Check("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(p.device.handle, &info, &s.handle)); err != nil {
		return nil, err
	}
	p.allocated++
	return s, nil
}

func (p *DescriptorPool) Reset() error {
	if err := driver.Check("vkResetDescriptorPool", vk.ResetDescriptorPool(p.device.handle, p.handle, 0)); err != nil {
		return err
	}
	p.allocated = 0
	return nil
}

func (p *DescriptorPool) Destroy() {
	vk.DestroyDescriptorPool(p.device.handle, p.handle, nil)
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	vkw := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vkw[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          setHandle(w.Set),
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  w.Type,
		}
		switch {
		case w.Buffer != nil:
			vkw[i].PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: bufferHandle(w.Buffer.Buffer),
				Offset: vk.DeviceSize(w.Buffer.Offset),
				Range:  vk.DeviceSize(w.Buffer.Range),
			}}
		case w.Image != nil:
			vkw[i].PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     w.Image.Sampler.(*Sampler).handle,
				ImageView:   w.Image.View.(*ImageView).handle,
				ImageLayout: w.Image.Layout,
			}}
		}
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(vkw)), vkw, 0, nil)
}
