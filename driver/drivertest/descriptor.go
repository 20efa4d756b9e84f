package drivertest

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DescriptorSetLayout keeps the bindings it was created with.
type DescriptorSetLayout struct {
	device   *Device
	bindings []driver.LayoutBinding
}

// Bindings returns the bindings in creation order.
func (l *DescriptorSetLayout) Bindings() []driver.LayoutBinding { return l.bindings }

func (l *DescriptorSetLayout) Destroy() { l.device.untrack(l, "descriptor set layout") }

func (d *Device) CreateDescriptorSetLayout(bindings []driver.LayoutBinding) (driver.DescriptorSetLayout, error) {
	if err := d.injected("CreateDescriptorSetLayout"); err != nil {
		return nil, err
	}
	seen := make(map[uint32]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			return nil, errors.Newf("drivertest: duplicate binding %d", b.Binding)
		}
		seen[b.Binding] = true
	}
	l := &DescriptorSetLayout{device: d, bindings: append([]driver.LayoutBinding(nil), bindings...)}
	d.stats.Layouts++
	d.track(l, "descriptor set layout")
	return l, nil
}

// DescriptorPool enforces its set and per type descriptor capacity.
type DescriptorPool struct {
	device     *Device
	id         int
	maxSets    uint32
	capacity   map[vk.DescriptorType]uint32
	used       map[vk.DescriptorType]uint32
	sets       uint32
	generation int
}

// ID is the creation order of the pool, starting at 1.
func (p *DescriptorPool) ID() int { return p.id }

// Allocated returns the number of live sets.
func (p *DescriptorPool) Allocated() uint32 { return p.sets }

// MaxSets returns the set capacity the pool was created with.
func (p *DescriptorPool) MaxSets() uint32 { return p.maxSets }

// Capacity returns the descriptor count of a type the pool was created with.
func (p *DescriptorPool) Capacity(t vk.DescriptorType) uint32 { return p.capacity[t] }

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []driver.PoolSize) (driver.DescriptorPool, error) {
	if err := d.injected("CreateDescriptorPool"); err != nil {
		return nil, err
	}
	if maxSets == 0 {
		return nil, errors.New("drivertest: descriptor pool with no sets")
	}
	d.stats.Pools++
	p := &DescriptorPool{
		device:   d,
		id:       d.stats.Pools,
		maxSets:  maxSets,
		capacity: make(map[vk.DescriptorType]uint32, len(sizes)),
		used:     make(map[vk.DescriptorType]uint32),
	}
	for _, s := range sizes {
		p.capacity[s.Type] += s.Count
	}
	d.track(p, "descriptor pool")
	return p, nil
}

func (p *DescriptorPool) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	if err := p.device.injected("AllocateDescriptorSets"); err != nil {
		return nil, err
	}
	l, ok := layout.(*DescriptorSetLayout)
	if !ok {
		return nil, errors.New("drivertest: foreign descriptor set layout")
	}
	if _, alive := p.device.live[l]; !alive {
		p.device.violate("allocation from a destroyed descriptor set layout")
	}
	if p.sets+1 > p.maxSets {
		return nil, &driver.ResultError{Op: "vkAllocateDescriptorSets", Result: vk.ErrorOutOfPoolMemory}
	}
	need := make(map[vk.DescriptorType]uint32)
	for _, b := range l.bindings {
		need[b.Type] += b.Count
	}
	for t, n := range need {
		if p.used[t]+n > p.capacity[t] {
			return nil, &driver.ResultError{Op: "vkAllocateDescriptorSets", Result: vk.ErrorOutOfPoolMemory}
		}
	}
	for t, n := range need {
		p.used[t] += n
	}
	p.sets++
	return &DescriptorSet{
		pool:       p,
		layout:     l,
		generation: p.generation,
		writes:     make(map[uint32]driver.DescriptorWrite),
	}, nil
}

func (p *DescriptorPool) Reset() error {
	if err := p.device.injected("ResetDescriptorPool"); err != nil {
		return err
	}
	p.sets = 0
	p.used = make(map[vk.DescriptorType]uint32)
	p.generation++
	p.device.stats.PoolResets++
	return nil
}

func (p *DescriptorPool) Destroy() {
	p.generation++
	p.device.untrack(p, "descriptor pool")
}

// DescriptorSet records the writes made to it.
type DescriptorSet struct {
	pool       *DescriptorPool
	layout     *DescriptorSetLayout
	generation int
	writes     map[uint32]driver.DescriptorWrite
}

func (s *DescriptorSet) Layout() driver.DescriptorSetLayout { return s.layout }

// Pool returns the pool the set was allocated from.
func (s *DescriptorSet) Pool() *DescriptorPool { return s.pool }

// Valid reports whether the owning pool was not reset or destroyed since the
// set was allocated.
func (s *DescriptorSet) Valid() bool { return s.generation == s.pool.generation }

// Write returns the last write made to a binding.
func (s *DescriptorSet) Write(binding uint32) (driver.DescriptorWrite, bool) {
	w, ok := s.writes[binding]
	return w, ok
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	for _, w := range writes {
		s, ok := w.Set.(*DescriptorSet)
		if !ok {
			d.violate("descriptor write to a foreign set")
			continue
		}
		if !s.Valid() {
			d.violate("descriptor write to a set whose pool was reset")
			continue
		}
		var declared *driver.LayoutBinding
		for i := range s.layout.bindings {
			if s.layout.bindings[i].Binding == w.Binding {
				declared = &s.layout.bindings[i]
			}
		}
		switch {
		case declared == nil:
			d.violate("descriptor write to undeclared binding %d", w.Binding)
			continue
		case declared.Type != w.Type:
			d.violate("descriptor write of type %d to binding %d of type %d", w.Type, w.Binding, declared.Type)
		case (w.Buffer == nil) == (w.Image == nil):
			d.violate("descriptor write to binding %d needs exactly one of buffer and image", w.Binding)
		}
		s.writes[w.Binding] = w
	}
}
