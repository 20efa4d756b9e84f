package drivertest

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const alignment = 16

func alignUp(v uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

// Memory is a host byte slice standing in for device memory.
type Memory struct {
	device    *Device
	typeIndex uint32
	flags     vk.MemoryPropertyFlags
	bytes     []byte
	mapped    bool
	freed     bool
}

func (m *Memory) Size() uint64 { return uint64(len(m.bytes)) }

// TypeIndex returns the memory type the allocation was made from.
func (m *Memory) TypeIndex() uint32 { return m.typeIndex }

// Flags returns the property flags of the allocation's memory type.
func (m *Memory) Flags() vk.MemoryPropertyFlags { return m.flags }

// Mapped reports whether the memory is currently mapped.
func (m *Memory) Mapped() bool { return m.mapped }

func (m *Memory) Map(offset, size uint64) ([]byte, error) {
	if err := m.device.injected("MapMemory"); err != nil {
		return nil, err
	}
	if m.flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		return nil, &driver.ResultError{Op: "vkMapMemory", Result: vk.ErrorMemoryMapFailed}
	}
	if m.mapped {
		return nil, &driver.ResultError{Op: "vkMapMemory", Result: vk.ErrorMemoryMapFailed}
	}
	if offset+size > m.Size() {
		return nil, errors.Newf("drivertest: map range %d+%d exceeds allocation of %d bytes", offset, size, m.Size())
	}
	m.mapped = true
	return m.bytes[offset : offset+size : offset+size], nil
}

func (m *Memory) Unmap() {
	if !m.mapped {
		m.device.violate("unmap of memory that is not mapped")
	}
	m.mapped = false
}

func (m *Memory) Destroy() {
	if m.device.queue.references(m) {
		m.device.violate("memory freed while a pending submission uses it")
	}
	m.freed = true
	m.device.untrack(m, "memory")
}

// Buffer is bound to a range of a Memory.
type Buffer struct {
	device *Device
	size   uint64
	usage  vk.BufferUsageFlags
	memory *Memory
	offset uint64
}

func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() vk.BufferUsageFlags { return b.usage }

// Memory returns the bound memory, nil before Bind.
func (b *Buffer) Memory() *Memory { return b.memory }

func (b *Buffer) Requirements() driver.Requirements {
	return driver.Requirements{
		Size:           alignUp(b.size),
		Alignment:      alignment,
		MemoryTypeBits: b.device.typeBits,
	}
}

func (b *Buffer) Bind(memory driver.Memory, offset uint64) error {
	m, ok := memory.(*Memory)
	if !ok {
		return errors.New("drivertest: foreign memory")
	}
	if b.memory != nil {
		return errors.New("drivertest: buffer already bound")
	}
	if b.device.typeBits&(1<<m.typeIndex) == 0 {
		b.device.violate("buffer bound to memory type %d outside its requirements", m.typeIndex)
	}
	if offset+b.size > m.Size() {
		return errors.Newf("drivertest: buffer of %d bytes does not fit at offset %d", b.size, offset)
	}
	b.memory = m
	b.offset = offset
	return nil
}

// Bytes returns the buffer contents as seen by the device.
func (b *Buffer) Bytes() []byte {
	if b.memory == nil {
		return nil
	}
	return b.memory.bytes[b.offset : b.offset+b.size]
}

func (b *Buffer) Destroy() {
	if b.device.queue.references(b) {
		b.device.violate("buffer destroyed while a pending submission uses it")
	}
	b.device.untrack(b, "buffer")
}

// Image stores tightly packed texels in its bound memory and tracks its
// current layout.
type Image struct {
	device *Device
	desc   driver.ImageDesc
	memory *Memory
	offset uint64
	layout vk.ImageLayout
}

func (i *Image) Desc() driver.ImageDesc { return i.desc }

// Layout returns the layout the image is in after all executed barriers.
func (i *Image) Layout() vk.ImageLayout { return i.layout }

func (i *Image) byteSize() uint64 {
	return i.desc.ByteSize()
}

func (i *Image) Requirements() driver.Requirements {
	return driver.Requirements{
		Size:           alignUp(i.byteSize()),
		Alignment:      alignment,
		MemoryTypeBits: i.device.typeBits,
	}
}

func (i *Image) Bind(memory driver.Memory, offset uint64) error {
	m, ok := memory.(*Memory)
	if !ok {
		return errors.New("drivertest: foreign memory")
	}
	if i.memory != nil {
		return errors.New("drivertest: image already bound")
	}
	if offset+i.byteSize() > m.Size() {
		return errors.Newf("drivertest: image of %d bytes does not fit at offset %d", i.byteSize(), offset)
	}
	i.memory = m
	i.offset = offset
	return nil
}

// Texels returns the image contents as seen by the device.
func (i *Image) Texels() []byte {
	if i.memory == nil {
		return nil
	}
	return i.memory.bytes[i.offset : i.offset+i.byteSize()]
}

func (i *Image) Destroy() {
	if i.device.queue.references(i) {
		i.device.violate("image destroyed while a pending submission uses it")
	}
	i.device.untrack(i, "image")
}
