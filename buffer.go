package vrend

import (
	"github.com/Neathan/vrend/driver"
	vk "github.com/vulkan-go/vulkan"
)

// AllocatedBuffer is a buffer bound at offset 0 of its own memory allocation.
type AllocatedBuffer struct {
	Buffer driver.Buffer
	Memory driver.Memory
}

// AllocatedImage is an image bound at offset 0 of its own memory allocation.
type AllocatedImage struct {
	Image  driver.Image
	Memory driver.Memory
}

// CreateBuffer creates a buffer of size bytes and binds it to a fresh
// allocation from the first memory type holding props.
func (c *Context) CreateBuffer(size uint64, usage vk.BufferUsageFlags, props vk.MemoryPropertyFlags) (*AllocatedBuffer, error) {
	buffer, err := c.device.CreateBuffer(size, usage)
	if err != nil {
		return nil, creationFailed(err, "create buffer of %d bytes", size)
	}
	memory, err := c.allocateFor(buffer.Requirements(), props)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}
	if err := buffer.Bind(memory, 0); err != nil {
		memory.Destroy()
		buffer.Destroy()
		return nil, creationFailed(err, "bind buffer memory")
	}
	return &AllocatedBuffer{Buffer: buffer, Memory: memory}, nil
}

// CreateImage creates an image and binds it to a fresh allocation from the
// first memory type holding props.
func (c *Context) CreateImage(desc driver.ImageDesc, props vk.MemoryPropertyFlags) (*AllocatedImage, error) {
	image, err := c.device.CreateImage(desc)
	if err != nil {
		return nil, creationFailed(err, "create image %dx%d", desc.Width, desc.Height)
	}
	memory, err := c.allocateFor(image.Requirements(), props)
	if err != nil {
		image.Destroy()
		return nil, err
	}
	if err := image.Bind(memory, 0); err != nil {
		memory.Destroy()
		image.Destroy()
		return nil, creationFailed(err, "bind image memory")
	}
	return &AllocatedImage{Image: image, Memory: memory}, nil
}

func (c *Context) allocateFor(req driver.Requirements, props vk.MemoryPropertyFlags) (driver.Memory, error) {
	typeIndex, err := c.FindMemoryType(req.MemoryTypeBits, props)
	if err != nil {
		return nil, err
	}
	memory, err := c.device.AllocateMemory(req.Size, typeIndex)
	if err != nil {
		return nil, creationFailed(err, "allocate %d bytes from memory type %d", req.Size, typeIndex)
	}
	return memory, nil
}

// Write maps the allocation, copies data to its start and unmaps it. The
// buffer must live in host visible memory.
func (b *AllocatedBuffer) Write(data []byte) error {
	mapped, err := b.Memory.Map(0, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(mapped, data)
	b.Memory.Unmap()
	return nil
}

func (b *AllocatedBuffer) Destroy() {
	if b.Buffer != nil {
		b.Buffer.Destroy()
	}
	if b.Memory != nil {
		b.Memory.Destroy()
	}
}

func (i *AllocatedImage) Destroy() {
	if i.Image != nil {
		i.Image.Destroy()
	}
	if i.Memory != nil {
		i.Memory.Destroy()
	}
}
