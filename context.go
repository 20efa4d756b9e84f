package vrend

import (
	"log/slog"

	"github.com/Neathan/vrend/driver"
)

// Context owns a device and the objects every other component shares: the
// command pool for single commands, the persistent descriptor allocator, the
// descriptor layout cache and the staging uploader.
type Context struct {
	device      driver.Device
	queue       driver.Queue
	commandPool driver.CommandPool

	allocator *DescriptorAllocator
	cache     *DescriptorLayoutCache
	uploader  *StagingUploader

	arena Arena
	opts  contextOptions
}

type contextOptions struct {
	batchSize     uint32
	maxAnisotropy float32
	clearColor    [4]float32
}

// ContextOption configures a Context.
type ContextOption func(*contextOptions)

// WithDescriptorBatchSize sets the set capacity of every descriptor pool the
// context and its frame slots create.
func WithDescriptorBatchSize(n uint32) ContextOption {
	return func(o *contextOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithMaxAnisotropy caps sampler anisotropy below the device limit.
func WithMaxAnisotropy(v float32) ContextOption {
	return func(o *contextOptions) {
		o.maxAnisotropy = v
	}
}

// WithClearColor sets the color attachment clear value used by frames.
func WithClearColor(c [4]float32) ContextOption {
	return func(o *contextOptions) {
		o.clearColor = c
	}
}

// ContextOptions returns the options described by a renderer configuration.
func (c RendererConfig) ContextOptions() []ContextOption {
	return []ContextOption{
		WithDescriptorBatchSize(c.DescriptorBatchSize),
		WithMaxAnisotropy(c.MaxAnisotropy),
		WithClearColor(c.ClearColor),
	}
}

// NewContext takes ownership of device. The device is destroyed with the
// context.
func NewContext(device driver.Device, opts ...ContextOption) (*Context, error) {
	o := contextOptions{
		batchSize:  DefaultPoolBatchSize,
		clearColor: [4]float32{0, 0, 0, 1},
	}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := device.CreateCommandPool()
	if err != nil {
		return nil, creationFailed(err, "create command pool")
	}

	c := &Context{
		device:      device,
		queue:       device.GraphicsQueue(),
		commandPool: pool,
		opts:        o,
	}
	c.cache = NewDescriptorLayoutCache(device)
	c.allocator = NewDescriptorAllocator(device, WithBatchSize(o.batchSize))
	c.uploader = NewStagingUploader(c)

	Logger().Info("vrend: context created",
		slog.Int("memory_types", len(device.MemoryTypes())),
		slog.Uint64("descriptor_batch", uint64(o.batchSize)))
	return c, nil
}

// Device returns the device owned by the context.
func (c *Context) Device() driver.Device { return c.device }

// Allocator returns the persistent descriptor allocator. Its pools are never
// reset by the frame scheduler.
func (c *Context) Allocator() *DescriptorAllocator { return c.allocator }

// LayoutCache returns the shared descriptor layout cache.
func (c *Context) LayoutCache() *DescriptorLayoutCache { return c.cache }

// Uploader returns the staging uploader.
func (c *Context) Uploader() *StagingUploader { return c.uploader }

// MaxAnisotropy returns the anisotropy samplers are created with.
func (c *Context) MaxAnisotropy() float32 {
	limit := c.device.Limits().MaxSamplerAnisotropy
	if c.opts.maxAnisotropy > 0 && c.opts.maxAnisotropy < limit {
		return c.opts.maxAnisotropy
	}
	return limit
}

// NewDescriptorBuilder returns a builder over the context's layout cache and
// persistent allocator.
func (c *Context) NewDescriptorBuilder() *DescriptorBuilder {
	return NewDescriptorBuilder(c.device, c.cache, c.allocator)
}

// PrepareSingleCommand allocates a command buffer and begins one time
// recording.
func (c *Context) PrepareSingleCommand() (driver.CommandBuffer, error) {
	cb, err := c.commandPool.Allocate()
	if err != nil {
		return nil, creationFailed(err, "allocate single command buffer")
	}
	if err := cb.Begin(true); err != nil {
		c.commandPool.Free(cb)
		return nil, err
	}
	return cb, nil
}

// ExecuteSingleCommand ends cb, submits it and blocks until the queue is
// idle. The buffer is freed in every case.
func (c *Context) ExecuteSingleCommand(cb driver.CommandBuffer) error {
	if err := cb.End(); err != nil {
		c.commandPool.Free(cb)
		return err
	}
	if err := c.queue.Submit([]driver.CommandBuffer{cb}, nil, nil, nil); err != nil {
		c.commandPool.Free(cb)
		return err
	}
	err := c.queue.WaitIdle()
	c.commandPool.Free(cb)
	return err
}

// discardSingleCommand frees a command buffer that was never submitted.
func (c *Context) discardSingleCommand(cb driver.CommandBuffer) {
	if err := cb.End(); err != nil {
		Logger().Debug("vrend: end of discarded command buffer", slog.Any("err", err))
	}
	c.commandPool.Free(cb)
}

// Track hands d to the context. Tracked resources are destroyed in reverse
// order by Destroy, before the shared objects and the device.
func (c *Context) Track(d driver.Destroyer) {
	c.arena.Add(d)
}

// Destroy waits for the device to go idle and releases everything the
// context owns, the device last.
func (c *Context) Destroy() {
	if err := c.device.WaitIdle(); err != nil {
		Logger().Warn("vrend: wait idle before destroy", slog.Any("err", err))
	}
	c.arena.Destroy()
	c.allocator.Destroy()
	c.cache.Destroy()
	c.commandPool.Destroy()
	c.device.Destroy()
}
