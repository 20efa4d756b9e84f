package drivertest

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
	cbInvalid
)

// Barrier is the value logged for an executed pipeline barrier.
type Barrier struct {
	SrcStage vk.PipelineStageFlags
	DstStage vk.PipelineStageFlags
	driver.ImageBarrier
}

// BoundSets is the value logged for an executed descriptor set bind.
type BoundSets struct {
	First uint32
	Sets  []driver.DescriptorSet
}

// Draw is the value logged for an executed indexed draw.
type Draw struct {
	IndexCount uint32
	FirstIndex uint32
}

type op struct {
	name  string
	value any
	refs  []any
	run   func()
}

// CommandPool owns the command buffers it allocates.
type CommandPool struct {
	device  *Device
	buffers map[*CommandBuffer]bool
}

func (d *Device) CreateCommandPool() (driver.CommandPool, error) {
	if err := d.injected("CreateCommandPool"); err != nil {
		return nil, err
	}
	p := &CommandPool{device: d, buffers: make(map[*CommandBuffer]bool)}
	d.track(p, "command pool")
	return p, nil
}

func (p *CommandPool) Allocate() (driver.CommandBuffer, error) {
	if err := p.device.injected("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	cb := &CommandBuffer{device: p.device, pool: p}
	p.buffers[cb] = true
	p.device.stats.CommandBuffers++
	p.device.track(cb, "command buffer")
	return cb, nil
}

func (p *CommandPool) Free(buffer driver.CommandBuffer) {
	cb, ok := buffer.(*CommandBuffer)
	if !ok || !p.buffers[cb] {
		p.device.violate("free of a command buffer from another pool")
		return
	}
	if cb.state == cbPending {
		p.device.violate("command buffer freed while its submission is pending")
	}
	delete(p.buffers, cb)
	p.device.untrack(cb, "command buffer")
}

func (p *CommandPool) Destroy() {
	for cb := range p.buffers {
		if cb.state == cbPending {
			p.device.violate("command pool destroyed while a submission is pending")
		}
		delete(p.device.live, cb)
	}
	p.buffers = nil
	p.device.untrack(p, "command pool")
}

// CommandBuffer records closures that run when its submission completes.
type CommandBuffer struct {
	device  *Device
	pool    *CommandPool
	state   cbState
	oneTime bool
	inPass  bool
	ops     []op
	resets  int
}

// Resets returns how many times the buffer was explicitly reset.
func (c *CommandBuffer) Resets() int { return c.resets }

// Pending reports whether the buffer's last submission has not completed.
func (c *CommandBuffer) Pending() bool { return c.state == cbPending }

func (c *CommandBuffer) Begin(oneTime bool) error {
	switch c.state {
	case cbPending:
		c.device.violate("command buffer begun while its submission is pending")
		return errors.New("drivertest: command buffer is pending")
	case cbRecording:
		return errors.New("drivertest: command buffer is already recording")
	}
	c.ops = nil
	c.oneTime = oneTime
	c.inPass = false
	c.state = cbRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != cbRecording {
		return errors.New("drivertest: command buffer is not recording")
	}
	if c.inPass {
		c.device.violate("command buffer ended inside a render pass")
	}
	c.state = cbExecutable
	return nil
}

func (c *CommandBuffer) Reset() error {
	if c.state == cbPending {
		c.device.violate("command buffer reset while its submission is pending")
	}
	c.resets++
	c.ops = nil
	c.inPass = false
	c.state = cbInitial
	return nil
}

func (c *CommandBuffer) record(name string, value any, refs []any, run func()) {
	if c.state != cbRecording {
		c.device.violate("%s recorded outside Begin/End", name)
		return
	}
	c.ops = append(c.ops, op{name: name, value: value, refs: refs, run: run})
}

func (c *CommandBuffer) BeginRenderPass(pass driver.RenderPass, fb driver.Framebuffer, extent vk.Extent2D, clear driver.ClearValues) {
	if c.inPass {
		c.device.violate("nested render pass")
	}
	c.inPass = true
	c.record("BeginRenderPass", clear, []any{pass, fb}, nil)
}

func (c *CommandBuffer) EndRenderPass() {
	if !c.inPass {
		c.device.violate("EndRenderPass outside a render pass")
	}
	c.inPass = false
	c.record("EndRenderPass", nil, nil, nil)
}

func (c *CommandBuffer) BindPipeline(p driver.Pipeline) {
	c.record("BindPipeline", p, []any{p}, nil)
}

func (c *CommandBuffer) BindDescriptorSets(layout driver.PipelineLayout, firstSet uint32, sets ...driver.DescriptorSet) {
	refs := []any{layout}
	for _, s := range sets {
		ds, ok := s.(*DescriptorSet)
		if !ok {
			c.device.violate("bind of a foreign descriptor set")
			continue
		}
		if !ds.Valid() {
			c.device.violate("bind of a descriptor set whose pool was reset")
		}
		refs = append(refs, ds.pool)
	}
	bound := append([]driver.DescriptorSet(nil), sets...)
	c.record("BindDescriptorSets", BoundSets{First: firstSet, Sets: bound}, refs, func() {
		for _, s := range bound {
			if ds, ok := s.(*DescriptorSet); ok && !ds.Valid() {
				c.device.violate("descriptor set executed after its pool was reset")
			}
		}
	})
}

func (c *CommandBuffer) PushConstants(layout driver.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if uint32(len(data))+offset > c.device.limits.MaxPushConstantsSize {
		c.device.violate("push constant range %d+%d above device limit", offset, len(data))
	}
	c.record("PushConstants", append([]byte(nil), data...), []any{layout}, nil)
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []driver.Buffer, offsets []uint64) {
	refs := make([]any, 0, len(buffers))
	for _, b := range buffers {
		refs = append(refs, b)
	}
	c.record("BindVertexBuffers", append([]uint64(nil), offsets...), refs, nil)
}

func (c *CommandBuffer) BindIndexBuffer(buffer driver.Buffer, offset uint64, indexType vk.IndexType) {
	c.record("BindIndexBuffer", offset, []any{buffer}, nil)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.inPass {
		c.device.violate("draw outside a render pass")
	}
	c.record("DrawIndexed", Draw{IndexCount: indexCount, FirstIndex: firstIndex}, nil, nil)
}

func (c *CommandBuffer) CopyBuffer(src, dst driver.Buffer, size uint64) {
	s, d := src.(*Buffer), dst.(*Buffer)
	if c.inPass {
		c.device.violate("copy inside a render pass")
	}
	if size > s.size || size > d.size {
		c.device.violate("buffer copy of %d bytes exceeds source %d or destination %d", size, s.size, d.size)
		return
	}
	c.record("CopyBuffer", size, []any{s, d, s.memory, d.memory}, func() {
		copy(d.Bytes()[:size], s.Bytes()[:size])
	})
}

func (c *CommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout vk.ImageLayout, region driver.BufferImageCopy) {
	s, img := src.(*Buffer), dst.(*Image)
	if layout != vk.ImageLayoutTransferDstOptimal && layout != vk.ImageLayoutGeneral {
		c.device.violate("copy to image declared in layout %d", layout)
	}
	n := uint64(region.Width) * uint64(region.Height) * uint64(driver.TexelSize(img.desc.Format))
	if region.BufferOffset+n > s.size {
		c.device.violate("buffer to image copy reads past the source buffer")
		return
	}
	c.record("CopyBufferToImage", region, []any{s, img, s.memory, img.memory}, func() {
		if img.layout != layout {
			c.device.violate("copy to image in layout %d, declared %d", img.layout, layout)
		}
		copy(img.Texels()[:n], s.Bytes()[region.BufferOffset:region.BufferOffset+n])
	})
}

func (c *CommandBuffer) CopyImageToBuffer(src driver.Image, layout vk.ImageLayout, dst driver.Buffer, region driver.BufferImageCopy) {
	img, d := src.(*Image), dst.(*Buffer)
	if layout != vk.ImageLayoutTransferSrcOptimal && layout != vk.ImageLayoutGeneral {
		c.device.violate("copy from image declared in layout %d", layout)
	}
	n := uint64(region.Width) * uint64(region.Height) * uint64(driver.TexelSize(img.desc.Format))
	if region.BufferOffset+n > d.size {
		c.device.violate("image to buffer copy writes past the destination buffer")
		return
	}
	c.record("CopyImageToBuffer", region, []any{img, d, img.memory, d.memory}, func() {
		if img.layout != layout {
			c.device.violate("copy from image in layout %d, declared %d", img.layout, layout)
		}
		copy(d.Bytes()[region.BufferOffset:region.BufferOffset+n], img.Texels()[:n])
	})
}

func (c *CommandBuffer) PipelineBarrier(srcStage, dstStage vk.PipelineStageFlags, barriers ...driver.ImageBarrier) {
	if c.inPass {
		c.device.violate("image barrier inside a render pass")
	}
	for _, b := range barriers {
		b := b
		img := b.Image.(*Image)
		c.record("PipelineBarrier", Barrier{SrcStage: srcStage, DstStage: dstStage, ImageBarrier: b}, []any{img}, func() {
			if b.OldLayout != vk.ImageLayoutUndefined && img.layout != b.OldLayout {
				c.device.violate("barrier from layout %d on image in layout %d", b.OldLayout, img.layout)
			}
			img.layout = b.NewLayout
		})
	}
}

type submission struct {
	buffers []*CommandBuffer
	fence   *Fence
}

// Queue executes submissions in order when their completion is observed.
type Queue struct {
	device  *Device
	pending []*submission
}

// Pending returns the number of submissions that have not completed.
func (q *Queue) Pending() int { return len(q.pending) }

func (q *Queue) Submit(buffers []driver.CommandBuffer, wait []driver.SemaphoreWait, signal []driver.Semaphore, fence driver.Fence) error {
	d := q.device
	if err := d.injected("QueueSubmit"); err != nil {
		return err
	}
	sub := &submission{}
	for _, b := range buffers {
		cb, ok := b.(*CommandBuffer)
		if !ok {
			return errors.New("drivertest: foreign command buffer")
		}
		if cb.state != cbExecutable {
			d.violate("submit of a command buffer that is not executable")
			return errors.New("drivertest: command buffer is not executable")
		}
		sub.buffers = append(sub.buffers, cb)
	}
	if fence != nil {
		f := fence.(*Fence)
		if f.signaled {
			d.violate("submit with a fence that is already signaled")
		}
		if f.pending != nil {
			d.violate("submit with a fence that is already in use")
		}
		f.pending = sub
		sub.fence = f
	}
	for _, w := range wait {
		w.Semaphore.(*Semaphore).wait()
	}
	for _, s := range signal {
		s.(*Semaphore).signal()
	}
	for _, cb := range sub.buffers {
		cb.state = cbPending
	}
	q.pending = append(q.pending, sub)
	d.stats.Submissions++
	return nil
}

func (q *Queue) WaitIdle() error {
	if err := q.device.injected("QueueWaitIdle"); err != nil {
		return err
	}
	q.device.stats.QueueWaitIdles++
	q.completeAll()
	return nil
}

func (q *Queue) completeAll() {
	for len(q.pending) > 0 {
		q.complete(q.pending[0])
	}
}

func (q *Queue) completeThrough(s *submission) {
	for len(q.pending) > 0 {
		head := q.pending[0]
		q.complete(head)
		if head == s {
			return
		}
	}
}

func (q *Queue) complete(s *submission) {
	q.pending = q.pending[1:]
	for _, cb := range s.buffers {
		for _, o := range cb.ops {
			if o.run != nil {
				o.run()
			}
			q.device.executed = append(q.device.executed, Command{Name: o.name, Value: o.value})
		}
		if cb.oneTime {
			cb.state = cbInvalid
		} else {
			cb.state = cbExecutable
		}
	}
	if s.fence != nil {
		s.fence.signaled = true
		s.fence.pending = nil
	}
}

func (q *Queue) references(obj any) bool {
	for _, s := range q.pending {
		for _, cb := range s.buffers {
			for _, o := range cb.ops {
				for _, r := range o.refs {
					if r == obj {
						return true
					}
				}
			}
		}
	}
	return false
}

// Fence is signaled when the submission it was passed to completes.
type Fence struct {
	device   *Device
	signaled bool
	pending  *submission
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	if err := d.injected("CreateFence"); err != nil {
		return nil, err
	}
	f := &Fence{device: d, signaled: signaled}
	d.track(f, "fence")
	return f, nil
}

func (f *Fence) Wait(timeout uint64) error {
	f.device.stats.FenceWaits++
	if f.signaled {
		return nil
	}
	if f.pending != nil {
		f.device.queue.completeThrough(f.pending)
		return nil
	}
	if timeout == vk.MaxUint64 {
		f.device.violate("unbounded wait on a fence nothing will signal")
		return errors.New("drivertest: fence can never signal")
	}
	return &driver.ResultError{Op: "vkWaitForFences", Result: vk.Timeout}
}

func (f *Fence) Reset() error {
	if f.pending != nil {
		f.device.violate("fence reset while its submission is pending")
	}
	f.signaled = false
	return nil
}

func (f *Fence) Signaled() bool { return f.signaled }

func (f *Fence) Destroy() {
	if f.pending != nil {
		f.device.violate("fence destroyed while its submission is pending")
	}
	f.device.untrack(f, "fence")
}

// Semaphore counts signals that have been issued but not yet waited on.
type Semaphore struct {
	device  *Device
	signals int
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	if err := d.injected("CreateSemaphore"); err != nil {
		return nil, err
	}
	s := &Semaphore{device: d}
	d.track(s, "semaphore")
	return s, nil
}

func (s *Semaphore) signal() {
	if s.signals > 0 {
		s.device.violate("semaphore signaled while a previous signal is unconsumed")
	}
	s.signals++
}

func (s *Semaphore) wait() {
	if s.signals == 0 {
		s.device.violate("wait on a semaphore that nothing signals")
		return
	}
	s.signals--
}

func (s *Semaphore) Destroy() { s.device.untrack(s, "semaphore") }
