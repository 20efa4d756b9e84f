package vrend

import (
	"log/slog"
	"os"
	"unsafe"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
)

// FramesInFlight is the number of frames the CPU may record ahead of the
// device.
const FramesInFlight = 2

// transformSize is the size of the model matrix push constant.
const transformSize = uint32(unsafe.Sizeof(lin.Mat4x4{}))

// FrameState is the position of a frame slot in its cycle.
type FrameState int

const (
	FrameIdle FrameState = iota
	FrameAcquired
	FrameRecording
	FrameSubmitted
	FramePresented
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameAcquired:
		return "acquired"
	case FrameRecording:
		return "recording"
	case FrameSubmitted:
		return "submitted"
	case FramePresented:
		return "presented"
	default:
		return "unknown"
	}
}

// Shaders holds the SPIR-V code of the forward pipeline.
type Shaders struct {
	Vertex   []byte
	Fragment []byte
}

// LoadShaders reads precompiled SPIR-V modules.
func LoadShaders(vertexPath, fragmentPath string) (Shaders, error) {
	var s Shaders
	var err error
	if s.Vertex, err = os.ReadFile(vertexPath); err != nil {
		return s, errors.Wrap(err, "read vertex shader")
	}
	if s.Fragment, err = os.ReadFile(fragmentPath); err != nil {
		return s, errors.Wrap(err, "read fragment shader")
	}
	return s, nil
}

// VertexBindings returns the position, uv and normal streams of a Mesh.
func VertexBindings() []driver.VertexBinding {
	return []driver.VertexBinding{
		{Binding: 0, Stride: PositionStride, Location: 0, Format: vk.FormatR32g32b32Sfloat},
		{Binding: 1, Stride: UVStride, Location: 1, Format: vk.FormatR32g32Sfloat},
		{Binding: 2, Stride: NormalStride, Location: 2, Format: vk.FormatR32g32b32Sfloat},
	}
}

// ViewLayoutBindings returns the bindings of the per frame view set.
func ViewLayoutBindings() []driver.LayoutBinding {
	return []driver.LayoutBinding{{
		Binding: 0,
		Type:    vk.DescriptorTypeUniformBuffer,
		Count:   1,
		Stages:  vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}}
}

type frameSlot struct {
	cmd            driver.CommandBuffer
	imageAcquired  driver.Semaphore
	renderFinished driver.Semaphore
	inFlight       driver.Fence

	view    *UniformBuffer[ViewUniform]
	viewSet driver.DescriptorSet

	// transient is reset every time the slot is reused.
	transient *DescriptorAllocator

	state FrameState
}

// FrameScheduler drives the acquire, record, submit and present cycle over
// FramesInFlight slots. A slot is only recorded into once the fence of its
// previous submission has signaled.
type FrameScheduler struct {
	ctx       *Context
	swapchain driver.Swapchain

	viewLayout     driver.DescriptorSetLayout
	materialLayout driver.DescriptorSetLayout
	pipelineLayout driver.PipelineLayout
	pipeline       driver.Pipeline

	slots      [FramesInFlight]*frameSlot
	current    int
	imageIndex uint32
	// suboptimal is set when the image of the current frame was acquired
	// from a suboptimal swapchain.
	suboptimal bool
	clear      driver.ClearValues

	arena Arena
}

// NewFrameScheduler creates the pipeline and the per slot resources.
func NewFrameScheduler(ctx *Context, swapchain driver.Swapchain, shaders Shaders) (*FrameScheduler, error) {
	device := ctx.Device()
	if device.Limits().MaxPushConstantsSize < transformSize {
		return nil, errors.Newf("device push constant limit %d is below %d", device.Limits().MaxPushConstantsSize, transformSize)
	}

	f := &FrameScheduler{
		ctx:       ctx,
		swapchain: swapchain,
		clear: driver.ClearValues{
			Color: ctx.opts.clearColor,
			Depth: 1,
		},
	}
	if err := f.createPipeline(shaders); err != nil {
		f.arena.Destroy()
		return nil, err
	}
	for i := range f.slots {
		slot, err := f.createSlot()
		if err != nil {
			f.arena.Destroy()
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		f.slots[i] = slot
	}

	extent := swapchain.Extent()
	Logger().Info("vrend: frame scheduler created",
		slog.Int("frames_in_flight", FramesInFlight),
		slog.Int("swapchain_images", swapchain.ImageCount()),
		slog.Uint64("width", uint64(extent.Width)),
		slog.Uint64("height", uint64(extent.Height)))
	return f, nil
}

func (f *FrameScheduler) createPipeline(shaders Shaders) error {
	device := f.ctx.Device()
	var err error

	if f.viewLayout, err = f.ctx.LayoutCache().CreateDescriptorLayout(ViewLayoutBindings()); err != nil {
		return err
	}
	if f.materialLayout, err = f.ctx.LayoutCache().CreateDescriptorLayout(MaterialLayoutBindings()); err != nil {
		return err
	}

	f.pipelineLayout, err = device.CreatePipelineLayout(
		[]driver.DescriptorSetLayout{f.viewLayout, f.materialLayout},
		[]vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Offset:     0,
			Size:       transformSize,
		}})
	if err != nil {
		return creationFailed(err, "create pipeline layout")
	}
	f.arena.Add(f.pipelineLayout)

	f.pipeline, err = device.CreateGraphicsPipeline(driver.GraphicsPipelineDesc{
		VertexShader:   shaders.Vertex,
		FragmentShader: shaders.Fragment,
		Vertex:         VertexBindings(),
		Layout:         f.pipelineLayout,
		RenderPass:     f.swapchain.RenderPass(),
		Extent:         f.swapchain.Extent(),
		CullMode:       vk.CullModeBackBit,
	})
	if err != nil {
		return creationFailed(err, "create graphics pipeline")
	}
	f.arena.Add(f.pipeline)
	return nil
}

func (f *FrameScheduler) createSlot() (*frameSlot, error) {
	device := f.ctx.Device()
	s := &frameSlot{state: FrameIdle}
	var err error

	if s.cmd, err = f.ctx.commandPool.Allocate(); err != nil {
		return nil, creationFailed(err, "allocate frame command buffer")
	}
	cmd := s.cmd
	f.arena.Add(destroyerFunc(func() { f.ctx.commandPool.Free(cmd) }))

	if s.imageAcquired, err = device.CreateSemaphore(); err != nil {
		return nil, creationFailed(err, "create image acquired semaphore")
	}
	f.arena.Add(s.imageAcquired)
	if s.renderFinished, err = device.CreateSemaphore(); err != nil {
		return nil, creationFailed(err, "create render finished semaphore")
	}
	f.arena.Add(s.renderFinished)

	// Signaled, so the first wait of the slot returns at once.
	if s.inFlight, err = device.CreateFence(true); err != nil {
		return nil, creationFailed(err, "create in flight fence")
	}
	f.arena.Add(s.inFlight)

	initial := ViewUniform{}
	initial.View.Identity()
	initial.Proj.Identity()
	if s.view, err = NewUniformBuffer(f.ctx, &initial); err != nil {
		return nil, err
	}
	f.arena.Add(s.view)

	s.viewSet, _, err = f.ctx.NewDescriptorBuilder().
		BindBuffer(0, s.view.Descriptor(), vk.DescriptorTypeUniformBuffer, vk.ShaderStageFlags(vk.ShaderStageVertexBit)).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "build view set")
	}

	s.transient = NewDescriptorAllocator(device, WithBatchSize(f.ctx.opts.batchSize))
	f.arena.Add(s.transient)
	return s, nil
}

func (f *FrameScheduler) slot() *frameSlot {
	return f.slots[f.current]
}

func (f *FrameScheduler) expect(op string, states ...FrameState) error {
	s := f.slot().state
	for _, want := range states {
		if s == want {
			return nil
		}
	}
	return errors.Wrapf(ErrFrameState, "%s in state %s", op, s)
}

// NewFrame waits until the current slot's previous submission has retired,
// recycles its transient descriptors and acquires the next swapchain image.
// When the surface is out of date it returns ErrSurfaceStale and leaves the
// slot idle; the caller may try again with the next frame.
func (f *FrameScheduler) NewFrame() error {
	if err := f.expect("new frame", FrameIdle, FramePresented); err != nil {
		return err
	}
	s := f.slot()

	if err := s.inFlight.Wait(vk.MaxUint64); err != nil {
		return errors.Wrap(err, "wait for frame fence")
	}
	if err := s.transient.ResetPools(); err != nil {
		return errors.Wrap(err, "reset frame descriptors")
	}

	index, err := f.swapchain.AcquireNextImage(vk.MaxUint64, s.imageAcquired)
	f.suboptimal = false
	switch {
	case driver.IsResult(err, vk.ErrorOutOfDate):
		s.state = FrameIdle
		Logger().Warn("vrend: swapchain out of date on acquire, frame dropped")
		return errors.Wrap(ErrSurfaceStale, "acquire next image")
	case driver.IsResult(err, vk.Suboptimal):
		f.suboptimal = true
	case err != nil:
		return errors.Wrap(err, "acquire next image")
	}

	if err := s.inFlight.Reset(); err != nil {
		return errors.Wrap(err, "reset frame fence")
	}
	if err := s.cmd.Reset(); err != nil {
		return errors.Wrap(err, "reset frame command buffer")
	}
	f.imageIndex = index
	s.state = FrameAcquired
	return nil
}

// Prepare begins recording: the render pass on the acquired image with its
// clear values, the pipeline and the view set.
func (f *FrameScheduler) Prepare() error {
	if err := f.expect("prepare", FrameAcquired); err != nil {
		return err
	}
	s := f.slot()

	if err := s.cmd.Begin(false); err != nil {
		return errors.Wrap(err, "begin frame command buffer")
	}
	s.cmd.BeginRenderPass(f.swapchain.RenderPass(), f.swapchain.Framebuffer(f.imageIndex), f.swapchain.Extent(), f.clear)
	s.cmd.BindPipeline(f.pipeline)
	s.cmd.BindDescriptorSets(f.pipelineLayout, 0, s.viewSet)
	s.state = FrameRecording
	return nil
}

func matrixBytes(m *lin.Mat4x4) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(m)), transformSize)
}

// AddTransformCommand sets the model matrix of the following draws.
func (f *FrameScheduler) AddTransformCommand(m *lin.Mat4x4) error {
	if err := f.expect("transform command", FrameRecording); err != nil {
		return err
	}
	f.slot().cmd.PushConstants(f.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, matrixBytes(m))
	return nil
}

// AddModelCommand draws every mesh of model with transform m.
func (f *FrameScheduler) AddModelCommand(model *Model, m *lin.Mat4x4) error {
	if err := f.AddTransformCommand(m); err != nil {
		return err
	}
	cmd := f.slot().cmd
	vb := model.VertexBuffer()
	buffers := []driver.Buffer{vb, vb, vb}

	for _, node := range model.Nodes() {
		for _, mesh := range model.Meshes(node) {
			cmd.BindVertexBuffers(0, buffers, mesh.VertexOffsets())
			cmd.BindIndexBuffer(vb, mesh.IndexStart, vk.IndexTypeUint32)
			cmd.BindDescriptorSets(f.pipelineLayout, 1, model.Material(mesh.MaterialIndex).Set(f.current))
			cmd.DrawIndexed(mesh.IndexCount, 1, 0, 0, 0)
		}
	}
	return nil
}

// Execute ends recording, submits the frame and presents it, then moves to
// the next slot. A stale surface is reported as ErrSurfaceStale once the
// frame has been handed to the presentation engine.
func (f *FrameScheduler) Execute() error {
	if err := f.expect("execute", FrameRecording); err != nil {
		return err
	}
	s := f.slot()

	s.cmd.EndRenderPass()
	if err := s.cmd.End(); err != nil {
		return errors.Wrap(err, "end frame command buffer")
	}

	queue := f.ctx.Device().GraphicsQueue()
	err := queue.Submit(
		[]driver.CommandBuffer{s.cmd},
		[]driver.SemaphoreWait{{
			Semaphore: s.imageAcquired,
			Stages:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}},
		[]driver.Semaphore{s.renderFinished},
		s.inFlight)
	if err != nil {
		return errors.Wrap(err, "submit frame")
	}
	s.state = FrameSubmitted

	err = f.swapchain.Present(queue, f.imageIndex, []driver.Semaphore{s.renderFinished})
	s.state = FramePresented
	f.current = (f.current + 1) % FramesInFlight

	switch {
	case driver.IsResult(err, vk.ErrorOutOfDate, vk.Suboptimal):
		Logger().Warn("vrend: swapchain stale on present", slog.Any("err", err))
		return errors.Wrap(ErrSurfaceStale, "present")
	case err != nil:
		return errors.Wrap(err, "present")
	case f.suboptimal:
		Logger().Warn("vrend: swapchain suboptimal on acquire")
		return errors.Wrap(ErrSurfaceStale, "acquire next image")
	}
	return nil
}

// WaitForIdle blocks until the device has finished all submitted work.
func (f *FrameScheduler) WaitForIdle() error {
	return f.ctx.Device().WaitIdle()
}

// CurrentViewUniform returns the mapped view block of the current slot.
// Writes are read by the frame being prepared.
func (f *FrameScheduler) CurrentViewUniform() *ViewUniform {
	return f.slot().view.Data()
}

// FrameAllocator returns the descriptor allocator of the current slot. Its
// sets are valid until the slot is reused.
func (f *FrameScheduler) FrameAllocator() *DescriptorAllocator {
	return f.slot().transient
}

// CurrentSlot returns the index of the slot the next frame operation uses.
func (f *FrameScheduler) CurrentSlot() int { return f.current }

// State returns the state of the current slot.
func (f *FrameScheduler) State() FrameState { return f.slot().state }

// ImageIndex returns the swapchain image of the frame being recorded.
func (f *FrameScheduler) ImageIndex() uint32 { return f.imageIndex }

// MaterialLayout returns the layout of set 1.
func (f *FrameScheduler) MaterialLayout() driver.DescriptorSetLayout { return f.materialLayout }

// Destroy waits for the device to go idle and releases the pipeline and
// every slot.
func (f *FrameScheduler) Destroy() {
	if err := f.WaitForIdle(); err != nil {
		Logger().Warn("vrend: wait idle before destroying frames", slog.Any("err", err))
	}
	f.arena.Destroy()
}
