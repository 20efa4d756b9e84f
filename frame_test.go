package vrend

import (
	"testing"
	"unsafe"

	"github.com/Neathan/vrend/driver"
	"github.com/Neathan/vrend/driver/drivertest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
)

type frameFixture struct {
	dev       *drivertest.Device
	ctx       *Context
	swapchain *drivertest.Swapchain
	frames    *FrameScheduler
}

func newFrameFixture(t *testing.T, opts ...ContextOption) *frameFixture {
	t.Helper()
	ctx, dev := newTestContext(t, opts...)
	sc := drivertest.NewSwapchain(dev, 800, 600, 3)
	frames, err := NewFrameScheduler(ctx, sc, Shaders{Vertex: drivertest.ShaderStub(), Fragment: drivertest.ShaderStub()})
	require.NoError(t, err)
	return &frameFixture{dev: dev, ctx: ctx, swapchain: sc, frames: frames}
}

func (f *frameFixture) destroy() {
	f.frames.Destroy()
	f.swapchain.Destroy()
	f.ctx.Destroy()
}

func (f *frameFixture) drawFrame(t *testing.T) {
	t.Helper()
	require.NoError(t, f.frames.NewFrame())
	require.NoError(t, f.frames.Prepare())
	var m lin.Mat4x4
	m.Identity()
	require.NoError(t, f.frames.AddTransformCommand(&m))
	require.NoError(t, f.frames.Execute())
}

func countExecuted(dev *drivertest.Device, name string) int {
	n := 0
	for _, c := range dev.ExecutedNames() {
		if c == name {
			n++
		}
	}
	return n
}

func TestFrameSlotsWaitForTheirFence(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	const frames = 4 * FramesInFlight
	for k := 0; k < frames; k++ {
		slot := f.frames.slots[k%FramesInFlight]
		assert.Equal(t, k%FramesInFlight, f.frames.CurrentSlot())
		if k >= FramesInFlight {
			assert.False(t, slot.inFlight.(*drivertest.Fence).Signaled(), "frame %d: fence of slot reused too early", k)
			assert.True(t, slot.cmd.(*drivertest.CommandBuffer).Pending())
		}

		require.NoError(t, f.frames.NewFrame())
		assert.Equal(t, FrameAcquired, f.frames.State())

		// Work retires in order: frame k-N and everything before it is done.
		want := 0
		if k >= FramesInFlight {
			want = k - FramesInFlight + 1
		}
		assert.Equal(t, want, countExecuted(f.dev, "BeginRenderPass"), "frame %d", k)
		assert.False(t, slot.inFlight.(*drivertest.Fence).Signaled(), "fence reset for the new submission")

		require.NoError(t, f.frames.Prepare())
		assert.Equal(t, FrameRecording, f.frames.State())
		var m lin.Mat4x4
		m.Identity()
		require.NoError(t, f.frames.AddTransformCommand(&m))
		require.NoError(t, f.frames.Execute())
	}

	for i, s := range f.frames.slots {
		assert.Equal(t, frames/FramesInFlight, s.cmd.(*drivertest.CommandBuffer).Resets(), "slot %d", i)
	}
	assert.Len(t, f.swapchain.Presented(), frames)
	assert.Equal(t, frames, f.dev.Stats().Submissions)

	require.NoError(t, f.frames.WaitForIdle())
	assert.Equal(t, frames, countExecuted(f.dev, "BeginRenderPass"))
	requireNoViolations(t, f.dev)
}

func TestFrameRecording(t *testing.T) {
	clear := [4]float32{0.1, 0.2, 0.3, 1}
	f := newFrameFixture(t, WithClearColor(clear))
	defer f.destroy()

	require.NoError(t, f.frames.NewFrame())
	require.NoError(t, f.frames.Prepare())

	var m lin.Mat4x4
	m.Identity()
	m.Translate(1, 2, 3)
	require.NoError(t, f.frames.AddTransformCommand(&m))
	require.NoError(t, f.frames.Execute())
	require.NoError(t, f.frames.WaitForIdle())

	assert.Equal(t, []string{
		"BeginRenderPass", "BindPipeline", "BindDescriptorSets", "PushConstants", "EndRenderPass",
	}, f.dev.ExecutedNames())

	executed := f.dev.Executed()
	assert.Equal(t, driver.ClearValues{Color: clear, Depth: 1}, executed[0].Value)
	assert.Same(t, f.frames.pipeline, executed[1].Value)

	bound := executed[2].Value.(drivertest.BoundSets)
	assert.Equal(t, uint32(0), bound.First)
	assert.Equal(t, []driver.DescriptorSet{f.frames.slots[0].viewSet}, bound.Sets)

	pushed := executed[3].Value.([]byte)
	assert.Equal(t, unsafe.Slice((*byte)(unsafe.Pointer(&m)), 64), pushed)

	layout := f.frames.pipelineLayout.(*drivertest.PipelineLayout)
	require.Len(t, layout.Push, 1)
	assert.Equal(t, uint32(64), layout.Push[0].Size)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit), layout.Push[0].StageFlags)
	assert.Equal(t, []driver.DescriptorSetLayout{f.frames.viewLayout, f.frames.MaterialLayout()}, layout.Sets)

	pipeline := f.frames.pipeline.(*drivertest.Pipeline)
	assert.Equal(t, VertexBindings(), pipeline.Desc.Vertex)
	assert.Equal(t, f.swapchain.Extent(), pipeline.Desc.Extent)
	requireNoViolations(t, f.dev)
}

func TestFrameStateOrder(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	var m lin.Mat4x4
	assert.ErrorIs(t, f.frames.Prepare(), ErrFrameState)
	assert.ErrorIs(t, f.frames.Execute(), ErrFrameState)
	assert.ErrorIs(t, f.frames.AddTransformCommand(&m), ErrFrameState)

	require.NoError(t, f.frames.NewFrame())
	assert.ErrorIs(t, f.frames.NewFrame(), ErrFrameState)
	assert.ErrorIs(t, f.frames.Execute(), ErrFrameState)
	assert.ErrorIs(t, f.frames.AddTransformCommand(&m), ErrFrameState)

	require.NoError(t, f.frames.Prepare())
	assert.ErrorIs(t, f.frames.Prepare(), ErrFrameState)
	assert.ErrorIs(t, f.frames.NewFrame(), ErrFrameState)
	require.NoError(t, f.frames.Execute())

	assert.Equal(t, FrameIdle, f.frames.State(), "next slot is fresh")
	assert.Equal(t, FramePresented, f.frames.slots[0].state)
	requireNoViolations(t, f.dev)
}

func TestFrameStaleOnAcquire(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	f.drawFrame(t)
	f.drawFrame(t)

	f.dev.Fail("AcquireNextImage", vk.ErrorOutOfDate)
	slot := f.frames.CurrentSlot()
	err := f.frames.NewFrame()
	require.True(t, errors.Is(err, ErrSurfaceStale))
	assert.Equal(t, FrameIdle, f.frames.State())
	assert.Equal(t, slot, f.frames.CurrentSlot())
	assert.True(t, f.frames.slots[slot].inFlight.(*drivertest.Fence).Signaled(), "fence left signaled")

	// The dropped frame does not wedge the slot.
	for i := 0; i < 3; i++ {
		f.drawFrame(t)
	}
	requireNoViolations(t, f.dev)
}

func TestFrameSuboptimalAcquire(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	f.dev.Fail("AcquireNextImage", vk.Suboptimal)
	require.NoError(t, f.frames.NewFrame())
	require.NoError(t, f.frames.Prepare())
	err := f.frames.Execute()
	require.ErrorIs(t, err, ErrSurfaceStale)
	assert.Equal(t, 1, f.frames.CurrentSlot())
	assert.Len(t, f.swapchain.Presented(), 1)

	f.drawFrame(t)
	f.drawFrame(t)
	requireNoViolations(t, f.dev)
}

func TestFrameStaleOnPresent(t *testing.T) {
	for _, res := range []vk.Result{vk.ErrorOutOfDate, vk.Suboptimal} {
		t.Run(driver.ResultString(res), func(t *testing.T) {
			f := newFrameFixture(t)
			defer f.destroy()

			f.dev.Fail("QueuePresent", res)
			require.NoError(t, f.frames.NewFrame())
			require.NoError(t, f.frames.Prepare())
			require.ErrorIs(t, f.frames.Execute(), ErrSurfaceStale)
			assert.Equal(t, 1, f.frames.CurrentSlot())

			for i := 0; i < 2*FramesInFlight; i++ {
				f.drawFrame(t)
			}
			requireNoViolations(t, f.dev)
		})
	}
}

func TestFrameFatalAcquire(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	f.dev.Fail("AcquireNextImage", vk.ErrorDeviceLost)
	err := f.frames.NewFrame()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSurfaceStale))
	assert.True(t, driver.IsResult(err, vk.ErrorDeviceLost))
}

func TestFrameViewUniform(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	for slot := 0; slot < FramesInFlight; slot++ {
		view := f.frames.CurrentViewUniform()
		view.View.LookAt(&lin.Vec3{2, 2, 2}, &lin.Vec3{0, 0, 0}, &lin.Vec3{0, 0, 1})
		view.Proj.Perspective(lin.DegreesToRadians(45), 4.0/3.0, 0.1, 10)

		mem := f.frames.slots[slot].view.buffer.Buffer.(*drivertest.Buffer).Bytes()
		assert.Equal(t, unsafe.Slice((*byte)(unsafe.Pointer(view)), unsafe.Sizeof(*view)), mem)

		set := f.frames.slots[slot].viewSet.(*drivertest.DescriptorSet)
		w, ok := set.Write(0)
		require.True(t, ok)
		assert.Equal(t, f.frames.slots[slot].view.Descriptor(), *w.Buffer)

		f.drawFrame(t)
	}
	assert.NotSame(t, f.frames.slots[0].view.Data(), f.frames.slots[1].view.Data())
}

func TestFrameModelCommand(t *testing.T) {
	f := newFrameFixture(t)
	defer f.destroy()

	assets, err := NewAssets(f.ctx)
	require.NoError(t, err)
	defer assets.Destroy()
	model, err := assets.LoadModel(quadSource())
	require.NoError(t, err)
	defer model.Destroy()
	f.dev.ClearExecuted()

	var m lin.Mat4x4
	m.Identity()
	for i := 0; i < FramesInFlight; i++ {
		require.NoError(t, f.frames.NewFrame())
		require.NoError(t, f.frames.Prepare())
		require.NoError(t, f.frames.AddModelCommand(model, &m))
		require.NoError(t, f.frames.Execute())
	}
	require.NoError(t, f.frames.WaitForIdle())

	var materialSets []driver.DescriptorSet
	var draws []drivertest.Draw
	for _, c := range f.dev.Executed() {
		switch v := c.Value.(type) {
		case drivertest.BoundSets:
			if v.First == 1 {
				materialSets = append(materialSets, v.Sets...)
			}
		case drivertest.Draw:
			draws = append(draws, v)
		}
	}
	assert.Equal(t, []driver.DescriptorSet{model.Material(0).Set(0), model.Material(0).Set(1)}, materialSets)
	assert.Equal(t, []drivertest.Draw{{IndexCount: 6}, {IndexCount: 6}}, draws)
	assert.Equal(t, 2, countExecuted(f.dev, "BindVertexBuffers"))
	assert.Equal(t, 2, countExecuted(f.dev, "BindIndexBuffer"))
	requireNoViolations(t, f.dev)
}

func TestFrameAllocatorRecycledPerSlot(t *testing.T) {
	f := newFrameFixture(t, WithDescriptorBatchSize(8))
	defer f.destroy()

	layout, err := f.ctx.LayoutCache().CreateDescriptorLayout(ViewLayoutBindings())
	require.NoError(t, err)

	var first []driver.DescriptorSet
	for i := 0; i < 3*FramesInFlight; i++ {
		require.NoError(t, f.frames.NewFrame())
		set, err := f.frames.FrameAllocator().Allocate(layout)
		require.NoError(t, err)
		if i < FramesInFlight {
			first = append(first, set)
		} else {
			assert.Same(t, poolOf(first[i%FramesInFlight]), poolOf(set), "frame %d", i)
		}
		require.NoError(t, f.frames.Prepare())
		require.NoError(t, f.frames.Execute())
	}
	for _, s := range first {
		assert.False(t, s.(*drivertest.DescriptorSet).Valid())
	}
	requireNoViolations(t, f.dev)
}

func TestFrameSchedulerCreationFailure(t *testing.T) {
	ctx, dev := newTestContext(t)
	defer ctx.Destroy()
	sc := drivertest.NewSwapchain(dev, 640, 480, 2)
	defer sc.Destroy()

	_, err := NewFrameScheduler(ctx, sc, Shaders{Vertex: []byte("not spir-v"), Fragment: drivertest.ShaderStub()})
	require.ErrorIs(t, err, ErrResourceCreation)

	dev.Fail("CreateFence", vk.ErrorOutOfHostMemory)
	_, err = NewFrameScheduler(ctx, sc, Shaders{Vertex: drivertest.ShaderStub(), Fragment: drivertest.ShaderStub()})
	require.ErrorIs(t, err, ErrResourceCreation)

	for _, kind := range []string{"pipeline", "pipeline layout", "fence", "semaphore", "command buffer"} {
		assert.False(t, leaked(dev, kind), kind)
	}
}

func TestFrameLifecycleReleasesEverything(t *testing.T) {
	f := newFrameFixture(t)

	assets, err := NewAssets(f.ctx)
	require.NoError(t, err)
	model, err := assets.LoadModel(quadSource())
	require.NoError(t, err)

	var m lin.Mat4x4
	m.Identity()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.frames.NewFrame())
		*f.frames.CurrentViewUniform() = ViewUniform{View: m, Proj: m}
		require.NoError(t, f.frames.Prepare())
		require.NoError(t, f.frames.AddModelCommand(model, &m))
		require.NoError(t, f.frames.Execute())
	}

	f.frames.Destroy()
	model.Destroy()
	assets.Destroy()
	f.swapchain.Destroy()
	f.ctx.Destroy()

	assert.Empty(t, f.dev.Leaks())
	requireNoViolations(t, f.dev)
}

func TestFrameStateString(t *testing.T) {
	assert.Equal(t, "idle", FrameIdle.String())
	assert.Equal(t, "presented", FramePresented.String())
	assert.Equal(t, "unknown", FrameState(42).String())
}
