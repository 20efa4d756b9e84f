/*
Package vrend is the resource and frame submission core of a forward Vulkan
renderer. It does not talk to Vulkan directly: every device call goes through
the interfaces of the driver package, which vkdriver implements on top of
vulkan-go and drivertest implements in host memory.

Vulkan leaves lifetimes and ordering to the application. Command buffers must
not be reused while still executing, staging memory must outlive the copies
that read it and descriptor pools must grow without invalidating the sets
already handed out. This package wraps those rules in a few objects:

	Context             owns the device, a command pool, the persistent descriptor
	                    allocator, the layout cache and the staging uploader
	StagingUploader     copies buffers and images into device local memory and
	                    waits for the queue before freeing the staging buffer
	DescriptorLayoutCache
	                    one layout per distinct binding list, whatever its order
	DescriptorAllocator hands out sets from a chain of pools that are reset, never
	                    destroyed, between uses
	FrameScheduler      FramesInFlight slots of command buffer, semaphores, fence,
	                    view uniform and transient descriptors
	UniformBuffer       a persistently mapped, host coherent block of one type
	Assets              default textures, image decoding and model loading

A frame goes through the scheduler like this:

	if err := frames.NewFrame(); errors.Is(err, vrend.ErrSurfaceStale) {
		continue // frame dropped
	} else if err != nil {
		return err
	}
	*frames.CurrentViewUniform() = view
	frames.Prepare()
	frames.AddModelCommand(model, &transform)
	if err := frames.Execute(); err != nil && !errors.Is(err, vrend.ErrSurfaceStale) {
		return err
	}

Uploads are synchronous. They must not be issued while a frame is being
recorded.

Everything runs on one goroutine; none of the types are safe for concurrent
use. The logger set with SetLogger is the only shared state.
*/
package vrend
