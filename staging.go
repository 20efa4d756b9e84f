package vrend

import (
	"log/slog"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	units "github.com/docker/go-units"
	vk "github.com/vulkan-go/vulkan"
)

// StagingUploader copies host data into device local buffers and images
// through a temporary host visible buffer. Every upload blocks until the
// queue is idle, so the destination is ready for use on return and the
// staging memory is never freed while a copy reads it.
type StagingUploader struct {
	ctx *Context
}

// NewStagingUploader returns an uploader recording into single commands of ctx.
func NewStagingUploader(ctx *Context) *StagingUploader {
	return &StagingUploader{ctx: ctx}
}

// pendingUpload is a staging allocation filled with the payload of one upload.
type pendingUpload struct {
	staging *AllocatedBuffer
	size    uint64
}

func (u *StagingUploader) stage(data []byte) (*pendingUpload, error) {
	size := uint64(len(data))
	staging, err := u.ctx.CreateBuffer(size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		hostVisibleCoherent)
	if err != nil {
		return nil, errors.Wrap(err, "create staging buffer")
	}
	if err := staging.Write(data); err != nil {
		staging.Destroy()
		return nil, errors.Wrap(err, "fill staging buffer")
	}
	return &pendingUpload{staging: staging, size: size}, nil
}

// submit runs record in a single command and releases the staging buffer
// once the queue is idle.
func (u *StagingUploader) submit(p *pendingUpload, record func(cb driver.CommandBuffer) error) error {
	defer p.staging.Destroy()

	cb, err := u.ctx.PrepareSingleCommand()
	if err != nil {
		return err
	}
	if err := record(cb); err != nil {
		u.ctx.discardSingleCommand(cb)
		return err
	}
	return u.ctx.ExecuteSingleCommand(cb)
}

// UploadBuffer copies data to the start of dst. dst needs the transfer
// destination usage.
func (u *StagingUploader) UploadBuffer(dst driver.Buffer, data []byte) error {
	if len(data) == 0 {
		return errors.New("upload of an empty payload")
	}
	if uint64(len(data)) > dst.Size() {
		return errors.Newf("payload of %d bytes does not fit a buffer of %d bytes", len(data), dst.Size())
	}
	p, err := u.stage(data)
	if err != nil {
		return err
	}
	err = u.submit(p, func(cb driver.CommandBuffer) error {
		cb.CopyBuffer(p.staging.Buffer, dst, p.size)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "upload buffer")
	}
	Logger().Debug("vrend: buffer uploaded", slog.String("size", units.BytesSize(float64(p.size))))
	return nil
}

// UploadImage fills the whole of dst with tightly packed texels and leaves it
// in the shader read only layout. dst must be in the undefined layout and
// have the transfer destination and sampled usages.
func (u *StagingUploader) UploadImage(dst driver.Image, data []byte) error {
	desc := dst.Desc()
	if len(data) == 0 {
		return errors.New("upload of an empty payload")
	}
	if driver.TexelSize(desc.Format) == 0 {
		return errors.Newf("upload to image of unsupported format %d", desc.Format)
	}
	if want := desc.ByteSize(); uint64(len(data)) != want {
		return errors.Newf("payload of %d bytes does not match a %dx%d image of %d bytes",
			len(data), desc.Width, desc.Height, want)
	}
	p, err := u.stage(data)
	if err != nil {
		return err
	}
	err = u.submit(p, func(cb driver.CommandBuffer) error {
		if err := u.TransitionImageLayout(cb, dst, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		cb.CopyBufferToImage(p.staging.Buffer, dst, vk.ImageLayoutTransferDstOptimal, driver.BufferImageCopy{
			Width:  desc.Width,
			Height: desc.Height,
		})
		return u.TransitionImageLayout(cb, dst, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		return errors.Wrap(err, "upload image")
	}
	Logger().Debug("vrend: image uploaded",
		slog.Uint64("width", uint64(desc.Width)),
		slog.Uint64("height", uint64(desc.Height)),
		slog.String("size", units.BytesSize(float64(p.size))))
	return nil
}

// TransitionImageLayout records the barrier moving image between layouts.
// Only undefined to transfer destination and transfer destination to shader
// read only are supported.
func (u *StagingUploader) TransitionImageLayout(cb driver.CommandBuffer, image driver.Image, oldLayout, newLayout vk.ImageLayout) error {
	barrier := driver.ImageBarrier{
		Image:     image,
		OldLayout: oldLayout,
		NewLayout: newLayout,
	}
	var src, dst vk.PipelineStageFlags

	switch {
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal:
		barrier.SrcAccess = 0
		barrier.DstAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		src = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dst = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case oldLayout == vk.ImageLayoutTransferDstOptimal && newLayout == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccess = vk.AccessFlags(vk.AccessShaderReadBit)
		src = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dst = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		return errors.Wrapf(ErrUnsupportedLayoutTransition, "%d to %d", oldLayout, newLayout)
	}

	cb.PipelineBarrier(src, dst, barrier)
	return nil
}
