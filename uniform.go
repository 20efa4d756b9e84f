package vrend

import (
	"unsafe"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
)

// ViewUniform is the per frame camera block bound at set 0, binding 0.
type ViewUniform struct {
	View lin.Mat4x4
	Proj lin.Mat4x4
}

// MaterialFactors is the std140 material block bound at set 1, binding 0.
type MaterialFactors struct {
	BaseColor   [4]float32
	Emissive    [4]float32
	Metallic    float32
	Roughness   float32
	DoubleSided uint32
	_           float32
}

// DefaultMaterialFactors returns an opaque white, fully rough dielectric.
func DefaultMaterialFactors() MaterialFactors {
	return MaterialFactors{
		BaseColor: [4]float32{1, 1, 1, 1},
		Emissive:  [4]float32{0, 0, 0, 1},
		Metallic:  0,
		Roughness: 1,
	}
}

// UniformBuffer is a host coherent uniform buffer holding one T, mapped for
// its whole lifetime. Writes through Data are visible to the device without
// flushing. T must not contain Go pointers.
type UniformBuffer[T any] struct {
	buffer *AllocatedBuffer
	data   *T
	size   uint64
}

// NewUniformBuffer creates the buffer and copies initial into it when non nil.
func NewUniformBuffer[T any](ctx *Context, initial *T) (*UniformBuffer[T], error) {
	var zero T
	size := uint64(unsafe.Sizeof(zero))
	if size == 0 {
		return nil, errors.New("uniform buffer of a zero sized type")
	}

	buffer, err := ctx.CreateBuffer(size, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), hostVisibleCoherent)
	if err != nil {
		return nil, errors.Wrap(err, "create uniform buffer")
	}
	mapped, err := buffer.Memory.Map(0, size)
	if err != nil {
		buffer.Destroy()
		return nil, errors.Wrap(err, "map uniform buffer")
	}

	u := &UniformBuffer[T]{
		buffer: buffer,
		data:   (*T)(unsafe.Pointer(&mapped[0])),
		size:   size,
	}
	if initial != nil {
		*u.data = *initial
	} else {
		*u.data = zero
	}
	return u, nil
}

// Data points into the mapped memory.
func (u *UniformBuffer[T]) Data() *T { return u.data }

// Size returns the buffer size in bytes.
func (u *UniformBuffer[T]) Size() uint64 { return u.size }

// Descriptor returns the whole buffer as a descriptor write source.
func (u *UniformBuffer[T]) Descriptor() driver.BufferInfo {
	return driver.BufferInfo{Buffer: u.buffer.Buffer, Offset: 0, Range: u.size}
}

func (u *UniformBuffer[T]) Destroy() {
	if u.buffer == nil {
		return
	}
	u.data = nil
	u.buffer.Memory.Unmap()
	u.buffer.Destroy()
	u.buffer = nil
}
