package vrend

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// FindMemoryType returns the index of the first memory type allowed by
// typeBits whose flags contain every flag in required.
//
// See the documentation of VkPhysicalDeviceMemoryProperties for how the search works.
func FindMemoryType(types []vk.MemoryPropertyFlags, typeBits uint32, required vk.MemoryPropertyFlags) (uint32, error) {
	for i := 0; i < len(types) && i < 32; i++ {
		if typeBits&(1<<uint(i)) != 0 && types[i]&required == required {
			return uint32(i), nil
		}
	}
	return 0, errors.Wrapf(ErrNoMemoryType, "type bits %#x, required flags %#x", typeBits, uint32(required))
}

// FindMemoryType searches the context device's memory types.
func (c *Context) FindMemoryType(typeBits uint32, required vk.MemoryPropertyFlags) (uint32, error) {
	return FindMemoryType(c.device.MemoryTypes(), typeBits, required)
}

var (
	hostVisibleCoherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	deviceLocal         = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
)
