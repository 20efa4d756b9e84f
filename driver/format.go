package driver

import (
	vk "github.com/vulkan-go/vulkan"
)

// TexelSize returns the bytes per texel of the uncompressed formats the
// renderer uploads, or 0 for any other format.
func TexelSize(format vk.Format) int {
	switch format {
	case vk.FormatR8Unorm, vk.FormatR8Srgb:
		return 1
	case vk.FormatR8g8Unorm, vk.FormatR8g8Srgb, vk.FormatR16Unorm, vk.FormatR16Sfloat:
		return 2
	case vk.FormatR8g8b8Unorm, vk.FormatR8g8b8Srgb:
		return 3
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb,
		vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb,
		vk.FormatR16g16Sfloat, vk.FormatR32Sfloat, vk.FormatD32Sfloat:
		return 4
	case vk.FormatR16g16b16a16Sfloat:
		return 8
	case vk.FormatR32g32b32a32Sfloat:
		return 16
	default:
		return 0
	}
}

// ByteSize returns the tightly packed byte size of the image. It is 0 when
// TexelSize does not know the format.
func (d ImageDesc) ByteSize() uint64 {
	return uint64(d.Width) * uint64(d.Height) * uint64(TexelSize(d.Format))
}
