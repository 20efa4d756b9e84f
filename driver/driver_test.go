package driver

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestCheck(t *testing.T) {
	require.NoError(t, Check("vkCreateBuffer", vk.Success))

	err := Check("vkCreateBuffer", vk.ErrorOutOfDeviceMemory)
	require.Error(t, err)
	assert.Equal(t, "vkCreateBuffer: VK_ERROR_OUT_OF_DEVICE_MEMORY", err.Error())
}

func TestIsResultThroughWrapping(t *testing.T) {
	err := errors.Wrap(Check("vkQueuePresentKHR", vk.ErrorOutOfDate), "present")
	err = errors.Wrapf(err, "frame %d", 3)

	assert.True(t, IsResult(err, vk.ErrorOutOfDate))
	assert.True(t, IsResult(err, vk.Suboptimal, vk.ErrorOutOfDate))
	assert.False(t, IsResult(err, vk.Suboptimal))
	assert.False(t, IsResult(err))
	assert.False(t, IsResult(errors.New("plain"), vk.ErrorOutOfDate))
	assert.False(t, IsResult(nil, vk.ErrorOutOfDate))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "VK_SUBOPTIMAL_KHR", ResultString(vk.Suboptimal))
	assert.Equal(t, "VK_ERROR_FRAGMENTED_POOL", ResultString(vk.ErrorFragmentedPool))
	assert.Equal(t, "VkResult(-9999)", ResultString(vk.Result(-9999)))
}

func TestImageByteSize(t *testing.T) {
	for _, tc := range []struct {
		format vk.Format
		want   uint64
	}{
		{vk.FormatR8Unorm, 12},
		{vk.FormatR8g8Unorm, 24},
		{vk.FormatR8g8b8a8Srgb, 48},
		{vk.FormatB8g8r8a8Unorm, 48},
		{vk.FormatR16g16b16a16Sfloat, 96},
		{vk.FormatR32g32b32a32Sfloat, 192},
		{vk.FormatR8g8b8Unorm, 36},
		{vk.FormatR16Sfloat, 24},
		{vk.FormatBc1RgbUnormBlock, 0},
		{vk.FormatUndefined, 0},
	} {
		assert.Equal(t, tc.want, ImageDesc{Width: 4, Height: 3, Format: tc.format}.ByteSize(), "format %d", tc.format)
	}

	// Dimensions multiply in 64 bits.
	big := ImageDesc{Width: 1 << 16, Height: 1 << 16, Format: vk.FormatR32g32b32a32Sfloat}
	assert.Equal(t, uint64(1)<<36, big.ByteSize())
}
