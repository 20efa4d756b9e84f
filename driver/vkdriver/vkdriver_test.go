package vkdriver

import (
	"testing"

	"github.com/Neathan/vrend/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestSafeString(t *testing.T) {
	assert.Equal(t, "\x00", safeString(""))
	assert.Equal(t, "main\x00", safeString("main"))
	assert.Equal(t, "main\x00", safeString("main\x00"))

	in := []string{"a", "b\x00"}
	assert.Equal(t, []string{"a\x00", "b\x00"}, safeStrings(in))
	assert.Equal(t, []string{"a", "b\x00"}, in, "input left untouched")
}

func TestSliceUint32(t *testing.T) {
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	words := sliceUint32(code)
	require.Len(t, words, 2)
	assert.Equal(t, uint32(0x07230203), words[0], "SPIR-V magic")
	assert.Nil(t, sliceUint32(nil))
}

func TestChooseFormat(t *testing.T) {
	srgb := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	unorm := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, unorm, chooseFormat([]vk.SurfaceFormat{srgb, unorm}))
	assert.Equal(t, srgb, chooseFormat([]vk.SurfaceFormat{srgb}))
	assert.Equal(t, vk.FormatB8g8r8a8Unorm,
		chooseFormat([]vk.SurfaceFormat{{Format: vk.FormatUndefined}}).Format, "surface without preference")
}

func TestChoosePresentMode(t *testing.T) {
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}))
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(caps, vk.Extent2D{Width: 10, Height: 10}))

	caps.CurrentExtent = vk.Extent2D{Width: vk.MaxUint32, Height: vk.MaxUint32}
	assert.Equal(t, vk.Extent2D{Width: 1280, Height: 720}, chooseExtent(caps, vk.Extent2D{Width: 1280, Height: 720}))
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 1}, chooseExtent(caps, vk.Extent2D{Width: 9000, Height: 0}))
}

func TestPipelineCreateInfo(t *testing.T) {
	desc := driver.GraphicsPipelineDesc{
		Vertex: []driver.VertexBinding{
			{Binding: 0, Stride: 12, Location: 0, Format: vk.FormatR32g32b32Sfloat},
			{Binding: 1, Stride: 8, Location: 1, Format: vk.FormatR32g32Sfloat},
		},
		Layout:     &PipelineLayout{},
		RenderPass: &RenderPass{},
		Extent:     vk.Extent2D{Width: 640, Height: 480},
		CullMode:   vk.CullModeBackBit,
	}
	info := defaultPipelineState().createInfo(desc, nil)

	vi := info.PVertexInputState
	require.Len(t, vi.PVertexBindingDescriptions, 2)
	assert.Equal(t, uint32(8), vi.PVertexBindingDescriptions[1].Stride)
	assert.Equal(t, vk.VertexInputRateVertex, vi.PVertexBindingDescriptions[1].InputRate)
	assert.Equal(t, uint32(1), vi.PVertexAttributeDescriptions[1].Location)
	assert.Equal(t, vk.FormatR32g32Sfloat, vi.PVertexAttributeDescriptions[1].Format)

	assert.Equal(t, float32(640), info.PViewportState.PViewports[0].Width)
	assert.Equal(t, desc.Extent, info.PViewportState.PScissors[0].Extent)
	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), info.PRasterizationState.CullMode)
	assert.Equal(t, vk.Bool32(vk.True), info.PDepthStencilState.DepthTestEnable)
	assert.Equal(t, vk.CompareOpLess, info.PDepthStencilState.DepthCompareOp)
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	p := &DescriptorPool{maxSets: 2, allocated: 2}
	_, err := p.Allocate(&DescriptorSetLayout{})
	assert.True(t, driver.IsResult(err, vk.ErrorOutOfPoolMemory))
}
