package vkdriver

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// PipelineLayout is the set layouts and push constant ranges of a pipeline.
type PipelineLayout struct {
	device *Device
	handle vk.PipelineLayout
}

func (d *Device) CreatePipelineLayout(sets []driver.DescriptorSetLayout, push []vk.PushConstantRange) (driver.PipelineLayout, error) {
	layouts := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		layouts[i] = layoutHandle(s)
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(push)),
		PPushConstantRanges:    push,
	}
	l := &PipelineLayout{device: d}
	if err := driver.Check("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.handle, &info, nil, &l.handle)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PipelineLayout) Destroy() {
	vk.DestroyPipelineLayout(l.device.handle, l.handle, nil)
}

func pipelineLayoutHandle(l driver.PipelineLayout) vk.PipelineLayout {
	return l.(*PipelineLayout).handle
}

// Pipeline is a graphics pipeline.
type Pipeline struct {
	device *Device
	handle vk.Pipeline
}

func (p *Pipeline) Destroy() {
	vk.DestroyPipeline(p.device.handle, p.handle, nil)
}

type shaderModule struct {
	device *Device
	handle vk.ShaderModule
}

func (d *Device) createShaderModule(code []byte) (*shaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("shader code of %d bytes is not SPIR-V", len(code))
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}
	m := &shaderModule{device: d}
	if err := driver.Check("vkCreateShaderModule", vk.CreateShaderModule(d.handle, &info, nil, &m.handle)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *shaderModule) stage(stage vk.ShaderStageFlagBits) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: m.handle,
		PName:  safeString("main"),
	}
}

func (m *shaderModule) Destroy() {
	vk.DestroyShaderModule(m.device.handle, m.handle, nil)
}

// pipelineState is the fixed function state of the forward pipeline.
type pipelineState struct {
	topology    vk.PrimitiveTopology
	polygonMode vk.PolygonMode
	lineWidth   float32
	frontFace   vk.FrontFace
	depthTest   bool
	depthWrite  bool
}

func defaultPipelineState() pipelineState {
	return pipelineState{
		topology:    vk.PrimitiveTopologyTriangleList,
		polygonMode: vk.PolygonModeFill,
		lineWidth:   1.0,
		frontFace:   vk.FrontFaceCounterClockwise,
		depthTest:   true,
		depthWrite:  true,
	}
}

// createInfo fills a pipeline create info for desc. The viewport and scissor
// cover desc.Extent.
func (g pipelineState) createInfo(desc driver.GraphicsPipelineDesc, stages []vk.PipelineShaderStageCreateInfo) vk.GraphicsPipelineCreateInfo {
	bindings := make([]vk.VertexInputBindingDescription, len(desc.Vertex))
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Vertex))
	for i, v := range desc.Vertex {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   v.Binding,
			Stride:    v.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: v.Location,
			Binding:  v.Binding,
			Format:   v.Format,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               g.topology,
		PrimitiveRestartEnable: vk.False,
	}
	viewport := vk.Viewport{
		Width:    float32(desc.Extent.Width),
		Height:   float32(desc.Extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{Extent: desc.Extent}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{scissor},
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             g.polygonMode,
		LineWidth:               g.lineWidth,
		CullMode:                vk.CullModeFlags(desc.CullMode),
		FrontFace:               g.frontFace,
		DepthBiasEnable:         vk.False,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
	}
	blend := []vk.PipelineColorBlendAttachmentState{{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
		BlendEnable: vk.False,
	}}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: uint32(len(blend)),
		PAttachments:    blend,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       boolean(g.depthTest),
		DepthWriteEnable:      boolean(g.depthWrite),
		DepthCompareOp:        vk.CompareOpLess,
		DepthBoundsTestEnable: vk.False,
		MinDepthBounds:        0.0,
		MaxDepthBounds:        1.0,
		StencilTestEnable:     vk.False,
	}

	return vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		Layout:              pipelineLayoutHandle(desc.Layout),
		RenderPass:          desc.RenderPass.(*RenderPass).handle,
		Subpass:             0,
	}
}

func (d *Device) CreateGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	vert, err := d.createShaderModule(desc.VertexShader)
	if err != nil {
		return nil, errors.Wrap(err, "vertex shader")
	}
	defer vert.Destroy()
	frag, err := d.createShaderModule(desc.FragmentShader)
	if err != nil {
		return nil, errors.Wrap(err, "fragment shader")
	}
	defer frag.Destroy()

	stages := []vk.PipelineShaderStageCreateInfo{
		vert.stage(vk.ShaderStageVertexBit),
		frag.stage(vk.ShaderStageFragmentBit),
	}
	info := defaultPipelineState().createInfo(desc, stages)

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.handle, d.cache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)
	if err := driver.Check("vkCreateGraphicsPipelines", res); err != nil {
		return nil, err
	}
	return &Pipeline{device: d, handle: pipelines[0]}, nil
}
