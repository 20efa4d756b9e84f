package drivertest

import (
	"encoding/binary"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic = 0x07230203

// ShaderStub returns the smallest byte slice the device accepts as SPIR-V.
func ShaderStub() []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b, SPIRVMagic)
	return b
}

// PipelineLayout keeps its set layouts and push constant ranges.
type PipelineLayout struct {
	device *Device
	Sets   []driver.DescriptorSetLayout
	Push   []vk.PushConstantRange
}

func (l *PipelineLayout) Destroy() { l.device.untrack(l, "pipeline layout") }

func (d *Device) CreatePipelineLayout(sets []driver.DescriptorSetLayout, push []vk.PushConstantRange) (driver.PipelineLayout, error) {
	if err := d.injected("CreatePipelineLayout"); err != nil {
		return nil, err
	}
	for _, r := range push {
		if r.Offset+r.Size > d.limits.MaxPushConstantsSize {
			return nil, errors.Newf("drivertest: push constant range %d+%d above limit", r.Offset, r.Size)
		}
	}
	l := &PipelineLayout{
		device: d,
		Sets:   append([]driver.DescriptorSetLayout(nil), sets...),
		Push:   append([]vk.PushConstantRange(nil), push...),
	}
	d.track(l, "pipeline layout")
	return l, nil
}

// Pipeline keeps the description it was created from.
type Pipeline struct {
	device *Device
	Desc   driver.GraphicsPipelineDesc
}

func (p *Pipeline) Destroy() { p.device.untrack(p, "pipeline") }

func (d *Device) CreateGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	if err := d.injected("CreateGraphicsPipelines"); err != nil {
		return nil, err
	}
	for _, code := range [][]byte{desc.VertexShader, desc.FragmentShader} {
		if len(code) < 4 || len(code)%4 != 0 || binary.LittleEndian.Uint32(code) != SPIRVMagic {
			return nil, &driver.ResultError{Op: "vkCreateShaderModule", Result: vk.ErrorInitializationFailed}
		}
	}
	if desc.Layout == nil || desc.RenderPass == nil {
		return nil, errors.New("drivertest: pipeline without layout or render pass")
	}
	p := &Pipeline{device: d, Desc: desc}
	d.track(p, "pipeline")
	return p, nil
}
