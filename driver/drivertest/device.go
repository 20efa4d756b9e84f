// Package drivertest implements driver.Device in host memory.
//
// Submitted work is queued and only executes when completion is observed: a
// fence wait, a queue or device wait idle. Misuse that a validation layer would
// report (resetting a command buffer that is still pending, freeing memory a
// pending copy reads, waiting on an unsignaled semaphore...) is recorded and
// returned by Violations.
package drivertest

import (
	"fmt"
	"sort"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DefaultMemoryTypes mirrors a typical discrete GPU.
var DefaultMemoryTypes = []vk.MemoryPropertyFlags{
	vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
	vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit),
	vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
}

// Stats counts objects created over the device lifetime.
type Stats struct {
	Buffers        int
	Images         int
	Allocations    int
	Layouts        int
	Pools          int
	PoolResets     int
	CommandBuffers int
	Submissions    int
	QueueWaitIdles int
	FenceWaits     int
}

// Command is an executed command, in execution order.
type Command struct {
	Name  string
	Value any
}

// Option configures a Device.
type Option func(*Device)

// WithMemoryTypes replaces the memory type table.
func WithMemoryTypes(types ...vk.MemoryPropertyFlags) Option {
	return func(d *Device) {
		d.memoryTypes = types
	}
}

// WithMemoryTypeBits sets the memory type mask reported by every buffer and
// image requirement.
func WithMemoryTypeBits(bits uint32) Option {
	return func(d *Device) {
		d.typeBits = bits
	}
}

// WithMaxAnisotropy sets the reported sampler anisotropy limit.
func WithMaxAnisotropy(v float32) Option {
	return func(d *Device) {
		d.limits.MaxSamplerAnisotropy = v
	}
}

// Device is an in-memory driver.Device.
type Device struct {
	memoryTypes []vk.MemoryPropertyFlags
	typeBits    uint32
	limits      driver.Limits

	queue *Queue

	stats      Stats
	executed   []Command
	violations []string
	live       map[any]string
	failures   map[string][]vk.Result
	destroyed  bool
}

var _ driver.Device = (*Device)(nil)

// New creates a device.
func New(opts ...Option) *Device {
	d := &Device{
		memoryTypes: DefaultMemoryTypes,
		typeBits:    0xffffffff,
		limits: driver.Limits{
			MaxSamplerAnisotropy: 16,
			MaxPushConstantsSize: 128,
		},
		live:     make(map[any]string),
		failures: make(map[string][]vk.Result),
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = &Queue{device: d}
	return d
}

// Fail makes the next call of op return res. Ops are the Vulkan entry point
// names without the vk prefix, e.g. "CreateBuffer", "AllocateDescriptorSets",
// "AcquireNextImage", "QueuePresent".
func (d *Device) Fail(op string, res vk.Result) {
	d.failures[op] = append(d.failures[op], res)
}

func (d *Device) injected(op string) error {
	q := d.failures[op]
	if len(q) == 0 {
		return nil
	}
	res := q[0]
	d.failures[op] = q[1:]
	return &driver.ResultError{Op: "vk" + op, Result: res}
}

func (d *Device) violate(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) track(obj any, kind string) {
	d.live[obj] = kind
}

func (d *Device) untrack(obj any, kind string) {
	if _, ok := d.live[obj]; !ok {
		d.violate("%s destroyed twice", kind)
		return
	}
	delete(d.live, obj)
}

// Violations returns the recorded API misuse.
func (d *Device) Violations() []string {
	return d.violations
}

// Stats returns creation counters.
func (d *Device) Stats() Stats {
	return d.stats
}

// Executed returns the commands executed so far.
func (d *Device) Executed() []Command {
	return d.executed
}

// ExecutedNames returns the names of the executed commands.
func (d *Device) ExecutedNames() []string {
	names := make([]string, len(d.executed))
	for i, c := range d.executed {
		names[i] = c.Name
	}
	return names
}

// ClearExecuted forgets the executed command log.
func (d *Device) ClearExecuted() {
	d.executed = nil
}

// Leaks returns a sorted description of every object not yet destroyed.
func (d *Device) Leaks() []string {
	counts := make(map[string]int)
	for _, kind := range d.live {
		counts[kind]++
	}
	var out []string
	for kind, n := range counts {
		out = append(out, fmt.Sprintf("%d %s", n, kind))
	}
	sort.Strings(out)
	return out
}

func (d *Device) MemoryTypes() []vk.MemoryPropertyFlags {
	return d.memoryTypes
}

func (d *Device) Limits() driver.Limits {
	return d.limits
}

func (d *Device) GraphicsQueue() driver.Queue {
	return d.queue
}

// Queue returns the concrete graphics queue.
func (d *Device) Queue() *Queue {
	return d.queue
}

func (d *Device) WaitIdle() error {
	if err := d.injected("DeviceWaitIdle"); err != nil {
		return err
	}
	d.queue.completeAll()
	return nil
}

func (d *Device) Destroy() {
	if d.destroyed {
		d.violate("device destroyed twice")
		return
	}
	if len(d.queue.pending) > 0 {
		d.violate("device destroyed with %d pending submissions", len(d.queue.pending))
	}
	d.destroyed = true
}

func (d *Device) CreateBuffer(size uint64, usage vk.BufferUsageFlags) (driver.Buffer, error) {
	if err := d.injected("CreateBuffer"); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.New("drivertest: zero sized buffer")
	}
	b := &Buffer{device: d, size: size, usage: usage}
	d.stats.Buffers++
	d.track(b, "buffer")
	return b, nil
}

func (d *Device) CreateImage(desc driver.ImageDesc) (driver.Image, error) {
	if err := d.injected("CreateImage"); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, errors.New("drivertest: zero sized image")
	}
	img := &Image{device: d, desc: desc, layout: vk.ImageLayoutUndefined}
	d.stats.Images++
	d.track(img, "image")
	return img, nil
}

func (d *Device) AllocateMemory(size uint64, memoryType uint32) (driver.Memory, error) {
	if err := d.injected("AllocateMemory"); err != nil {
		return nil, err
	}
	if int(memoryType) >= len(d.memoryTypes) {
		return nil, errors.Newf("drivertest: memory type %d out of range", memoryType)
	}
	m := &Memory{
		device:    d,
		typeIndex: memoryType,
		flags:     d.memoryTypes[memoryType],
		bytes:     make([]byte, size),
	}
	d.stats.Allocations++
	d.track(m, "memory")
	return m, nil
}

func (d *Device) CreateImageView(image driver.Image, aspect vk.ImageAspectFlags) (driver.ImageView, error) {
	if err := d.injected("CreateImageView"); err != nil {
		return nil, err
	}
	img, ok := image.(*Image)
	if !ok {
		return nil, errors.New("drivertest: foreign image")
	}
	v := &ImageView{device: d, image: img, aspect: aspect}
	d.track(v, "image view")
	return v, nil
}

func (d *Device) CreateSampler(desc driver.SamplerDesc) (driver.Sampler, error) {
	if err := d.injected("CreateSampler"); err != nil {
		return nil, err
	}
	if desc.MaxAnisotropy > d.limits.MaxSamplerAnisotropy {
		d.violate("sampler anisotropy %v above device limit %v", desc.MaxAnisotropy, d.limits.MaxSamplerAnisotropy)
	}
	s := &Sampler{device: d, desc: desc}
	d.track(s, "sampler")
	return s, nil
}

// ImageView is a view of an Image.
type ImageView struct {
	device *Device
	image  *Image
	aspect vk.ImageAspectFlags
}

func (v *ImageView) Image() *Image { return v.image }

func (v *ImageView) Destroy() { v.device.untrack(v, "image view") }

// Sampler holds the sampler description it was created from.
type Sampler struct {
	device *Device
	desc   driver.SamplerDesc
}

func (s *Sampler) Desc() driver.SamplerDesc { return s.desc }

func (s *Sampler) Destroy() { s.device.untrack(s, "sampler") }
