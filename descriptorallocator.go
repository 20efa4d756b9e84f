package vrend

import (
	"log/slog"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DefaultPoolBatchSize is the number of sets each descriptor pool holds.
const DefaultPoolBatchSize = 1000

// PoolSizeRatio is the number of descriptors of one type a pool holds per
// set of its batch.
type PoolSizeRatio struct {
	Type  vk.DescriptorType
	Ratio float32
}

// DefaultPoolSizes returns the descriptor type distribution of a pool.
func DefaultPoolSizes() []PoolSizeRatio {
	return []PoolSizeRatio{
		{vk.DescriptorTypeSampler, 0.5},
		{vk.DescriptorTypeCombinedImageSampler, 4},
		{vk.DescriptorTypeSampledImage, 4},
		{vk.DescriptorTypeStorageImage, 1},
		{vk.DescriptorTypeUniformTexelBuffer, 1},
		{vk.DescriptorTypeStorageTexelBuffer, 1},
		{vk.DescriptorTypeUniformBuffer, 2},
		{vk.DescriptorTypeStorageBuffer, 2},
		{vk.DescriptorTypeUniformBufferDynamic, 1},
		{vk.DescriptorTypeStorageBufferDynamic, 1},
		{vk.DescriptorTypeInputAttachment, 0.5},
	}
}

// AllocatorOption configures a DescriptorAllocator.
type AllocatorOption func(*DescriptorAllocator)

// WithBatchSize sets the number of sets per pool.
func WithBatchSize(n uint32) AllocatorOption {
	return func(a *DescriptorAllocator) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithPoolSizes replaces the descriptor type distribution.
func WithPoolSizes(sizes []PoolSizeRatio) AllocatorOption {
	return func(a *DescriptorAllocator) {
		a.sizes = append([]PoolSizeRatio(nil), sizes...)
	}
}

// DescriptorAllocator hands out descriptor sets from a chain of fixed size
// pools. Exhausted pools stay in the used list until ResetPools, which
// recycles them instead of destroying them.
type DescriptorAllocator struct {
	device    driver.Device
	batchSize uint32
	sizes     []PoolSizeRatio

	current driver.DescriptorPool
	used    []driver.DescriptorPool
	free    []driver.DescriptorPool
}

func NewDescriptorAllocator(device driver.Device, opts ...AllocatorOption) *DescriptorAllocator {
	a := &DescriptorAllocator{
		device:    device,
		batchSize: DefaultPoolBatchSize,
		sizes:     DefaultPoolSizes(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BatchSize returns the number of sets per pool.
func (a *DescriptorAllocator) BatchSize() uint32 { return a.batchSize }

// UsedPools returns the number of pools handed out since the last reset,
// including the current one.
func (a *DescriptorAllocator) UsedPools() int { return len(a.used) }

// FreePools returns the number of reset pools waiting for reuse.
func (a *DescriptorAllocator) FreePools() int { return len(a.free) }

func (a *DescriptorAllocator) createPool() (driver.DescriptorPool, error) {
	sizes := make([]driver.PoolSize, 0, len(a.sizes))
	for _, s := range a.sizes {
		n := uint32(s.Ratio * float32(a.batchSize))
		if n == 0 {
			continue
		}
		sizes = append(sizes, driver.PoolSize{Type: s.Type, Count: n})
	}
	pool, err := a.device.CreateDescriptorPool(a.batchSize, sizes)
	if err != nil {
		return nil, creationFailed(err, "create descriptor pool of %d sets", a.batchSize)
	}
	return pool, nil
}

// grabPool makes a free or newly created pool current.
func (a *DescriptorAllocator) grabPool() error {
	var pool driver.DescriptorPool
	if n := len(a.free); n > 0 {
		pool = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		p, err := a.createPool()
		if err != nil {
			return err
		}
		pool = p
		Logger().Debug("vrend: descriptor pool created",
			slog.Uint64("sets", uint64(a.batchSize)),
			slog.Int("used", len(a.used)+1))
	}
	a.current = pool
	a.used = append(a.used, pool)
	return nil
}

func isPoolExhausted(err error) bool {
	return driver.IsResult(err, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool)
}

// Allocate returns a set of the given layout. An exhausted or fragmented
// pool is replaced once; any other failure is returned.
func (a *DescriptorAllocator) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	if a.current == nil {
		if err := a.grabPool(); err != nil {
			return nil, err
		}
	}

	set, err := a.current.Allocate(layout)
	if err == nil {
		return set, nil
	}
	if !isPoolExhausted(err) {
		return nil, creationFailed(err, "allocate descriptor set")
	}

	if err := a.grabPool(); err != nil {
		return nil, err
	}
	set, err = a.current.Allocate(layout)
	if err != nil {
		return nil, creationFailed(err, "allocate descriptor set from a fresh pool")
	}
	return set, nil
}

// ResetPools resets every used pool and moves it to the free list. Every set
// allocated from those pools becomes invalid.
func (a *DescriptorAllocator) ResetPools() error {
	var (
		errs   error
		failed []driver.DescriptorPool
	)
	for _, pool := range a.used {
		if err := pool.Reset(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "reset descriptor pool"))
			failed = append(failed, pool)
			continue
		}
		a.free = append(a.free, pool)
	}
	// Pools that failed to reset stay used until the next attempt.
	a.used = failed
	a.current = nil
	return errs
}

// Destroy destroys every pool.
func (a *DescriptorAllocator) Destroy() {
	for _, pool := range a.used {
		pool.Destroy()
	}
	for _, pool := range a.free {
		pool.Destroy()
	}
	a.used = nil
	a.free = nil
	a.current = nil
}
