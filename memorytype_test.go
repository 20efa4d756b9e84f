package vrend

import (
	"testing"

	"github.com/Neathan/vrend/driver/drivertest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

var memoryFlagBits = []vk.MemoryPropertyFlagBits{
	vk.MemoryPropertyDeviceLocalBit,
	vk.MemoryPropertyHostVisibleBit,
	vk.MemoryPropertyHostCoherentBit,
	vk.MemoryPropertyHostCachedBit,
}

// flagCombinations returns every subset of memoryFlagBits.
func flagCombinations() []vk.MemoryPropertyFlags {
	var out []vk.MemoryPropertyFlags
	for set := 0; set < 1<<len(memoryFlagBits); set++ {
		var f vk.MemoryPropertyFlags
		for i, bit := range memoryFlagBits {
			if set&(1<<i) != 0 {
				f |= vk.MemoryPropertyFlags(bit)
			}
		}
		out = append(out, f)
	}
	return out
}

func TestFindMemoryTypeExhaustive(t *testing.T) {
	tables := map[string][]vk.MemoryPropertyFlags{
		"discrete": drivertest.DefaultMemoryTypes,
		"integrated": {
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit),
		},
		"device only": {
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		},
		"empty": nil,
	}

	for name, types := range tables {
		t.Run(name, func(t *testing.T) {
			for mask := uint32(0); mask < 1<<len(types); mask++ {
				for _, required := range flagCombinations() {
					idx, err := FindMemoryType(types, mask, required)

					first := -1
					for i, flags := range types {
						if mask&(1<<i) != 0 && flags&required == required {
							first = i
							break
						}
					}

					if first < 0 {
						require.Error(t, err, "mask %#x required %#x", mask, required)
						assert.True(t, errors.Is(err, ErrNoMemoryType))
						continue
					}
					require.NoError(t, err, "mask %#x required %#x", mask, required)
					assert.Equal(t, uint32(first), idx)
					assert.NotZero(t, mask&(1<<idx))
					assert.Equal(t, required, types[idx]&required)
				}
			}
		})
	}
}

func TestFindMemoryTypeIgnoresBitsBeyondTable(t *testing.T) {
	types := []vk.MemoryPropertyFlags{vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)}
	_, err := FindMemoryType(types, 0xfffffffe, 0)
	require.ErrorIs(t, err, ErrNoMemoryType)
}

func TestContextFindMemoryType(t *testing.T) {
	ctx, _ := newTestContext(t)
	defer ctx.Destroy()

	idx, err := ctx.FindMemoryType(0xffffffff, hostVisibleCoherent)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), idx)

	idx, err = ctx.FindMemoryType(0b1000, deviceLocal|hostVisibleCoherent)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), idx)

	_, err = ctx.FindMemoryType(0b0001, hostVisibleCoherent)
	require.ErrorIs(t, err, ErrNoMemoryType)
}
