package vrend

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/Neathan/vrend/driver/drivertest"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func newTestContext(t *testing.T, opts ...ContextOption) (*Context, *drivertest.Device) {
	t.Helper()
	return newTestContextOn(t, drivertest.New(), opts...)
}

func newTestContextOn(t *testing.T, dev *drivertest.Device, opts ...ContextOption) (*Context, *drivertest.Device) {
	t.Helper()
	ctx, err := NewContext(dev, opts...)
	require.NoError(t, err)
	return ctx, dev
}

// leaked reports whether any object of kind is still alive.
func leaked(dev *drivertest.Device, kind string) bool {
	for _, l := range dev.Leaks() {
		if strings.HasSuffix(l, " "+kind) {
			return true
		}
	}
	return false
}

func requireNoViolations(t *testing.T, dev *drivertest.Device) {
	t.Helper()
	require.Empty(t, dev.Violations())
}

func putFloats(b []byte, fs ...float32) []byte {
	for _, f := range fs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// quadSource is a textured unit quad: one node, one mesh, a 2x2 color
// texture and a material using defaults for every other slot.
func quadSource() *ModelSource {
	var v []byte
	v = putFloats(v, -1, -1, 0, 1, -1, 0, 1, 1, 0, -1, 1, 0)
	uvStart := uint64(len(v))
	v = putFloats(v, 0, 0, 1, 0, 1, 1, 0, 1)
	normalStart := uint64(len(v))
	v = putFloats(v, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1)
	indexStart := uint64(len(v))
	for _, i := range []uint32{0, 1, 2, 2, 3, 0} {
		v = binary.LittleEndian.AppendUint32(v, i)
	}

	material := DefaultMaterialSource()
	material.Color = 0

	return &ModelSource{
		VertexData: v,
		ImageData: []byte{
			255, 0, 0, 255, 0, 255, 0, 255,
			0, 0, 255, 255, 255, 255, 255, 255,
		},
		Meshes: map[int][]Mesh{
			0: {{
				PositionStart:  0,
				PositionLength: uvStart,
				UVStart:        uvStart,
				UVLength:       normalStart - uvStart,
				NormalStart:    normalStart,
				NormalLength:   indexStart - normalStart,
				IndexStart:     indexStart,
				IndexLength:    uint64(len(v)) - indexStart,
				IndexCount:     6,
				MaterialIndex:  0,
			}},
		},
		Images:    []ImageSource{{Width: 2, Height: 2, Offset: 0, Size: 16}},
		Textures:  []TextureSource{{Image: 0, Format: vk.FormatR8g8b8a8Srgb, Properties: DefaultTextureProperties()}},
		Materials: []MaterialSource{material},
	}
}
