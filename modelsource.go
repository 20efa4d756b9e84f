package vrend

import (
	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Vertex stream strides.
const (
	PositionStride = 12
	UVStride       = 8
	NormalStride   = 12
	IndexSize      = 4
)

// Stream offsets must be multiples of the 4 byte float and index size.
const streamAlignment = 4

// Mesh locates the vertex streams of one submesh in a model's vertex data.
// Offsets and lengths are in bytes. Indices are uint32.
type Mesh struct {
	PositionStart  uint64
	PositionLength uint64
	UVStart        uint64
	UVLength       uint64
	NormalStart    uint64
	NormalLength   uint64
	IndexStart     uint64
	IndexLength    uint64

	IndexCount    uint32
	MaterialIndex int
}

// VertexOffsets returns the position, uv and normal stream offsets in binding order.
func (m Mesh) VertexOffsets() []uint64 {
	return []uint64{m.PositionStart, m.UVStart, m.NormalStart}
}

// TextureIndex selects an entry of ModelSource.Textures.
type TextureIndex int

// NoTexture marks a material slot that uses the default texture.
const NoTexture TextureIndex = -1

// ImageSource locates tightly packed texels in ModelSource.ImageData.
type ImageSource struct {
	Width  uint32
	Height uint32
	Offset uint64
	Size   uint64
}

// TextureSource samples an image of the model.
type TextureSource struct {
	Image      int
	Format     vk.Format
	Properties TextureProperties
}

// MaterialSource names the texture of each material slot.
type MaterialSource struct {
	Color             TextureIndex
	MetallicRoughness TextureIndex
	Normal            TextureIndex
	Occlusion         TextureIndex
	Emissive          TextureIndex
	Factors           MaterialFactors
}

// DefaultMaterialSource uses the default texture in every slot.
func DefaultMaterialSource() MaterialSource {
	return MaterialSource{
		Color:             NoTexture,
		MetallicRoughness: NoTexture,
		Normal:            NoTexture,
		Occlusion:         NoTexture,
		Emissive:          NoTexture,
		Factors:           DefaultMaterialFactors(),
	}
}

func (m MaterialSource) slots() [materialTextureSlots]TextureIndex {
	return [materialTextureSlots]TextureIndex{m.Color, m.MetallicRoughness, m.Normal, m.Occlusion, m.Emissive}
}

// ModelSource is a model in engine format, as produced by the asset
// converter. Meshes are keyed by scene node.
type ModelSource struct {
	VertexData []byte
	ImageData  []byte
	Meshes     map[int][]Mesh
	Images     []ImageSource
	Textures   []TextureSource
	Materials  []MaterialSource
}

func inRange(start, length uint64, size int) bool {
	end := start + length
	return end >= start && end <= uint64(size)
}

// Validate checks every offset and index against the tables.
func (s *ModelSource) Validate() error {
	if len(s.VertexData) == 0 {
		return errors.New("model has no vertex data")
	}
	for node, meshes := range s.Meshes {
		for i, m := range meshes {
			for _, r := range [][2]uint64{
				{m.PositionStart, m.PositionLength},
				{m.UVStart, m.UVLength},
				{m.NormalStart, m.NormalLength},
				{m.IndexStart, m.IndexLength},
			} {
				if !inRange(r[0], r[1], len(s.VertexData)) {
					return errors.Newf("node %d mesh %d: stream %d+%d outside %d bytes of vertex data",
						node, i, r[0], r[1], len(s.VertexData))
				}
			}
			for _, start := range []uint64{m.PositionStart, m.UVStart, m.NormalStart, m.IndexStart} {
				if start%streamAlignment != 0 {
					return errors.Newf("node %d mesh %d: stream offset %d is not %d byte aligned",
						node, i, start, streamAlignment)
				}
			}
			if uint64(m.IndexCount)*IndexSize > m.IndexLength {
				return errors.Newf("node %d mesh %d: %d indices do not fit %d bytes", node, i, m.IndexCount, m.IndexLength)
			}
			if m.MaterialIndex < 0 || m.MaterialIndex >= len(s.Materials) {
				return errors.Newf("node %d mesh %d: material %d out of range", node, i, m.MaterialIndex)
			}
		}
	}
	for i, img := range s.Images {
		if !inRange(img.Offset, img.Size, len(s.ImageData)) {
			return errors.Newf("image %d: %d+%d outside %d bytes of image data", i, img.Offset, img.Size, len(s.ImageData))
		}
	}
	for i, t := range s.Textures {
		if t.Image < 0 || t.Image >= len(s.Images) {
			return errors.Newf("texture %d: image %d out of range", i, t.Image)
		}
		img := s.Images[t.Image]
		if driver.TexelSize(t.Format) == 0 {
			return errors.Newf("texture %d: unsupported format %d", i, t.Format)
		}
		desc := driver.ImageDesc{Width: img.Width, Height: img.Height, Format: t.Format}
		if desc.ByteSize() != img.Size {
			return errors.Newf("texture %d: image %d holds %d bytes, format needs %d", i, t.Image, img.Size, desc.ByteSize())
		}
	}
	for i, m := range s.Materials {
		for _, idx := range m.slots() {
			if idx != NoTexture && (idx < 0 || int(idx) >= len(s.Textures)) {
				return errors.Newf("material %d: texture %d out of range", i, idx)
			}
		}
	}
	return nil
}
