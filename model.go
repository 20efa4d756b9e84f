package vrend

import (
	"sort"

	"github.com/Neathan/vrend/driver"
)

// Model is a device resident ModelSource: one vertex buffer holding every
// stream, the images and materials its meshes use.
type Model struct {
	vertex    *AllocatedBuffer
	images    []*AllocatedImage
	materials []*Material
	meshes    map[int][]Mesh
	nodes     []int
}

func newModel(meshes map[int][]Mesh) *Model {
	m := &Model{meshes: meshes}
	for node := range meshes {
		m.nodes = append(m.nodes, node)
	}
	sort.Ints(m.nodes)
	return m
}

// VertexBuffer returns the buffer holding vertex and index streams.
func (m *Model) VertexBuffer() driver.Buffer { return m.vertex.Buffer }

// Nodes returns the scene nodes with meshes, in ascending order.
func (m *Model) Nodes() []int { return m.nodes }

// Meshes returns the meshes of a node.
func (m *Model) Meshes(node int) []Mesh { return m.meshes[node] }

// Material returns a material by index.
func (m *Model) Material(i int) *Material { return m.materials[i] }

// MaterialCount returns the number of materials.
func (m *Model) MaterialCount() int { return len(m.materials) }

// Destroy releases the materials, then the images and the vertex buffer. The
// device must not be using the model.
func (m *Model) Destroy() {
	for _, mat := range m.materials {
		mat.Destroy()
	}
	m.materials = nil
	for _, img := range m.images {
		if img != nil {
			img.Destroy()
		}
	}
	m.images = nil
	if m.vertex != nil {
		m.vertex.Destroy()
		m.vertex = nil
	}
}
