package vrend

import (
	"github.com/Neathan/vrend/driver"
)

// Arena owns resources until it is destroyed. Resources are destroyed in the
// reverse order they were added.
type Arena struct {
	items []driver.Destroyer
}

// Add hands d to the arena and returns it. Nil values are ignored.
func (a *Arena) Add(d driver.Destroyer) driver.Destroyer {
	if d != nil {
		a.items = append(a.items, d)
	}
	return d
}

// Len returns the number of resources owned.
func (a *Arena) Len() int {
	return len(a.items)
}

// Destroy releases everything and leaves the arena empty and reusable.
func (a *Arena) Destroy() {
	for i := len(a.items) - 1; i >= 0; i-- {
		a.items[i].Destroy()
	}
	a.items = nil
}

// destroyerFunc adapts a function to driver.Destroyer.
type destroyerFunc func()

func (f destroyerFunc) Destroy() { f() }
