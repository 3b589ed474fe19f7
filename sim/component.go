package sim

import "sync"

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Component is an element that is being simulated. It receives messages
// through its ports and updates its state accordingly.
type Component interface {
	Named
	Handler
	Hookable
	PortOwner

	// NotifyRecv is called by a port when a message arrives at the port
	// while the port's incoming buffer was empty.
	NotifyRecv(port Port)

	// NotifyPortFree is called by a port when its outgoing buffer changes
	// from full to not full.
	NotifyPortFree(port Port)
}

// ComponentBase provides the functions that other components can use.
type ComponentBase struct {
	HookableBase
	*PortOwnerBase
	sync.Mutex

	name string
}

// NewComponentBase creates a new ComponentBase.
func NewComponentBase(name string) *ComponentBase {
	NameMustBeValid(name)

	c := new(ComponentBase)
	c.name = name
	c.PortOwnerBase = NewPortOwnerBase()

	return c
}

// Name returns the name of the component.
func (c *ComponentBase) Name() string {
	return c.name
}
