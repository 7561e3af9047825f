package runtime

// Foreign is a host-defined object pinned to a Compartment's object table purely so it can be
// referenced by ID and participate in root-reference accounting, without being a Memory, Table,
// Global, or Function (e.g. wrapping a WASI file descriptor or a
// host-side resource handle passed through an externref).
type Foreign struct {
	object

	value interface{}
}

// CreateForeign wraps value as a Foreign owned by c.
func CreateForeign(c *Compartment, value interface{}, debugName string) *Foreign {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextForeignID
	c.nextForeignID++
	f := &Foreign{
		object: object{kind: ObjectKindForeign, compartment: c, id: id, debugName: debugName},
		value:  value,
	}
	c.foreigns[id] = f
	return f
}

// Value returns the wrapped host value.
func (f *Foreign) Value() interface{} { return f.value }

func (f *Foreign) cloneInto(dst *Compartment, id int) *Foreign {
	return &Foreign{
		object: object{kind: ObjectKindForeign, compartment: dst, id: id, debugName: f.debugName},
		value:  f.value,
	}
}
