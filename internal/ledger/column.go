package ledger

import (
	"reflect"
	"sync"
)

// Key is an interned column identity. Keys are process-wide: registering the
// same name twice yields the same key, and every ledger stores the component
// under identical keys.
type Key uint32

type columnEntry struct {
	name    string
	numeric bool
	elem    reflect.Type
	make    func(Key) *erasedColumn
}

var registry = struct {
	mu      sync.RWMutex
	byName  map[string]Key
	entries []columnEntry
}{byName: make(map[string]Key)}

// Register interns a component key for element type T. Registration is
// idempotent by name; re-registering under a different element type panics.
func Register[T any](name string) Key { return register[T](name, false) }

// RegisterNumeric interns an indicator-valued component key. Numeric columns
// may be materialized lazily when a system requests them.
func RegisterNumeric[T any](name string) Key { return register[T](name, true) }

func register[T any](name string, numeric bool) Key {
	elem := reflect.TypeOf((*T)(nil)).Elem()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if key, ok := registry.byName[name]; ok {
		existing := registry.entries[key-1]
		if existing.elem != elem {
			panic("ledger: component " + name + " re-registered with element " +
				elem.String() + ", previously " + existing.elem.String())
		}
		return key
	}
	registry.entries = append(registry.entries, columnEntry{
		name:    name,
		numeric: numeric,
		elem:    elem,
		make:    func(k Key) *erasedColumn { return newColumn[T](k) },
	})
	key := Key(len(registry.entries))
	registry.byName[name] = key
	return key
}

// KeyByName resolves a registered component key.
func KeyByName(name string) (Key, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	key, ok := registry.byName[name]
	return key, ok
}

// NameOf returns the registered name for key, or "unregistered".
func NameOf(key Key) string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if key == 0 || int(key) > len(registry.entries) {
		return "unregistered"
	}
	return registry.entries[key-1].name
}

func registryEntry(key Key) (columnEntry, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if key == 0 || int(key) > len(registry.entries) {
		return columnEntry{}, false
	}
	return registry.entries[key-1], true
}

// erasedColumn is the untyped view of one component column. Slots keep their
// position for the life of the ledger: removal tombstones the slot (entity
// zeroed, value cleared) so positional change marks never replay old rows.
type erasedColumn struct {
	key      Key
	entities []Entity
	index    map[Entity]int
	live     int
	values   any
	clearAt  func(int)
}

func newColumn[T any](key Key) *erasedColumn {
	vs := new([]T)
	col := &erasedColumn{
		key:      key,
		entities: nil,
		index:    make(map[Entity]int),
		live:     0,
		values:   vs,
		clearAt:  nil,
	}
	col.clearAt = func(i int) {
		var zero T
		(*vs)[i] = zero
	}
	return col
}

func (c *erasedColumn) has(e Entity) bool {
	_, ok := c.index[e]
	return ok
}

func (c *erasedColumn) remove(e Entity) {
	i, ok := c.index[e]
	if !ok {
		return
	}
	delete(c.index, e)
	c.entities[i] = 0
	c.clearAt(i)
	c.live--
}

func (c *erasedColumn) slots() int { return len(c.entities) }

func (c *erasedColumn) entityAt(slot int) Entity { return c.entities[slot] }

// typedColumn binds an erased column to its element type.
type typedColumn[T any] struct {
	col *erasedColumn
	vs  *[]T
}

func assertColumn[T any](c *erasedColumn) typedColumn[T] {
	vs, ok := c.values.(*[]T)
	if !ok {
		panic("ledger: column " + NameOf(c.key) + " accessed with wrong element type")
	}
	return typedColumn[T]{col: c, vs: vs}
}

func (t typedColumn[T]) set(e Entity, v T) {
	if i, ok := t.col.index[e]; ok {
		(*t.vs)[i] = v
		return
	}
	t.col.entities = append(t.col.entities, e)
	*t.vs = append(*t.vs, v)
	t.col.index[e] = len(t.col.entities) - 1
	t.col.live++
}

func (t typedColumn[T]) get(e Entity) (T, bool) {
	if i, ok := t.col.index[e]; ok {
		return (*t.vs)[i], true
	}
	var zero T
	return zero, false
}

func (t typedColumn[T]) each(fn func(Entity, T) bool) {
	for i, e := range t.col.entities {
		if e == 0 {
			continue
		}
		if !fn(e, (*t.vs)[i]) {
			return
		}
	}
}

// at addresses live slots by rank; negative i counts back from the newest.
func (t typedColumn[T]) at(i int) (Entity, T, bool) {
	var zero T
	if t.col.live == 0 {
		return 0, zero, false
	}
	if i < 0 {
		i = t.col.live + i
	}
	if i < 0 || i >= t.col.live {
		return 0, zero, false
	}
	if t.col.live == len(t.col.entities) {
		return t.col.entities[i], (*t.vs)[i], true
	}
	seen := 0
	for slot, e := range t.col.entities {
		if e == 0 {
			continue
		}
		if seen == i {
			return e, (*t.vs)[slot], true
		}
		seen++
	}
	return 0, zero, false
}
