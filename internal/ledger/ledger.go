// Package ledger implements the entity/component store underpinning the
// trading runtime. Rows of market data, indicator values, portfolio state and
// orders live in typed columns; behaviour lives in systems grouped into
// ordered stages. Ledgers are not goroutine-safe; callers serialize access.
package ledger

import (
	"strconv"

	"github.com/coachpo/takt/errs"
)

// Entity is an opaque row identity. IDs increase strictly in creation order
// within a ledger and are never reused; the zero value is invalid.
type Entity uint64

// Ledger owns a set of component columns, the entities spanning them, and the
// stages of systems that run once per tick.
type Ledger struct {
	id       string
	next     Entity
	columns  map[Key]*erasedColumn
	borrowed map[Key]*erasedColumn
	stages   []*Stage
	marks    map[string]map[Key]int
}

// New constructs an empty ledger with the given identity.
func New(id string) *Ledger {
	return &Ledger{
		id:       id,
		next:     0,
		columns:  make(map[Key]*erasedColumn),
		borrowed: nil,
		stages:   nil,
		marks:    make(map[string]map[Key]int),
	}
}

// ID returns the ledger identity, e.g. a ticker or a joined pair name.
func (l *Ledger) ID() string { return l.id }

// Attach binds one component value to an entity; build with With.
type Attach func(*Ledger, Entity)

// With returns an Attach that sets the component value under key.
func With[T any](key Key, value T) Attach {
	return func(l *Ledger, e Entity) {
		Set(l, key, e, value)
	}
}

// NewEntity mints the next entity and applies the given attachments.
func (l *Ledger) NewEntity(attach ...Attach) Entity {
	l.next++
	e := l.next
	for _, a := range attach {
		if a != nil {
			a(l, e)
		}
	}
	return e
}

// LastEntity returns the most recently minted entity, zero when none exist.
func (l *Ledger) LastEntity() Entity { return l.next }

// Delete forgets the entity in every column. Column slots are tombstoned so
// change marks keep their positions; iteration skips removed entities.
func (l *Ledger) Delete(e Entity) {
	for _, col := range l.columns {
		col.remove(e)
	}
}

// Remove drops one component from an entity, leaving the rest in place.
func (l *Ledger) Remove(key Key, e Entity) {
	if col, ok := l.columns[key]; ok {
		col.remove(e)
	}
}

// Has reports whether the entity carries the component.
func (l *Ledger) Has(key Key, e Entity) bool {
	col := l.lookup(key)
	return col != nil && col.has(e)
}

// Len reports the live row count of one column.
func (l *Ledger) Len(key Key) int {
	col := l.lookup(key)
	if col == nil {
		return 0
	}
	return col.live
}

// EnsureColumn materializes an empty column for key if absent.
func (l *Ledger) EnsureColumn(key Key) error {
	_, err := l.column(key, true)
	return err
}

// Borrow mounts the src column of another ledger under key `as` in this
// ledger, sharing storage. Borrowed columns serve reads and joins; writes to
// a borrowed key are rejected. Entities seen through a borrowed column belong
// to the lending ledger's namespace.
func (l *Ledger) Borrow(from *Ledger, as, src Key) error {
	col, err := from.column(src, true)
	if err != nil {
		return err
	}
	if _, exists := l.columns[as]; exists {
		return errs.New("ledger.borrow", errs.CodeConflict,
			errs.WithMessage("column "+NameOf(as)+" already present in "+l.id))
	}
	if l.borrowed == nil {
		l.borrowed = make(map[Key]*erasedColumn)
	}
	l.borrowed[as] = col
	return nil
}

// lookup resolves a column for reading, falling back to borrowed mounts.
func (l *Ledger) lookup(key Key) *erasedColumn {
	if col, ok := l.columns[key]; ok {
		return col
	}
	if col, ok := l.borrowed[key]; ok {
		return col
	}
	return nil
}

// column resolves or creates the owned column for key. Creation requires the
// key to be registered; when create is false a missing column is an error.
func (l *Ledger) column(key Key, create bool) (*erasedColumn, error) {
	if col, ok := l.columns[key]; ok {
		return col, nil
	}
	if col, ok := l.borrowed[key]; ok {
		return col, nil
	}
	if !create {
		return nil, errs.New("ledger.column", errs.CodeNotFound,
			errs.WithMessage("column "+NameOf(key)+" absent from "+l.id))
	}
	entry, ok := registryEntry(key)
	if !ok {
		return nil, errs.New("ledger.column", errs.CodeInvalid,
			errs.WithMessage("unregistered component key "+strconv.FormatUint(uint64(key), 10)))
	}
	col := entry.make(key)
	l.columns[key] = col
	return col, nil
}

// ensureRequested prepares the columns a system asks for before it runs.
// Missing numeric columns are registered lazily; anything else is an error.
func (l *Ledger) ensureRequested(sys System) error {
	for _, key := range sys.Components() {
		if l.lookup(key) != nil {
			continue
		}
		entry, ok := registryEntry(key)
		if !ok {
			return errs.New("ledger.stage", errs.CodeInvalid,
				errs.WithMessage("system "+sys.Name()+" requests unregistered key"))
		}
		if !entry.numeric {
			return errs.New("ledger.stage", errs.CodeInvalid,
				errs.WithMessage("system "+sys.Name()+" requests missing column "+entry.name))
		}
		l.columns[key] = entry.make(key)
	}
	return nil
}

// Set writes the component value for an entity, creating the column on first
// use. Writing to a borrowed key or with the wrong element type panics; both
// are programming errors, not runtime conditions.
func Set[T any](l *Ledger, key Key, e Entity, v T) {
	if _, ok := l.borrowed[key]; ok {
		if _, owned := l.columns[key]; !owned {
			panic("ledger: write to borrowed column " + NameOf(key))
		}
	}
	col, err := l.column(key, true)
	if err != nil {
		panic("ledger: " + err.Error())
	}
	typed := assertColumn[T](col)
	typed.set(e, v)
}

// Get reads the component value for an entity.
func Get[T any](l *Ledger, key Key, e Entity) (T, bool) {
	col := l.lookup(key)
	if col == nil {
		var zero T
		return zero, false
	}
	return assertColumn[T](col).get(e)
}

// Each iterates one column in insertion order. Returning false stops early.
func Each[T any](l *Ledger, key Key, fn func(Entity, T) bool) {
	col := l.lookup(key)
	if col == nil {
		return
	}
	assertColumn[T](col).each(fn)
}

// At returns the value in the i-th live slot of a column, counting from the
// newest when i is negative (At(key, -1) is the latest row).
func At[T any](l *Ledger, key Key, i int) (Entity, T, bool) {
	col := l.lookup(key)
	if col == nil {
		var zero T
		return 0, zero, false
	}
	return assertColumn[T](col).at(i)
}

// Rank returns an entity's position among a column's live rows in insertion
// order, the inverse of At with a non-negative index. It reports false when
// the entity lacks the component.
func (l *Ledger) Rank(key Key, e Entity) (int, bool) {
	col := l.lookup(key)
	if col == nil {
		return 0, false
	}
	slot, ok := col.index[e]
	if !ok {
		return 0, false
	}
	if col.live == len(col.entities) {
		return slot, true
	}
	rank := 0
	for s, ent := range col.entities {
		if s == slot {
			return rank, true
		}
		if ent != 0 {
			rank++
		}
	}
	return 0, false
}

// SetSingleton inserts the sole instance of a singleton component, minting a
// dedicated entity. Inserting a second instance is a conflict.
func SetSingleton[T any](l *Ledger, key Key, v T) (Entity, error) {
	col, err := l.column(key, true)
	if err != nil {
		return 0, err
	}
	if col.live > 0 {
		return 0, errs.New("ledger.singleton", errs.CodeConflict,
			errs.WithMessage("singleton "+NameOf(key)+" already present in "+l.id))
	}
	e := l.NewEntity()
	assertColumn[T](col).set(e, v)
	return e, nil
}

// SingletonValue returns the singleton instance; its absence is fatal to the
// caller's tick and reported as not found.
func SingletonValue[T any](l *Ledger, key Key) (T, error) {
	var zero T
	col := l.lookup(key)
	if col == nil || col.live == 0 {
		return zero, errs.New("ledger.singleton", errs.CodeNotFound,
			errs.WithMessage("singleton "+NameOf(key)+" absent from "+l.id))
	}
	_, v, ok := assertColumn[T](col).at(0)
	if !ok {
		return zero, errs.New("ledger.singleton", errs.CodeNotFound,
			errs.WithMessage("singleton "+NameOf(key)+" absent from "+l.id))
	}
	return v, nil
}

// UpdateSingleton mutates the singleton in place via fn.
func UpdateSingleton[T any](l *Ledger, key Key, fn func(*T)) error {
	col := l.lookup(key)
	if col == nil || col.live == 0 {
		return errs.New("ledger.singleton", errs.CodeNotFound,
			errs.WithMessage("singleton "+NameOf(key)+" absent from "+l.id))
	}
	typed := assertColumn[T](col)
	e, v, ok := typed.at(0)
	if !ok {
		return errs.New("ledger.singleton", errs.CodeNotFound,
			errs.WithMessage("singleton "+NameOf(key)+" absent from "+l.id))
	}
	fn(&v)
	typed.set(e, v)
	return nil
}
