package ledger

// Change tracking: each (system, component) pair carries a high-water mark
// into the component's slot sequence. A completed visit consumes every
// requested column up to its current end; systems that never visit keep
// their marks, so a slow consumer still sees every row exactly once.

// EachNew iterates entities appended to the system's requested components
// since the system's previous visit, in insertion order of the smallest
// requested column, filtered to entities carrying every requested component.
// A completed visit advances the system's marks to the current column ends;
// stopping early counts the stopped-on row as visited and leaves the rest
// pending for the next call. Marks are keyed by the requested key, so a
// borrowed column is tracked under its alias here, not the lender's key.
func (l *Ledger) EachNew(sys System, fn func(Entity) bool) {
	keys := sys.Components()
	if len(keys) == 0 {
		return
	}
	marks := l.systemMarks(sys.Name())

	driverKey, driver := l.smallestColumn(keys)
	if driver != nil {
		from := marks[driverKey]
		if from > driver.slots() {
			from = driver.slots()
		}
		seen := make(map[Key]int, len(keys))
	scan:
		for slot := from; slot < driver.slots(); slot++ {
			e := driver.entityAt(slot)
			if e == 0 {
				continue
			}
			for _, key := range keys {
				if key == driverKey {
					continue
				}
				col := l.lookup(key)
				i, ok := col.index[e]
				if !ok {
					continue scan
				}
				if i+1 > seen[key] {
					seen[key] = i + 1
				}
			}
			if !fn(e) {
				marks[driverKey] = slot + 1
				for key, mark := range seen {
					if mark > marks[key] {
						marks[key] = mark
					}
				}
				return
			}
		}
	}

	for _, key := range keys {
		if col := l.lookup(key); col != nil {
			marks[key] = col.slots()
		}
	}
}

// NewEntities collects the result of EachNew into a slice.
func (l *Ledger) NewEntities(sys System) []Entity {
	var out []Entity
	l.EachNew(sys, func(e Entity) bool {
		out = append(out, e)
		return true
	})
	return out
}

// FastForward advances the named system's marks to the current end of every
// column this ledger holds. The day-close pass uses it so the next session
// presents only rows created after the boundary.
func (l *Ledger) FastForward(system string) {
	marks := l.systemMarks(system)
	for key, col := range l.columns {
		marks[key] = col.slots()
	}
	for key, col := range l.borrowed {
		marks[key] = col.slots()
	}
}

// FastForwardAll advances every recorded system's marks to the current column
// ends. Rows already consumed stay consumed; rows pending at the boundary are
// dropped from every new-since view.
func (l *Ledger) FastForwardAll() {
	for system := range l.marks {
		l.FastForward(system)
	}
}

func (l *Ledger) systemMarks(system string) map[Key]int {
	marks, ok := l.marks[system]
	if !ok {
		marks = make(map[Key]int)
		l.marks[system] = marks
	}
	return marks
}

// smallestColumn picks the requested column with the fewest live rows and
// reports which requested key resolved to it. The key matters for borrowed
// columns, where the column's own key is the lender's, not the alias the
// caller asked for. Missing columns count as empty and win immediately.
func (l *Ledger) smallestColumn(keys []Key) (Key, *erasedColumn) {
	var (
		bestKey Key
		best    *erasedColumn
	)
	for _, key := range keys {
		col := l.lookup(key)
		if col == nil {
			return 0, nil
		}
		if best == nil || col.live < best.live {
			bestKey, best = key, col
		}
	}
	return bestKey, best
}

// Join iterates entities carrying every key in keys and none in without, in
// insertion order of the smallest keyed column. Iteration cost is bounded by
// that column's size. Returning false stops early.
func (l *Ledger) Join(keys []Key, without []Key, fn func(Entity) bool) {
	if len(keys) == 0 {
		return
	}
	driverKey, driver := l.smallestColumn(keys)
	if driver == nil {
		return
	}
scan:
	for slot := 0; slot < driver.slots(); slot++ {
		e := driver.entityAt(slot)
		if e == 0 {
			continue
		}
		for _, key := range keys {
			if key == driverKey {
				continue
			}
			if !l.Has(key, e) {
				continue scan
			}
		}
		for _, key := range without {
			if l.Has(key, e) {
				continue scan
			}
		}
		if !fn(e) {
			return
		}
	}
}
