package docdb

import (
	"log/slog"
	"strings"
)

// Collection is a named set of documents with one primary index and
// any number of secondary ordered indices and spatial indices, all
// maintained together on every Insert/Update/Delete. There is no
// cross-collection transaction here and no query language: a
// Collection only ever answers "give me documents between these two
// index keys" or "give me documents whose rectangle lies within this
// one", per the caller's own Codec.
type Collection struct {
	name    string
	store   *Store
	codec   Codec
	indexes []IndexDef // indexes[0] is the primary index
	spatial []SpatialIndexDef

	indexPos   map[string]int
	spatialPos map[string]int
}

func newCollection(store *Store, name string, codec Codec) (*Collection, error) {
	if strings.Contains(name, ".") {
		return nil, &BadNameError{Name: name}
	}
	indexes := codec.Indexes()
	if len(indexes) == 0 {
		return nil, &NoIndexError{Collection: name}
	}
	if !indexes[0].Unique {
		return nil, &NonUniquePrimaryError{Collection: name, Index: indexes[0].Name}
	}

	seen := make(map[string]bool, len(indexes))
	indexPos := make(map[string]int, len(indexes))
	for i, idx := range indexes {
		if seen[idx.Name] {
			return nil, &DuplicateIndexNameError{Collection: name, Index: idx.Name}
		}
		seen[idx.Name] = true
		indexPos[idx.Name] = i
	}
	spatial := codec.SpatialIndexes()
	spatialPos := make(map[string]int, len(spatial))
	for i, sdef := range spatial {
		if seen[sdef.Name] {
			return nil, &DuplicateIndexNameError{Collection: name, Index: sdef.Name}
		}
		seen[sdef.Name] = true
		spatialPos[sdef.Name] = i
	}

	return &Collection{
		name:       name,
		store:      store,
		codec:      codec,
		indexes:    indexes,
		spatial:    spatial,
		indexPos:   indexPos,
		spatialPos: spatialPos,
	}, nil
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) primary() IndexDef { return c.indexes[0] }

func (c *Collection) secondaryMapName(idx IndexDef) string { return c.name + "." + idx.Name }

func (c *Collection) spatialMapName(s SpatialIndexDef) string { return c.name + "." + s.Name }

// indexByName resolves a name to its IndexDef, where "" or the
// primary index's own name both mean the primary index.
func (c *Collection) indexByName(name string) (IndexDef, bool, error) {
	if name == "" || name == c.primary().Name {
		return c.primary(), true, nil
	}
	i, ok := c.indexPos[name]
	if !ok {
		return IndexDef{}, false, &UnknownIndexError{Collection: c.name, Index: name}
	}
	return c.indexes[i], i == 0, nil
}

func (c *Collection) spatialByName(name string) (SpatialIndexDef, error) {
	i, ok := c.spatialPos[name]
	if !ok {
		return SpatialIndexDef{}, &UnknownIndexError{Collection: c.name, Index: name}
	}
	return c.spatial[i], nil
}

// DecodeValue runs the collection's Codec.Decode; exposed so callers
// driving a Cursor directly can turn Cursor.Value() back into a
// document.
func (c *Collection) DecodeValue(raw []byte) (any, error) {
	return c.codec.Decode(raw)
}

func (c *Collection) primaryMap(tx BackendTx, create bool) (OrderedMap, error) {
	if create {
		return tx.CreateMapIfNotExists(c.name)
	}
	if m := tx.Map(c.name); m != nil {
		return m, nil
	}
	return emptyMap{}, nil
}

func (c *Collection) secondaryMap(tx BackendTx, idx IndexDef, create bool) (OrderedMap, error) {
	name := c.secondaryMapName(idx)
	if create {
		return tx.CreateMapIfNotExists(name)
	}
	if m := tx.Map(name); m != nil {
		return m, nil
	}
	return emptyMap{}, nil
}

func (c *Collection) spatialMap(tx BackendTx, s SpatialIndexDef, create bool) (OrderedMap, error) {
	name := c.spatialMapName(s)
	if create {
		return tx.CreateMapIfNotExists(name)
	}
	if m := tx.Map(name); m != nil {
		return m, nil
	}
	return emptyMap{}, nil
}

// secondaryEntryKey builds the byte key an index entry is stored
// under: unique indices store the generated key directly, non-unique
// indices suffix it with the primary key so repeats don't collide.
func secondaryEntryKey(idx IndexDef, genKey Key, primaryKey []byte) []byte {
	if idx.Unique {
		return genKey.Bytes()
	}
	return NewKeyBuilder().Bytes(genKey.Bytes()).Bytes(primaryKey).Key().Bytes()
}

// Insert adds a new document, failing with *DuplicateError if its
// primary key, or any unique secondary index key, already exists.
func (c *Collection) Insert(data any) (primaryKey []byte, err error) {
	tx, err := c.store.begin(true)
	if err != nil {
		return nil, err
	}
	defer tx.rollbackUnlessDone()
	defer startOpTimer(c.name, "insert").stop()

	pk, err := c.insertLocked(tx.btx, data)
	if err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return pk, nil
}

func (c *Collection) insertLocked(btx BackendTx, data any) ([]byte, error) {
	primary := c.primary()
	pk := primary.KeyGen(data).Bytes()

	pm, err := c.primaryMap(btx, true)
	if err != nil {
		return nil, backendErrf("create primary map", err)
	}
	if pm.Get(pk) != nil {
		c.store.logger.Debug("docdb: insert rejected, primary key exists", hexAttr("key", pk), slog.String("collection", c.name))
		return nil, &DuplicateError{Collection: c.name, Index: primary.Name, Key: pk}
	}

	raw, err := c.codec.Encode(data)
	if err != nil {
		return nil, collErrf(c.name, "", pk, err, "encode failed")
	}

	// Stage every secondary write (and its uniqueness check) before
	// touching anything, so a uniqueness violation on index N doesn't
	// leave indices 0..N-1 half-written. Spatial indices have no
	// uniqueness check and are written after the staged writes.
	type secWrite struct {
		m   OrderedMap
		key []byte
	}
	var writes []secWrite
	for _, idx := range c.indexes[1:] {
		sm, err := c.secondaryMap(btx, idx, true)
		if err != nil {
			return nil, backendErrf("create secondary map", err)
		}
		gk := idx.KeyGen(data)
		ek := secondaryEntryKey(idx, gk, pk)
		if idx.Unique && sm.Get(ek) != nil {
			return nil, &DuplicateError{Collection: c.name, Index: idx.Name, Key: ek}
		}
		writes = append(writes, secWrite{sm, ek})
	}

	if err := pm.Put(pk, raw); err != nil {
		return nil, backendErrf("put primary", err)
	}
	for _, w := range writes {
		if err := w.m.Put(w.key, pk); err != nil {
			return nil, backendErrf("put secondary", err)
		}
	}
	for _, sdef := range c.spatial {
		sm, err := c.spatialMap(btx, sdef, true)
		if err != nil {
			return nil, backendErrf("create spatial map", err)
		}
		si := &spatialIndex{name: sdef.Name, m: sm, boundsOf: sdef.BoundsOf}
		if err := si.insert(pk, sdef.BoundsOf(data)); err != nil {
			return nil, backendErrf("put spatial", err)
		}
	}
	return pk, nil
}

// removeIndexEntries drops every secondary/spatial index entry derived
// from oldData, the document previously stored at pk. Used by Update
// and Delete so a changed indexed field doesn't leave a stale entry
// behind.
func (c *Collection) removeIndexEntries(btx BackendTx, pk []byte, oldData any) error {
	for _, idx := range c.indexes[1:] {
		sm, err := c.secondaryMap(btx, idx, false)
		if err != nil {
			return backendErrf("open secondary map", err)
		}
		ek := secondaryEntryKey(idx, idx.KeyGen(oldData), pk)
		if err := sm.Delete(ek); err != nil {
			return backendErrf("delete secondary", err)
		}
	}
	for _, sdef := range c.spatial {
		sm, err := c.spatialMap(btx, sdef, false)
		if err != nil {
			return backendErrf("open spatial map", err)
		}
		si := &spatialIndex{name: sdef.Name, m: sm, boundsOf: sdef.BoundsOf}
		if err := si.remove(pk, sdef.BoundsOf(oldData)); err != nil {
			return backendErrf("delete spatial", err)
		}
	}
	return nil
}

// Update replaces the document whose primary key equals
// primary.KeyGen(data), returning that primary key. Per spec.md §4.3,
// a primary key not yet present is not an error: Update falls through
// to the same insert insertLocked performs, so callers never have to
// choose between Insert and Update up front.
func (c *Collection) Update(data any) ([]byte, error) {
	tx, err := c.store.begin(true)
	if err != nil {
		return nil, err
	}
	defer tx.rollbackUnlessDone()

	primary := c.primary()
	pk := primary.KeyGen(data).Bytes()
	pm, err := c.primaryMap(tx.btx, true)
	if err != nil {
		return nil, backendErrf("open primary map", err)
	}
	oldRaw := pm.Get(pk)
	if oldRaw == nil {
		pk, err := c.insertLocked(tx.btx, data)
		if err != nil {
			return nil, err
		}
		if err := tx.commit(); err != nil {
			return nil, err
		}
		return pk, nil
	}
	oldData, err := c.codec.Decode(oldRaw)
	if err != nil {
		return nil, collErrf(c.name, "", pk, err, "decode failed")
	}
	if err := c.removeIndexEntries(tx.btx, pk, oldData); err != nil {
		return nil, err
	}
	newRaw, err := c.codec.Encode(data)
	if err != nil {
		return nil, collErrf(c.name, "", pk, err, "encode failed")
	}
	if err := pm.Put(pk, newRaw); err != nil {
		return nil, backendErrf("put primary", err)
	}
	for _, idx := range c.indexes[1:] {
		sm, err := c.secondaryMap(tx.btx, idx, true)
		if err != nil {
			return nil, backendErrf("create secondary map", err)
		}
		gk := idx.KeyGen(data)
		ek := secondaryEntryKey(idx, gk, pk)
		if idx.Unique {
			if existing := sm.Get(ek); existing != nil {
				return nil, &DuplicateError{Collection: c.name, Index: idx.Name, Key: ek}
			}
		}
		if err := sm.Put(ek, pk); err != nil {
			return nil, backendErrf("put secondary", err)
		}
	}
	for _, sdef := range c.spatial {
		sm, err := c.spatialMap(tx.btx, sdef, true)
		if err != nil {
			return nil, backendErrf("create spatial map", err)
		}
		si := &spatialIndex{name: sdef.Name, m: sm, boundsOf: sdef.BoundsOf}
		if err := si.insert(pk, sdef.BoundsOf(data)); err != nil {
			return nil, backendErrf("put spatial", err)
		}
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return pk, nil
}

// Delete removes the document with the given primary key. It is a
// no-op, not an error, if the key is absent -- matching the backing
// OrderedMap.Delete contract.
func (c *Collection) Delete(primaryKey []byte) error {
	tx, err := c.store.begin(true)
	if err != nil {
		return err
	}
	defer tx.rollbackUnlessDone()

	if err := c.deleteLocked(tx.btx, primaryKey); err != nil {
		return err
	}
	return tx.commit()
}

func (c *Collection) deleteLocked(btx BackendTx, pk []byte) error {
	pm, err := c.primaryMap(btx, false)
	if err != nil {
		return backendErrf("open primary map", err)
	}
	oldRaw := pm.Get(pk)
	if oldRaw == nil {
		return nil
	}
	oldData, err := c.codec.Decode(oldRaw)
	if err != nil {
		return collErrf(c.name, "", pk, err, "decode failed")
	}
	if err := c.removeIndexEntries(btx, pk, oldData); err != nil {
		return err
	}
	if err := pm.Delete(pk); err != nil {
		return backendErrf("delete primary", err)
	}
	return nil
}

// Read fetches the document with the given primary key, returning
// ErrNoSuchElement if absent.
func (c *Collection) Read(primaryKey []byte) (any, error) {
	tx, err := c.store.begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.rollbackUnlessDone()
	defer startOpTimer(c.name, "read").stop()

	pm, err := c.primaryMap(tx.btx, false)
	if err != nil {
		return nil, backendErrf("open primary map", err)
	}
	raw := pm.Get(primaryKey)
	if raw == nil {
		return nil, ErrNoSuchElement
	}
	return c.codec.Decode(raw)
}

// ReadOrCreate fetches the document with the given primary key,
// inserting create()'s result (which must generate that same primary
// key) if none exists yet.
func (c *Collection) ReadOrCreate(primaryKey []byte, create func() any) (data any, created bool, err error) {
	tx, err := c.store.begin(true)
	if err != nil {
		return nil, false, err
	}
	defer tx.rollbackUnlessDone()

	pm, err := c.primaryMap(tx.btx, true)
	if err != nil {
		return nil, false, backendErrf("open primary map", err)
	}
	if raw := pm.Get(primaryKey); raw != nil {
		data, err := c.codec.Decode(raw)
		if err != nil {
			return nil, false, collErrf(c.name, "", primaryKey, err, "decode failed")
		}
		return data, false, nil
	}

	data = create()
	if _, err := c.insertLocked(tx.btx, data); err != nil {
		return nil, false, err
	}
	if err := tx.commit(); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Count reports how many entries of the named index (pass "" for the
// primary index) fall within [lower, upper] per the inclusivity
// flags. Start/End are valid bounds meaning "no bound".
func (c *Collection) Count(indexName string, lower, upper Key, lowerInc, upperInc bool) (int, error) {
	tx, err := c.store.begin(false)
	if err != nil {
		return 0, err
	}
	defer tx.rollbackUnlessDone()

	idx, isPrimary, err := c.indexByName(indexName)
	if err != nil {
		return 0, err
	}
	var m OrderedMap
	if isPrimary {
		m, err = c.primaryMap(tx.btx, false)
	} else {
		m, err = c.secondaryMap(tx.btx, idx, false)
	}
	if err != nil {
		return 0, backendErrf("open map", err)
	}
	return newCounter(m, lower, upper, lowerInc, upperInc).Count(), nil
}

// Query returns a Cursor over the named index's entries within
// [lower, upper], dereferenced to documents, windowed by opts.
func (c *Collection) Query(indexName string, lower, upper Key, lowerInc, upperInc bool, opts CursorOptions) (*Cursor, error) {
	tx, err := c.store.begin(false)
	if err != nil {
		return nil, err
	}

	idx, isPrimary, err := c.indexByName(indexName)
	if err != nil {
		tx.rollbackUnlessDone()
		return nil, err
	}

	var m, pm OrderedMap
	if isPrimary {
		m, err = c.primaryMap(tx.btx, false)
	} else {
		m, err = c.secondaryMap(tx.btx, idx, false)
		if err == nil {
			pm, err = c.primaryMap(tx.btx, false)
		}
	}
	if err != nil {
		tx.rollbackUnlessDone()
		return nil, backendErrf("open map", err)
	}

	var deref dereferencer
	if !isPrimary {
		deref = func(_, iv []byte) ([]byte, []byte, bool) {
			raw := pm.Get(iv)
			if raw == nil {
				return nil, nil, false
			}
			return iv, raw, true
		}
	}

	cur, err := newCursor(m, lower, upper, lowerInc, upperInc, deref, opts)
	if err != nil {
		tx.rollbackUnlessDone()
		return nil, err
	}
	cur.onClose = tx.rollbackUnlessDone
	return cur, nil
}

// DeleteRange deletes every document whose named index entry falls
// within [lower, upper], removing each one (and its own secondary and
// spatial index entries) the same way Delete would.
func (c *Collection) DeleteRange(indexName string, lower, upper Key, lowerInc, upperInc bool) (int, error) {
	tx, err := c.store.begin(true)
	if err != nil {
		return 0, err
	}
	defer tx.rollbackUnlessDone()

	idx, isPrimary, err := c.indexByName(indexName)
	if err != nil {
		return 0, err
	}
	var m OrderedMap
	if isPrimary {
		m, err = c.primaryMap(tx.btx, false)
	} else {
		m, err = c.secondaryMap(tx.btx, idx, false)
	}
	if err != nil {
		return 0, backendErrf("open map", err)
	}

	var pks [][]byte
	rc := newRangeCursor(m, lower, upper, lowerInc, upperInc, false)
	for {
		k, v := rc.advance()
		if k == nil {
			break
		}
		if isPrimary {
			pks = append(pks, append([]byte(nil), k...))
		} else {
			pks = append(pks, append([]byte(nil), v...))
		}
	}

	n := 0
	for _, pk := range pks {
		if err := c.deleteLocked(tx.btx, pk); err != nil {
			return n, err
		}
		n++
	}
	return n, tx.commit()
}

// ContainedBy returns every document whose spatial index rectangle
// lies entirely within query.
func (c *Collection) ContainedBy(spatialIndexName string, query Rect) ([]any, error) {
	tx, err := c.store.begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.rollbackUnlessDone()

	sdef, err := c.spatialByName(spatialIndexName)
	if err != nil {
		return nil, err
	}
	sm, err := c.spatialMap(tx.btx, sdef, false)
	if err != nil {
		return nil, backendErrf("open spatial map", err)
	}
	si := &spatialIndex{name: sdef.Name, m: sm, boundsOf: sdef.BoundsOf}
	pks, err := si.containedBy(query)
	if err != nil {
		return nil, err
	}
	pm, err := c.primaryMap(tx.btx, false)
	if err != nil {
		return nil, backendErrf("open primary map", err)
	}
	out := make([]any, 0, len(pks))
	for _, pk := range pks {
		raw := pm.Get(pk)
		if raw == nil {
			continue // stale spatial entry, document deleted concurrently
		}
		data, err := c.codec.Decode(raw)
		if err != nil {
			return nil, collErrf(c.name, sdef.Name, pk, err, "decode failed")
		}
		out = append(out, data)
	}
	return out, nil
}

// Stats reports backend statistics for the primary map and every
// secondary/spatial index map, keyed by map name.
func (c *Collection) Stats() (map[string]MapStats, error) {
	tx, err := c.store.begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.rollbackUnlessDone()

	out := make(map[string]MapStats)
	pm, err := c.primaryMap(tx.btx, false)
	if err != nil {
		return nil, backendErrf("open primary map", err)
	}
	out[c.name] = pm.Stats()
	for _, idx := range c.indexes[1:] {
		sm, err := c.secondaryMap(tx.btx, idx, false)
		if err != nil {
			return nil, backendErrf("open secondary map", err)
		}
		out[c.secondaryMapName(idx)] = sm.Stats()
	}
	for _, sdef := range c.spatial {
		sm, err := c.spatialMap(tx.btx, sdef, false)
		if err != nil {
			return nil, backendErrf("open spatial map", err)
		}
		out[c.spatialMapName(sdef)] = sm.Stats()
	}
	return out, nil
}

// Reconcile walks the primary map and rebuilds any secondary or
// spatial index entry that is missing, returning how many entries it
// had to repair. It does not remove orphaned index entries that point
// at a primary key which no longer exists; Rebuild does that by
// starting the whole index over.
func (c *Collection) Reconcile() (repaired int, err error) {
	tx, err := c.store.begin(true)
	if err != nil {
		return 0, err
	}
	defer tx.rollbackUnlessDone()

	pm, err := c.primaryMap(tx.btx, true)
	if err != nil {
		return 0, backendErrf("open primary map", err)
	}

	rc := newRangeCursor(pm, Start, End, true, true, false)
	for {
		pk, raw := rc.advance()
		if pk == nil {
			break
		}
		data, err := c.codec.Decode(raw)
		if err != nil {
			return repaired, collErrf(c.name, "", pk, err, "decode failed during reconcile")
		}
		for _, idx := range c.indexes[1:] {
			sm, err := c.secondaryMap(tx.btx, idx, true)
			if err != nil {
				return repaired, backendErrf("create secondary map", err)
			}
			ek := secondaryEntryKey(idx, idx.KeyGen(data), pk)
			if sm.Get(ek) == nil {
				if err := sm.Put(ek, pk); err != nil {
					return repaired, backendErrf("put secondary", err)
				}
				repaired++
			}
		}
		for _, sdef := range c.spatial {
			sm, err := c.spatialMap(tx.btx, sdef, true)
			if err != nil {
				return repaired, backendErrf("create spatial map", err)
			}
			r := sdef.BoundsOf(data)
			key := spatialEntryKey(r, pk).Bytes()
			if sm.Get(key) == nil {
				if err := sm.Put(key, encodeSpatialValue(pk, r)); err != nil {
					return repaired, backendErrf("put spatial", err)
				}
				repaired++
			}
		}
	}
	return repaired, tx.commit()
}

// Rebuild drops and regenerates every secondary and spatial index from
// the primary map, discarding any stale entries Reconcile would have
// left behind.
func (c *Collection) Rebuild() error {
	tx, err := c.store.begin(true)
	if err != nil {
		return err
	}
	defer tx.rollbackUnlessDone()

	for _, idx := range c.indexes[1:] {
		name := c.secondaryMapName(idx)
		if err := tx.btx.DeleteMap(name); err != nil && err != ErrMapNotFound {
			return backendErrf("delete secondary map", err)
		}
	}
	for _, sdef := range c.spatial {
		name := c.spatialMapName(sdef)
		if err := tx.btx.DeleteMap(name); err != nil && err != ErrMapNotFound {
			return backendErrf("delete spatial map", err)
		}
	}

	pm, err := c.primaryMap(tx.btx, true)
	if err != nil {
		return backendErrf("open primary map", err)
	}
	rc := newRangeCursor(pm, Start, End, true, true, false)
	for {
		pk, raw := rc.advance()
		if pk == nil {
			break
		}
		data, err := c.codec.Decode(raw)
		if err != nil {
			return collErrf(c.name, "", pk, err, "decode failed during rebuild")
		}
		for _, idx := range c.indexes[1:] {
			sm, err := c.secondaryMap(tx.btx, idx, true)
			if err != nil {
				return backendErrf("create secondary map", err)
			}
			ek := secondaryEntryKey(idx, idx.KeyGen(data), pk)
			if err := sm.Put(ek, pk); err != nil {
				return backendErrf("put secondary", err)
			}
		}
		for _, sdef := range c.spatial {
			sm, err := c.spatialMap(tx.btx, sdef, true)
			if err != nil {
				return backendErrf("create spatial map", err)
			}
			r := sdef.BoundsOf(data)
			if err := sm.Put(spatialEntryKey(r, pk).Bytes(), encodeSpatialValue(pk, r)); err != nil {
				return backendErrf("put spatial", err)
			}
		}
	}
	return tx.commit()
}

// emptyMap is the zero-value OrderedMap returned for an index that has
// never been written to yet, so reads against a not-yet-created
// collection or index behave like reads against an empty one instead
// of requiring every caller to nil-check.
type emptyMap struct{}

func (emptyMap) Get([]byte) []byte                 { return nil }
func (emptyMap) Put(_, _ []byte) error              { return backendErrf("put", ErrMapNotFound) }
func (emptyMap) Delete([]byte) error                { return nil }
func (emptyMap) First() ([]byte, []byte)            { return nil, nil }
func (emptyMap) Last() ([]byte, []byte)             { return nil, nil }
func (emptyMap) Ceiling([]byte) ([]byte, []byte)    { return nil, nil }
func (emptyMap) Floor([]byte) ([]byte, []byte)      { return nil, nil }
func (emptyMap) Higher([]byte) ([]byte, []byte)     { return nil, nil }
func (emptyMap) Lower([]byte) ([]byte, []byte)      { return nil, nil }
func (emptyMap) Stats() MapStats                    { return MapStats{} }
func (emptyMap) Count() int                         { return 0 }
