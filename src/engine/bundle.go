package engine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"syndrodm/src/driver"
	"syndrodm/src/helpers"
)

// Bundle is a collection of documents, kept in insertion order.
type Bundle struct {
	name      string
	db        *Database
	documents []bson.D
	indexes   []indexSpec
}

func (b *Bundle) Name() string {
	return b.name
}

// Len returns the number of stored documents.
func (b *Bundle) Len() int {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	return len(b.documents)
}

func (b *Bundle) Find(ctx context.Context, filter any, opts driver.FindOptions) (driver.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := helpers.ToDocument(filter)
	if err != nil {
		return nil, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandFind, b.name, f); err != nil {
		return nil, err
	}
	docs, err := b.queryLocked(f, opts.Sort, opts.Skip, opts.Limit, opts.Projection)
	if err != nil {
		return nil, err
	}
	return newCursor(docs)
}

func (b *Bundle) FindOne(ctx context.Context, filter any, opts driver.FindOptions) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := helpers.ToDocument(filter)
	if err != nil {
		return nil, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandFindOne, b.name, f); err != nil {
		return nil, err
	}
	docs, err := b.queryLocked(f, opts.Sort, opts.Skip, 1, opts.Projection)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, driver.ErrNoDocuments
	}
	return bson.Marshal(docs[0])
}

// queryLocked returns copies of the matching documents after sort, skip,
// limit and projection.
func (b *Bundle) queryLocked(filter, sortSpec bson.D, skip, limit int64, projection bson.D) ([]bson.D, error) {
	matched, err := filterDocuments(b.documents, filter)
	if err != nil {
		return nil, err
	}
	if err := sortDocuments(matched, sortSpec); err != nil {
		return nil, err
	}
	if skip > 0 {
		if skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[skip:]
		}
	}
	if limit > 0 && limit < int64(len(matched)) {
		matched = matched[:limit]
	}

	out := make([]bson.D, 0, len(matched))
	for _, d := range matched {
		projected, err := projectDocument(cloneD(d), projection)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

func (b *Bundle) InsertOne(ctx context.Context, doc any, opts driver.WriteOptions) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := helpers.ToDocument(doc)
	if err != nil {
		return nil, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandInsert, b.name, d); err != nil {
		return nil, err
	}
	return b.insertLocked(d)
}

// InsertMany inserts in order and stops at the first failure, returning
// the ids inserted so far alongside the error.
func (b *Bundle) InsertMany(ctx context.Context, docs []any, opts driver.WriteOptions) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prepared := make([]bson.D, 0, len(docs))
	for _, doc := range docs {
		d, err := helpers.ToDocument(doc)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, d)
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandInsert, b.name, bson.D{{Key: "documents", Value: int32(len(prepared))}}); err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(prepared))
	for i, d := range prepared {
		id, err := b.insertLocked(d)
		if err != nil {
			return ids, fmt.Errorf("insert %d of %d: %w", i+1, len(prepared), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *Bundle) insertLocked(d bson.D) (any, error) {
	id, ok := getField(d, "_id")
	if !ok || id == nil {
		id = primitive.NewObjectID()
		d = append(bson.D{{Key: "_id", Value: id}}, withoutKey(d, "_id")...)
	}
	if err := b.checkUniqueLocked(d, -1); err != nil {
		return nil, err
	}
	b.documents = append(b.documents, d)
	return id, nil
}

func (b *Bundle) UpdateOne(ctx context.Context, filter, update any, opts driver.UpdateOptions) (*driver.UpdateResult, error) {
	return b.update(ctx, filter, update, opts, false)
}

func (b *Bundle) UpdateMany(ctx context.Context, filter, update any, opts driver.UpdateOptions) (*driver.UpdateResult, error) {
	return b.update(ctx, filter, update, opts, true)
}

func (b *Bundle) update(ctx context.Context, filter, update any, opts driver.UpdateOptions, many bool) (*driver.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := helpers.ToDocument(filter)
	if err != nil {
		return nil, err
	}
	u, err := helpers.ToDocument(update)
	if err != nil {
		return nil, err
	}
	if len(u) == 0 || !isOperatorDocument(u) {
		return nil, fmt.Errorf("update document requires atomic operators")
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandUpdate, b.name, bson.D{{Key: "q", Value: f}, {Key: "u", Value: u}}); err != nil {
		return nil, err
	}

	now := b.db.now()
	result := &driver.UpdateResult{}
	for i, d := range b.documents {
		ok, err := matchDocument(d, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result.MatchedCount++
		updated, err := applyUpdate(cloneD(d), u, false, now)
		if err != nil {
			return nil, err
		}
		if err := b.checkUniqueLocked(updated, i); err != nil {
			return nil, err
		}
		if !valuesEqual(d, updated) {
			result.ModifiedCount++
		}
		b.documents[i] = updated
		if !many {
			break
		}
	}

	if result.MatchedCount == 0 && opts.Upsert {
		seeded, err := applyUpdate(seedFromFilter(f), u, true, now)
		if err != nil {
			return nil, err
		}
		id, err := b.insertLocked(seeded)
		if err != nil {
			return nil, err
		}
		result.UpsertedCount = 1
		result.UpsertedID = id
	}
	return result, nil
}

func (b *Bundle) ReplaceOne(ctx context.Context, filter, doc any, opts driver.UpdateOptions) (*driver.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := helpers.ToDocument(filter)
	if err != nil {
		return nil, err
	}
	r, err := helpers.ToDocument(doc)
	if err != nil {
		return nil, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandReplace, b.name, bson.D{{Key: "q", Value: f}, {Key: "u", Value: r}}); err != nil {
		return nil, err
	}

	result := &driver.UpdateResult{}
	for i, d := range b.documents {
		ok, err := matchDocument(d, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result.MatchedCount = 1
		replaced, err := replaceDocument(d, r)
		if err != nil {
			return nil, err
		}
		if err := b.checkUniqueLocked(replaced, i); err != nil {
			return nil, err
		}
		if !valuesEqual(d, replaced) {
			result.ModifiedCount = 1
		}
		b.documents[i] = replaced
		return result, nil
	}

	if opts.Upsert {
		seeded := seedFromFilter(f)
		if id, ok := getField(r, "_id"); ok {
			seeded = bson.D{{Key: "_id", Value: id}}
		} else if id, ok := getField(seeded, "_id"); ok {
			seeded = bson.D{{Key: "_id", Value: id}}
		} else {
			seeded = bson.D{}
		}
		seeded = append(seeded, withoutKey(r, "_id")...)
		id, err := b.insertLocked(seeded)
		if err != nil {
			return nil, err
		}
		result.UpsertedCount = 1
		result.UpsertedID = id
	}
	return result, nil
}

func (b *Bundle) DeleteOne(ctx context.Context, filter any, opts driver.WriteOptions) (*driver.DeleteResult, error) {
	return b.delete(ctx, filter, false)
}

func (b *Bundle) DeleteMany(ctx context.Context, filter any, opts driver.WriteOptions) (*driver.DeleteResult, error) {
	return b.delete(ctx, filter, true)
}

func (b *Bundle) delete(ctx context.Context, filter any, many bool) (*driver.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := helpers.ToDocument(filter)
	if err != nil {
		return nil, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandDelete, b.name, f); err != nil {
		return nil, err
	}

	kept := make([]bson.D, 0, len(b.documents))
	var deleted int64
	for _, d := range b.documents {
		if many || deleted == 0 {
			ok, err := matchDocument(d, f)
			if err != nil {
				return nil, err
			}
			if ok {
				deleted++
				continue
			}
		}
		kept = append(kept, d)
	}
	b.documents = kept
	return &driver.DeleteResult{DeletedCount: deleted}, nil
}

func (b *Bundle) CountDocuments(ctx context.Context, filter any, opts driver.CountOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := helpers.ToDocument(filter)
	if err != nil {
		return 0, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandCount, b.name, f); err != nil {
		return 0, err
	}
	matched, err := filterDocuments(b.documents, f)
	if err != nil {
		return 0, err
	}
	n := int64(len(matched)) - opts.Skip
	if n < 0 {
		n = 0
	}
	if opts.Limit > 0 && n > opts.Limit {
		n = opts.Limit
	}
	return n, nil
}

func (b *Bundle) Aggregate(ctx context.Context, pipeline any, opts driver.WriteOptions) (driver.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stages, err := helpers.ToArray(pipeline)
	if err != nil {
		return nil, err
	}

	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandAggregate, b.name, bson.D{{Key: "pipeline", Value: stages}}); err != nil {
		return nil, err
	}
	docs := make([]bson.D, 0, len(b.documents))
	for _, d := range b.documents {
		docs = append(docs, cloneD(d))
	}
	out, err := runPipeline(docs, stages)
	if err != nil {
		return nil, err
	}
	return newCursor(out)
}

func (b *Bundle) ListIndexes(ctx context.Context) ([]bson.D, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandListIndexes, b.name, nil); err != nil {
		return nil, err
	}
	out := []bson.D{idIndex().describe()}
	for _, idx := range b.indexes {
		out = append(out, idx.describe())
	}
	return out, nil
}

// CreateIndexes adds the given indexes. Re-creating an index with the
// same name and keys is a no-op.
func (b *Bundle) CreateIndexes(ctx context.Context, models []driver.IndexModel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, m := range models {
		if m.Name == "" || len(m.Keys) == 0 {
			return fmt.Errorf("index needs a name and at least one key")
		}
		if err := b.db.journal.AddEntry(CommandCreateIndexes, b.name, bson.D{{Key: "name", Value: m.Name}, {Key: "key", Value: m.Keys}}); err != nil {
			return err
		}
		if m.Name == idIndexName {
			continue
		}
		if i := b.findIndexLocked(m.Name); i >= 0 {
			if !valuesEqual(b.indexes[i].Keys, m.Keys) {
				return fmt.Errorf("an index named %s already exists with different keys", m.Name)
			}
			continue
		}
		spec := indexSpec{Name: m.Name, Keys: cloneD(m.Keys), Options: cloneD(m.Options)}
		if spec.unique() {
			if err := b.checkExistingUniqueLocked(spec); err != nil {
				return err
			}
		}
		b.indexes = append(b.indexes, spec)
		b.db.logger.Debugf("Created index %s on bundle %s", m.Name, b.name)
	}
	return nil
}

func (b *Bundle) checkExistingUniqueLocked(spec indexSpec) error {
	seen := make([]bson.A, 0, len(b.documents))
	for _, d := range b.documents {
		key, ok := indexKey(d, spec)
		if !ok {
			continue
		}
		for _, s := range seen {
			if valuesEqual(s, key) {
				return fmt.Errorf("%w: cannot build unique index %s, dup key %v", ErrDuplicateKey, spec.Name, key)
			}
		}
		seen = append(seen, key)
	}
	return nil
}

func (b *Bundle) DropIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if err := b.db.journal.AddEntry(CommandDropIndex, b.name, bson.D{{Key: "name", Value: name}}); err != nil {
		return err
	}
	if name == idIndexName {
		return fmt.Errorf("cannot drop _id index")
	}
	i := b.findIndexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	b.indexes = append(b.indexes[:i:i], b.indexes[i+1:]...)
	b.db.logger.Debugf("Dropped index %s on bundle %s", name, b.name)
	return nil
}

func withoutKey(d bson.D, key string) bson.D {
	out := make(bson.D, 0, len(d))
	for _, e := range d {
		if e.Key != key {
			out = append(out, e)
		}
	}
	return out
}
