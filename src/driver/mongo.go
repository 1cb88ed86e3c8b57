package driver

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"syndrodm/src/logging"
)

// MongoDatabase adapts a mongo-driver database to Database.
type MongoDatabase struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.SugaredLogger
}

// Connect dials uri, pings the primary and binds the named database. A
// non-nil registry replaces the client's default bson registry.
func Connect(ctx context.Context, uri, database string, registry *bsoncodec.Registry, logger *zap.SugaredLogger) (*MongoDatabase, error) {
	logger = logging.OrNop(logger)
	opts := options.Client().ApplyURI(uri)
	if registry != nil {
		opts.SetRegistry(registry)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping %s: %w", uri, err)
	}

	logger.Infof("Connected to database %s", database)
	return &MongoDatabase{client: client, db: client.Database(database), logger: logger}, nil
}

func (m *MongoDatabase) Name() string {
	return m.db.Name()
}

func (m *MongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: m.db.Collection(name), db: m.db}
}

func (m *MongoDatabase) StartSession(ctx context.Context) (Session, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return &mongoSession{sess: sess}, nil
}

// Disconnect closes the underlying client.
func (m *MongoDatabase) Disconnect(ctx context.Context) error {
	m.logger.Infof("Disconnecting from database %s", m.db.Name())
	return m.client.Disconnect(ctx)
}

type mongoSession struct {
	sess mongo.Session
}

func (s *mongoSession) ID() string {
	return s.sess.ID().String()
}

func (s *mongoSession) StartTransaction(context.Context) error {
	return s.sess.StartTransaction()
}

func (s *mongoSession) CommitTransaction(ctx context.Context) error {
	return s.sess.CommitTransaction(ctx)
}

func (s *mongoSession) AbortTransaction(ctx context.Context) error {
	return s.sess.AbortTransaction(ctx)
}

func (s *mongoSession) EndSession(ctx context.Context) {
	s.sess.EndSession(ctx)
}

// withSession binds ctx to the mongo session behind s, if any.
func withSession(ctx context.Context, s Session) context.Context {
	ms, ok := s.(*mongoSession)
	if !ok || ms == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, ms.sess)
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }
func (c *mongoCursor) Current() bson.Raw             { return c.cur.Current }
func (c *mongoCursor) Err() error                    { return c.cur.Err() }
func (c *mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
	db   *mongo.Database
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) Find(ctx context.Context, filter any, opts FindOptions) (Cursor, error) {
	o := options.Find()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	cur, err := c.coll.Find(withSession(ctx, opts.Session), filter, o)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter any, opts FindOptions) (bson.Raw, error) {
	o := options.FindOne()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if opts.Sort != nil {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	raw, err := c.coll.FindOne(withSession(ctx, opts.Session), filter, o).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNoDocuments
	}
	return raw, err
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc any, opts WriteOptions) (any, error) {
	res, err := c.coll.InsertOne(withSession(ctx, opts.Session), doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []any, opts WriteOptions) ([]any, error) {
	res, err := c.coll.InsertMany(withSession(ctx, opts.Session), docs)
	if res == nil {
		return nil, err
	}
	return res.InsertedIDs, err
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts UpdateOptions) (*UpdateResult, error) {
	res, err := c.coll.UpdateOne(withSession(ctx, opts.Session), filter, update, options.Update().SetUpsert(opts.Upsert))
	return updateResult(res), err
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter, update any, opts UpdateOptions) (*UpdateResult, error) {
	res, err := c.coll.UpdateMany(withSession(ctx, opts.Session), filter, update, options.Update().SetUpsert(opts.Upsert))
	return updateResult(res), err
}

func (c *mongoCollection) ReplaceOne(ctx context.Context, filter, doc any, opts UpdateOptions) (*UpdateResult, error) {
	res, err := c.coll.ReplaceOne(withSession(ctx, opts.Session), filter, doc, options.Replace().SetUpsert(opts.Upsert))
	return updateResult(res), err
}

func updateResult(res *mongo.UpdateResult) *UpdateResult {
	if res == nil {
		return nil
	}
	return &UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter any, opts WriteOptions) (*DeleteResult, error) {
	res, err := c.coll.DeleteOne(withSession(ctx, opts.Session), filter)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter any, opts WriteOptions) (*DeleteResult, error) {
	res, err := c.coll.DeleteMany(withSession(ctx, opts.Session), filter)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter any, opts CountOptions) (int64, error) {
	o := options.Count()
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	return c.coll.CountDocuments(withSession(ctx, opts.Session), filter, o)
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline any, opts WriteOptions) (Cursor, error) {
	cur, err := c.coll.Aggregate(withSession(ctx, opts.Session), pipeline)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

func (c *mongoCollection) ListIndexes(ctx context.Context) ([]bson.D, error) {
	cur, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var out []bson.D
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIndexes issues one createIndexes command so arbitrary index
// options pass through without a typed mapping.
func (c *mongoCollection) CreateIndexes(ctx context.Context, models []IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	specs := make(bson.A, 0, len(models))
	for _, m := range models {
		spec := bson.D{{Key: "key", Value: m.Keys}, {Key: "name", Value: m.Name}}
		spec = append(spec, m.Options...)
		specs = append(specs, spec)
	}
	cmd := bson.D{{Key: "createIndexes", Value: c.coll.Name()}, {Key: "indexes", Value: specs}}
	return c.db.RunCommand(ctx, cmd).Err()
}

func (c *mongoCollection) DropIndex(ctx context.Context, name string) error {
	_, err := c.coll.Indexes().DropOne(ctx, name)
	return err
}
