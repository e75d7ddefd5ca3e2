package mongostore

import (
	"context"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// The narrow interfaces below let Store operate against either a real
// mongo.Collection or a fake in unit tests, mirroring
// features/run/mongo/clients/mongo/client.go's collection/indexView/
// singleResult seam.

type singleResult interface {
	Decode(val any) error
}

type cursorResult interface {
	All(ctx context.Context, out any) error
	Close(ctx context.Context) error
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error)
}

// eventsCollection is the subset of *mongo.Collection used for the events
// collection.
type eventsCollection interface {
	InsertOne(ctx context.Context, doc any) error
	FindOne(ctx context.Context, filter any) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursorResult, error)
	Aggregate(ctx context.Context, pipeline any) (cursorResult, error)
	Indexes() indexView
}

// countersCollection is the subset of *mongo.Collection used for the
// per-run sequence counters collection.
type countersCollection interface {
	FindOne(ctx context.Context, filter any) singleResult
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...*options.FindOneAndUpdateOptions) singleResult
}

type mongoEventsCollection struct {
	coll *mongodriver.Collection
}

func (c mongoEventsCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoEventsCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoEventsCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursorResult, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoEventsCollection) Aggregate(ctx context.Context, pipeline any) (cursorResult, error) {
	return c.coll.Aggregate(ctx, pipeline)
}

func (c mongoEventsCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCountersCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCountersCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCountersCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...*options.FindOneAndUpdateOptions) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}
