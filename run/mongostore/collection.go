package mongostore

import (
	"context"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// The narrow interfaces below let Store operate against either a real
// mongo.Collection or a fake in unit tests, mirroring
// eventlog/mongostore/collection.go's seam (itself grounded on
// features/run/mongo/clients/mongo/client.go).

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

// runsCollection is the subset of *mongo.Collection used for the run
// documents collection.
type runsCollection interface {
	InsertOne(ctx context.Context, doc any) error
	FindOne(ctx context.Context, filter any) singleResult
	UpdateOne(ctx context.Context, filter, update any) (matched int64, err error)
	DeleteOne(ctx context.Context, filter any) error
	Indexes() indexView
}

// auditCollection is the subset of *mongo.Collection used for the approval
// audit log.
type auditCollection interface {
	InsertOne(ctx context.Context, doc any) error
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursorResult, error)
	DeleteMany(ctx context.Context, filter any) error
	Indexes() indexView
}

type mongoRunsCollection struct {
	coll *mongodriver.Collection
}

func (c mongoRunsCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoRunsCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoRunsCollection) UpdateOne(ctx context.Context, filter, update any) (int64, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c mongoRunsCollection) DeleteOne(ctx context.Context, filter any) error {
	_, err := c.coll.DeleteOne(ctx, filter)
	return err
}

func (c mongoRunsCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoAuditCollection struct {
	coll *mongodriver.Collection
}

func (c mongoAuditCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoAuditCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursorResult, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoAuditCollection) DeleteMany(ctx context.Context, filter any) error {
	_, err := c.coll.DeleteMany(ctx, filter)
	return err
}

func (c mongoAuditCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}
