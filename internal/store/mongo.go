package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore maps collections one to one onto MongoDB collections. The JSON
// body is stored as a native sub-document so it stays queryable from the shell.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoDoc struct {
	ID      string `bson:"_id"`
	Version int64  `bson:"version"`
	Body    bson.D `bson:"body"`
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{
		client: client,
		db:     client.Database(database),
	}
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var m mongoDoc
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get "+collection, err)
	}
	return fromMongo(m)
}

func (s *MongoStore) Query(ctx context.Context, collection string, match Predicate) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, unavailable("query "+collection, err)
	}

	var raw []mongoDoc
	if err := cur.All(ctx, &raw); err != nil {
		return nil, unavailable("query "+collection, err)
	}

	docs := make([]Document, 0, len(raw))
	for _, m := range raw {
		d, err := fromMongo(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return filter(docs, match), nil
}

func (s *MongoStore) Upsert(ctx context.Context, collection string, doc Document) (*Document, error) {
	var body bson.D
	if err := bson.UnmarshalExtJSON(doc.Body, false, &body); err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", collection, doc.ID, err)
	}

	coll := s.db.Collection(collection)
	next := mongoDoc{ID: doc.ID, Version: doc.Version + 1, Body: body}

	if doc.Version == 0 {
		if _, err := coll.InsertOne(ctx, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrConflict
			}
			return nil, unavailable("insert "+collection, err)
		}
		return &Document{ID: doc.ID, Body: doc.Body, Version: next.Version}, nil
	}

	sel := bson.D{
		{Key: "_id", Value: doc.ID},
		{Key: "version", Value: doc.Version},
	}
	res, err := coll.ReplaceOne(ctx, sel, next)
	if err != nil {
		return nil, unavailable("replace "+collection, err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrConflict
	}
	return &Document{ID: doc.ID, Body: doc.Body, Version: next.Version}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func fromMongo(m mongoDoc) (*Document, error) {
	if m.Body == nil {
		m.Body = bson.D{}
	}
	body, err := bson.MarshalExtJSON(m.Body, false, false)
	if err != nil {
		return nil, unavailable("decode "+m.ID, err)
	}
	return &Document{ID: m.ID, Body: body, Version: m.Version}, nil
}
