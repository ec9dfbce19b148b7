package calendartokens

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a Mongo collection. The unique index on
// (userId, provider) plus the upsert keeps at most one record per pair.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) Get(ctx context.Context, userID, provider string) (*TokenRecord, error) {
	var rec TokenRecord
	err := s.col.FindOne(ctx, bson.M{"userId": userID, "provider": provider}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *MongoStore) Put(ctx context.Context, rec *TokenRecord) error {
	filter := bson.M{"userId": rec.UserID, "provider": rec.Provider}
	_, err := s.col.ReplaceOne(ctx, filter, rec, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"userId": userID, "provider": provider})
	return err
}
