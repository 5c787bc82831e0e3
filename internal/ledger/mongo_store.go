package ledger

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stock-signal-bot-go/internal/models"
)

const (
	tradesCollection = "trades"
	equityCollection = "equity_snapshots"
)

// MongoStore keeps the ledger in MongoDB collections.
type MongoStore struct {
	trades *mongo.Collection
	equity *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore uses the trades and equity_snapshots collections of database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		trades: db.Collection(tradesCollection),
		equity: db.Collection(equityCollection),
	}
}

// mongoFilter builds the query document for a Filter.
func mongoFilter(filter Filter) bson.M {
	q := bson.M{}
	if filter.Symbol != "" {
		q["symbol"] = filter.Symbol
	}
	ts := bson.M{}
	if !filter.From.IsZero() {
		ts["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		ts["$lt"] = filter.To
	}
	if len(ts) > 0 {
		q["timestamp"] = ts
	}
	return q
}

func (s *MongoStore) AppendTrade(ctx context.Context, record *models.TradeRecord) error {
	if _, err := s.trades.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to append trade for %s: %w", record.Symbol, err)
	}
	return nil
}

func (s *MongoStore) ReadTrades(ctx context.Context, filter Filter) ([]models.TradeRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.trades.Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.TradeRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}
	return records, nil
}

func (s *MongoStore) AppendEquity(ctx context.Context, snapshots []models.EquitySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	docs := make([]interface{}, len(snapshots))
	for i := range snapshots {
		docs[i] = snapshots[i]
	}
	if _, err := s.equity.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to append %d equity snapshots: %w", len(snapshots), err)
	}
	return nil
}

func (s *MongoStore) ReadEquity(ctx context.Context, since time.Time) ([]models.EquitySnapshot, error) {
	q := bson.M{}
	if !since.IsZero() {
		q["timestamp"] = bson.M{"$gte": since}
	}
	cursor, err := s.equity.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to read equity snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	var snapshots []models.EquitySnapshot
	if err := cursor.All(ctx, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode equity snapshots: %w", err)
	}
	return snapshots, nil
}
