package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB. The _id uniqueness constraint
// on the nonce collection makes ReserveNonce atomic across instances.
type MongoDBStore struct {
	client      *mongo.Client
	nonces      *mongo.Collection
	settlements *mongo.Collection
}

type nonceDoc struct {
	Nonce     string    `bson:"_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type settlementDoc struct {
	Nonce     string    `bson:"_id"`
	Payer     string    `bson:"payer"`
	Resource  string    `bson:"resource"`
	Amount    int64     `bson:"amount"`
	Reference string    `bson:"reference"`
	Network   string    `bson:"network"`
	SettledAt time.Time `bson:"settled_at"`
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect() error during initialization cleanup is not actionable.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoDBStore{
		client:      client,
		nonces:      db.Collection("consumed_nonces"),
		settlements: db.Collection("settlements"),
	}

	// Index expiry so eviction stays cheap. _id is unique by construction.
	_, err = store.nonces.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create nonce indexes: %w", err)
	}

	return store, nil
}

// ReserveNonce inserts the nonce document, claiming an expired reservation if
// the insert collides with one whose window has closed.
func (s *MongoDBStore) ReserveNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	_, err := s.nonces.InsertOne(ctx, nonceDoc{Nonce: nonce, ExpiresAt: expiresAt.UTC()})
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("reserve nonce: %w", err)
	}

	// The nonce exists. Take it over only if the existing reservation expired;
	// the filtered replace keeps the takeover atomic.
	res, err := s.nonces.ReplaceOne(ctx,
		bson.M{"_id": nonce, "expires_at": bson.M{"$lte": time.Now().UTC()}},
		nonceDoc{Nonce: nonce, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("reserve nonce takeover: %w", err)
	}
	if res.ModifiedCount == 0 {
		return ErrNonceUsed
	}
	return nil
}

// ReleaseNonce frees an unsettled reservation.
func (s *MongoDBStore) ReleaseNonce(ctx context.Context, nonce string) error {
	if _, err := s.nonces.DeleteOne(ctx, bson.M{"_id": nonce}); err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// RecordSettlement persists the audit record for a granted decision.
func (s *MongoDBStore) RecordSettlement(ctx context.Context, rec SettlementRecord) error {
	doc := settlementDoc{
		Nonce:     rec.Nonce,
		Payer:     rec.Payer,
		Resource:  rec.Resource,
		Amount:    rec.Amount,
		Reference: rec.Reference,
		Network:   rec.Network,
		SettledAt: rec.SettledAt.UTC(),
	}
	_, err := s.settlements.InsertOne(ctx, doc)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// GetSettlement retrieves the settlement record for a nonce.
func (s *MongoDBStore) GetSettlement(ctx context.Context, nonce string) (SettlementRecord, error) {
	var doc settlementDoc
	err := s.settlements.FindOne(ctx, bson.M{"_id": nonce}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return SettlementRecord{}, ErrNotFound
	}
	if err != nil {
		return SettlementRecord{}, fmt.Errorf("get settlement: %w", err)
	}
	return SettlementRecord{
		Nonce:     doc.Nonce,
		Payer:     doc.Payer,
		Resource:  doc.Resource,
		Amount:    doc.Amount,
		Reference: doc.Reference,
		Network:   doc.Network,
		SettledAt: doc.SettledAt,
	}, nil
}

// CleanupExpiredNonces deletes nonce documents whose expiry has passed.
func (s *MongoDBStore) CleanupExpiredNonces(ctx context.Context) (int64, error) {
	res, err := s.nonces.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired nonces: %w", err)
	}
	return res.DeletedCount, nil
}

// Close disconnects the MongoDB client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
