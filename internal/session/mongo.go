package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoCart struct {
	SessionID string          `bson:"_id"`
	Lines     []mongoCartLine `bson:"lines"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

// prices are stored as strings to keep decimal precision
type mongoCartLine struct {
	ProductID   int64  `bson:"product_id"`
	ProductName string `bson:"product_name"`
	UnitPrice   string `bson:"unit_price"`
	Quantity    int    `bson:"quantity"`
	ImageURL    string `bson:"image_url"`
}

type MongoStore struct {
	collection *mongo.Collection
	ttl        time.Duration
}

func NewMongoStore(db *mongo.Database, ttl time.Duration) *MongoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MongoStore{
		collection: db.Collection("session_carts"),
		ttl:        ttl,
	}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// CreateIndexes installs the TTL index that expires idle sessions.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(m.ttl.Seconds())),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	var doc mongoCart
	err := m.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &domain.Cart{}, nil
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	// the TTL monitor runs about once a minute, so expired documents can still be read
	if time.Since(doc.UpdatedAt) > m.ttl {
		return &domain.Cart{}, nil
	}

	cart := &domain.Cart{Lines: make([]domain.CartLine, 0, len(doc.Lines))}
	for _, l := range doc.Lines {
		price, err := decimal.NewFromString(l.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("decode unit price for product %d: %w", l.ProductID, err)
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   price,
			Quantity:    l.Quantity,
			ImageURL:    l.ImageURL,
		})
	}
	return cart, nil
}

func (m *MongoStore) Set(ctx context.Context, sessionID string, cart *domain.Cart) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if cart.IsEmpty() {
		return m.Clear(ctx, sessionID)
	}

	doc := mongoCart{
		SessionID: sessionID,
		Lines:     make([]mongoCartLine, 0, len(cart.Lines)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, l := range cart.Lines {
		doc.Lines = append(doc.Lines, mongoCartLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice.String(),
			Quantity:    l.Quantity,
			ImageURL:    l.ImageURL,
		})
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": sessionID}, doc, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *MongoStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}
