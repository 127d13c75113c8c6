package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

type MongoOptions struct {
	URL        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Mongo stores one document per record. Documents carry a driver-generated
// ObjectID, which sorts in insertion order for a single writer, and _created_at.
type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

type mongoDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	invoice.Email `bson:",inline"`
	CreatedAt     time.Time `bson:"_created_at"`
}

func OpenMongo(ctx context.Context, opts MongoOptions) (*Mongo, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	clientOpts := options.Client().
		ApplyURI(opts.URL).
		SetServerSelectionTimeout(opts.Timeout).
		SetConnectTimeout(opts.Timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, unavailable("connect mongodb", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping mongodb", err)
	}
	return &Mongo{
		client:  client,
		coll:    client.Database(opts.Database).Collection(opts.Collection),
		timeout: opts.Timeout,
		now:     time.Now,
	}, nil
}

func (m *Mongo) Kind() string { return config.StorageMongo }

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Insert(ctx context.Context, records []invoice.Email) error {
	if len(records) == 0 {
		return nil
	}
	now := m.now().UTC()
	docs := make([]any, 0, len(records))
	for _, record := range records {
		docs = append(docs, mongoDocument{
			ID:        primitive.NewObjectID(),
			Email:     record,
			CreatedAt: now,
		})
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	opts := options.InsertMany().SetOrdered(true)
	if _, err := m.coll.InsertMany(ctx, docs, opts); err != nil {
		return unavailable("mongodb insert_many", err)
	}
	return nil
}

func (m *Mongo) List(ctx context.Context, offset, limit int) ([]invoice.Email, error) {
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	cursor, err := m.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, unavailable("mongodb find", err)
	}
	defer cursor.Close(ctx)

	records := []invoice.Email{}
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, corrupt("decode mongodb document", err)
		}
		doc.Email.InvoiceData = normalizeData(doc.Email.InvoiceData)
		records = append(records, doc.Email)
	}
	if err := cursor.Err(); err != nil {
		return nil, unavailable("mongodb cursor", err)
	}
	return records, nil
}

func (m *Mongo) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	n, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, unavailable("mongodb count_documents", err)
	}
	return int(n), nil
}

func (m *Mongo) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := m.coll.DeleteMany(ctx, bson.D{}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return unavailable("mongodb delete_many", fmt.Errorf("timed out after %s: %w", m.timeout, err))
		}
		return unavailable("mongodb delete_many", err)
	}
	return nil
}

// normalizeData converts BSON container and integer types back to the JSON shapes
// the rest of the service works with.
func normalizeData(d invoice.Data) invoice.Data {
	if d == nil {
		return nil
	}
	out := make(invoice.Data, len(d))
	for k, v := range d {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.M:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = normalizeValue(inner)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = normalizeValue(inner)
		}
		return m
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.A:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = normalizeValue(inner)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = normalizeValue(inner)
		}
		return s
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return v
	}
}
