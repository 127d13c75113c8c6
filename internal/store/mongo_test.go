package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.io/infrasutra/mockinvoice/internal/invoice"
)

func TestNormalizeData(t *testing.T) {
	in := invoice.Data{
		"amount": int32(12),
		"tax":    int64(3),
		"line_items": primitive.A{
			primitive.M{"item": "Audit", "quantity": int32(2)},
			primitive.D{{Key: "item", Value: "Hosting"}},
		},
		"status": "paid",
		"nested": map[string]any{"deep": primitive.A{int64(1)}},
	}

	got := normalizeData(in)

	assert.Equal(t, invoice.Data{
		"amount": float64(12),
		"tax":    float64(3),
		"line_items": []any{
			map[string]any{"item": "Audit", "quantity": float64(2)},
			map[string]any{"item": "Hosting"},
		},
		"status": "paid",
		"nested": map[string]any{"deep": []any{float64(1)}},
	}, got)
	assert.Nil(t, normalizeData(nil))
}

func TestMongoStore(t *testing.T) {
	url := os.Getenv("MOCKINVOICE_TEST_MONGO_URL")
	if url == "" {
		t.Skip("MOCKINVOICE_TEST_MONGO_URL not set")
	}
	st, err := OpenMongo(context.Background(), MongoOptions{
		URL:        url,
		Database:   "mockinvoice_test",
		Collection: "invoices_" + uuid.NewString(),
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	defer func() {
		_ = st.coll.Drop(context.Background())
		_ = st.Close()
	}()

	exerciseStore(t, st)
}

func TestOpenMongoUnreachable(t *testing.T) {
	_, err := OpenMongo(context.Background(), MongoOptions{
		URL:        "mongodb://127.0.0.1:1",
		Database:   "x",
		Collection: "y",
		Timeout:    200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func mockMongo(mt *mtest.T) (*Mongo, string) {
	st := &Mongo{
		client:  mt.Client,
		coll:    mt.Coll,
		timeout: time.Second,
		now:     time.Now,
	}
	return st, mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestMongoStoreAgainstMockDeployment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("list decodes and normalises documents", func(mt *mtest.T) {
		st, ns := mockMongo(mt)
		received := "2024-03-01T10:00:00Z"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: "message_id", Value: "msg_001"},
				{Key: "subject", Value: "Invoice INV-1001"},
				{Key: "sender", Value: "billing@vendor.test"},
				{Key: "received_at", Value: received},
				{Key: "body", Value: "Amount: $10.00"},
				{Key: "invoice_data", Value: bson.D{
					{Key: "invoice_id", Value: "INV-1001"},
					{Key: "amount", Value: int32(10)},
					{Key: "line_items", Value: bson.A{bson.D{{Key: "quantity", Value: int64(2)}}}},
				}},
				{Key: "_created_at", Value: time.Now()},
			},
			bson.D{
				{Key: "_id", Value: primitive.NewObjectID()},
				{Key: "message_id", Value: "msg_002"},
				{Key: "received_at", Value: nil},
				{Key: "invoice_data", Value: bson.D{{Key: "amount", Value: nil}}},
			},
		))

		got, err := st.List(ctx, 0, 10)
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, "msg_001", got[0].MessageID)
		require.NotNil(mt, got[0].ReceivedAt)
		assert.Equal(mt, received, *got[0].ReceivedAt)
		assert.Equal(mt, invoice.Data{
			"invoice_id": "INV-1001",
			"amount":     float64(10),
			"line_items": []any{map[string]any{"quantity": float64(2)}},
		}, got[0].InvoiceData)
		assert.Nil(mt, got[1].ReceivedAt)
		assert.Equal(mt, invoice.Data{"amount": nil}, got[1].InvoiceData)
	})

	mt.Run("undecodable document is corrupt", func(mt *mtest.T) {
		st, ns := mockMongo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "message_id", Value: int32(7)}},
		))

		_, err := st.List(ctx, 0, 10)
		assert.ErrorIs(mt, err, ErrCorrupt)
	})

	mt.Run("count insert and clear", func(mt *mtest.T) {
		st, ns := mockMongo(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(3)}}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(3)}),
		)

		require.NoError(mt, st.Insert(ctx, sampleRecords(3)))
		n, err := st.Count(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, 3, n)
		require.NoError(mt, st.Clear(ctx))
	})

	mt.Run("command errors are unavailable", func(mt *mtest.T) {
		st, _ := mockMongo(mt)
		cmdErr := mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"})
		mt.AddMockResponses(cmdErr, cmdErr, cmdErr, cmdErr)

		_, err := st.List(ctx, 0, 10)
		assert.ErrorIs(mt, err, ErrUnavailable)
		_, err = st.Count(ctx)
		assert.ErrorIs(mt, err, ErrUnavailable)
		assert.ErrorIs(mt, st.Insert(ctx, sampleRecords(1)), ErrUnavailable)
		assert.ErrorIs(mt, st.Clear(ctx), ErrUnavailable)
	})
}
