package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colUsers          = "users"
	colPaymentMethods = "payment_methods"
	colCases          = "cases"
	colContributions  = "contributions"
	colApprovals      = "approval_statuses"
	colBatches        = "batch_uploads"
	colBatchItems     = "batch_upload_items"
	colNotifications  = "notifications"
)

// MongoStore implements Store on MongoDB. Transactions need a replica set;
// with transactions disabled WithTx runs fn directly.
type MongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// NewMongoClient connects with the decimal codec registered so amounts are
// stored as strings rather than floats.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetRegistry(Registry())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoStore(client *mongo.Client, dbName string, transactions bool) *MongoStore {
	return &MongoStore{
		client:       client,
		db:           client.Database(dbName),
		transactions: transactions,
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// Registry returns the BSON registry with a string codec for decimal.Decimal.
func Registry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	d := val.Interface().(decimal.Decimal)
	return vw.WriteString(d.String())
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch vr.Type() {
	case bsontype.String:
		var s string
		if s, err = vr.ReadString(); err != nil {
			return err
		}
		if d, err = decimal.NewFromString(s); err != nil {
			return fmt.Errorf("invalid decimal %q: %w", s, err)
		}
	case bsontype.Double:
		// legacy documents written by the float-based tracker
		var f float64
		if f, err = vr.ReadDouble(); err != nil {
			return err
		}
		d = decimal.NewFromFloat(f)
	case bsontype.Int32:
		var i int32
		if i, err = vr.ReadInt32(); err != nil {
			return err
		}
		d = decimal.NewFromInt32(i)
	case bsontype.Int64:
		var i int64
		if i, err = vr.ReadInt64(); err != nil {
			return err
		}
		d = decimal.NewFromInt(i)
	case bsontype.Null:
		if err = vr.ReadNull(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot decode %v into decimal", vr.Type())
	}
	val.Set(reflect.ValueOf(d))
	return nil
}

func (s *MongoStore) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if !s.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	})
	return err
}

// Migrate creates the indexes the queries rely on.
func (s *MongoStore) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colPaymentMethods: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colUsers: {
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
		colCases: {
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		},
		colContributions: {
			{Keys: bson.D{{Key: "case_id", Value: 1}}},
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		},
		colApprovals: {
			{Keys: bson.D{{Key: "contribution_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colBatchItems: {
			{Keys: bson.D{{Key: "batch_id", Value: 1}, {Key: "row_number", Value: 1}}},
			{Keys: bson.D{{Key: "batch_id", Value: 1}, {Key: "nickname", Value: 1}}},
		},
		colNotifications: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "read", Value: 1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := s.col(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, col string, filter any, out any) error {
	err := s.col(col).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *MongoStore) updateOne(ctx context.Context, col string, filter, update any) error {
	res, err := s.col(col).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
