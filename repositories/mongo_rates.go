package repositories

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/barrim_referral/models"
)

type rateConfigDoc struct {
	Version               int64                  `bson:"_id"`
	LevelRates            []primitive.Decimal128 `bson:"levelRates"`
	MaxLevels             int                    `bson:"maxLevels"`
	MinimumPayout         primitive.Decimal128   `bson:"minimumPayout"`
	PayoutSchedule        string                 `bson:"payoutSchedule"`
	TaskCommissionRate    primitive.Decimal128   `bson:"taskCommissionRate"`
	ProductCommissionRate primitive.Decimal128   `bson:"productCommissionRate"`
	MinimumCreditUnit     primitive.Decimal128   `bson:"minimumCreditUnit"`
	Active                bool                   `bson:"active"`
	CreatedAt             time.Time              `bson:"createdAt"`
	ActivatedAt           *time.Time             `bson:"activatedAt,omitempty"`
}

func newRateConfigDoc(cfg models.RateConfig) (rateConfigDoc, error) {
	doc := rateConfigDoc{
		Version:        cfg.Version,
		LevelRates:     make([]primitive.Decimal128, len(cfg.LevelRates)),
		MaxLevels:      cfg.MaxLevels,
		PayoutSchedule: string(cfg.PayoutSchedule),
		Active:         cfg.Active,
		CreatedAt:      cfg.CreatedAt,
		ActivatedAt:    cfg.ActivatedAt,
	}
	dst := []*primitive.Decimal128{&doc.MinimumPayout, &doc.TaskCommissionRate, &doc.ProductCommissionRate, &doc.MinimumCreditUnit}
	src := []decimal.Decimal{cfg.MinimumPayout, cfg.TaskCommissionRate, cfg.ProductCommissionRate, cfg.MinimumCreditUnit}
	for i := range doc.LevelRates {
		dst = append(dst, &doc.LevelRates[i])
	}
	src = append(src, cfg.LevelRates...)
	if err := decimals(dst, src...); err != nil {
		return rateConfigDoc{}, errors.Wrapf(err, "rate config v%d", cfg.Version)
	}
	return doc, nil
}

func (d rateConfigDoc) config() models.RateConfig {
	rates := make([]decimal.Decimal, len(d.LevelRates))
	for i, r := range d.LevelRates {
		rates[i] = fromDecimal128(r)
	}
	return models.RateConfig{
		Version:               d.Version,
		LevelRates:            rates,
		MaxLevels:             d.MaxLevels,
		MinimumPayout:         fromDecimal128(d.MinimumPayout),
		PayoutSchedule:        models.PayoutSchedule(d.PayoutSchedule),
		TaskCommissionRate:    fromDecimal128(d.TaskCommissionRate),
		ProductCommissionRate: fromDecimal128(d.ProductCommissionRate),
		MinimumCreditUnit:     fromDecimal128(d.MinimumCreditUnit),
		Active:                d.Active,
		CreatedAt:             d.CreatedAt,
		ActivatedAt:           d.ActivatedAt,
	}
}

type MongoRateConfigRepository struct {
	client   *mongo.Client
	configs  *mongo.Collection
	counters *mongo.Collection
}

func NewMongoRateConfigRepository(client *mongo.Client, db *mongo.Database) *MongoRateConfigRepository {
	return &MongoRateConfigRepository{
		client:   client,
		configs:  db.Collection(RateConfigsCollection),
		counters: db.Collection(CountersCollection),
	}
}

func (r *MongoRateConfigRepository) nextVersion(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": rateConfigVersionSeqKey},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

func (r *MongoRateConfigRepository) Insert(ctx context.Context, cfg models.RateConfig) (models.RateConfig, error) {
	version, err := r.nextVersion(ctx)
	if err != nil {
		return models.RateConfig{}, err
	}
	cfg = cfg.Clone()
	cfg.Version = version
	cfg.Active = false
	cfg.ActivatedAt = nil
	doc, err := newRateConfigDoc(cfg)
	if err != nil {
		return models.RateConfig{}, err
	}
	if _, err := r.configs.InsertOne(ctx, doc); err != nil {
		return models.RateConfig{}, err
	}
	return cfg, nil
}

func (r *MongoRateConfigRepository) findOne(ctx context.Context, filter bson.M) (models.RateConfig, error) {
	var doc rateConfigDoc
	err := r.configs.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return models.RateConfig{}, ErrNotFound
	}
	if err != nil {
		return models.RateConfig{}, err
	}
	return doc.config(), nil
}

func (r *MongoRateConfigRepository) Get(ctx context.Context, version int64) (models.RateConfig, error) {
	return r.findOne(ctx, bson.M{"_id": version})
}

func (r *MongoRateConfigRepository) Active(ctx context.Context) (models.RateConfig, error) {
	return r.findOne(ctx, bson.M{"active": true})
}

// Activate clears the previous active flag and sets the new one in a single
// transaction; the partial unique index on active keeps at most one set.
func (r *MongoRateConfigRepository) Activate(ctx context.Context, version int64, at time.Time) (models.RateConfig, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return models.RateConfig{}, err
	}
	defer session.EndSession(ctx)

	out, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := r.configs.UpdateMany(sc,
			bson.M{"active": true, "_id": bson.M{"$ne": version}},
			bson.M{"$set": bson.M{"active": false}},
		); err != nil {
			return nil, err
		}
		var doc rateConfigDoc
		err := r.configs.FindOneAndUpdate(sc,
			bson.M{"_id": version},
			bson.M{"$set": bson.M{"active": true, "activatedAt": at}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return doc.config(), nil
	})
	if err != nil {
		return models.RateConfig{}, err
	}
	return out.(models.RateConfig), nil
}

func (r *MongoRateConfigRepository) List(ctx context.Context) ([]models.RateConfig, error) {
	cursor, err := r.configs.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []rateConfigDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.RateConfig, len(docs))
	for i, d := range docs {
		out[i] = d.config()
	}
	return out, nil
}

// NewMongoStore wires the MongoDB repositories over one database.
func NewMongoStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		Network: NewMongoNetworkRepository(client, db),
		Ledger:  NewMongoLedgerRepository(client, db),
		Rates:   NewMongoRateConfigRepository(client, db),
		Close:   client.Disconnect,
	}
}
