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

// toDecimal128 fails for values Decimal128 cannot hold exactly, such as more
// than 34 significant digits.
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	p, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, errors.Wrapf(err, "decimal %s does not fit decimal128", d.String())
	}
	return p, nil
}

// decimals converts several values, stopping at the first that does not fit.
func decimals(dst []*primitive.Decimal128, src ...decimal.Decimal) error {
	for i, d := range src {
		p, err := toDecimal128(d)
		if err != nil {
			return err
		}
		*dst[i] = p
	}
	return nil
}

func fromDecimal128(p primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(p.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

type eventDoc struct {
	ID            string               `bson:"_id"`
	Kind          string               `bson:"kind"`
	MemberID      string               `bson:"memberId"`
	BaseAmount    primitive.Decimal128 `bson:"baseAmount"`
	OccurredAt    time.Time            `bson:"occurredAt"`
	Status        string               `bson:"status"`
	RateVersion   int64                `bson:"rateVersion"`
	TotalCredited primitive.Decimal128 `bson:"totalCredited"`
	Error         string               `bson:"error,omitempty"`
	Reversed      bool                 `bson:"reversed"`
	ReverseReason string               `bson:"reverseReason,omitempty"`
	CreatedAt     time.Time            `bson:"createdAt"`
	ProcessedAt   *time.Time           `bson:"processedAt,omitempty"`
}

func newEventDoc(rec models.CommissionRecord) (eventDoc, error) {
	doc := eventDoc{
		ID:            rec.ID,
		Kind:          string(rec.Kind),
		MemberID:      rec.MemberID,
		OccurredAt:    rec.OccurredAt,
		Status:        string(rec.Status),
		RateVersion:   rec.RateVersion,
		Error:         rec.Error,
		Reversed:      rec.Reversed,
		ReverseReason: rec.ReverseReason,
		CreatedAt:     rec.CreatedAt,
		ProcessedAt:   rec.ProcessedAt,
	}
	err := decimals([]*primitive.Decimal128{&doc.BaseAmount, &doc.TotalCredited}, rec.BaseAmount, rec.TotalCredited)
	return doc, errors.Wrapf(err, "event %s", rec.ID)
}

func (d eventDoc) record() *models.CommissionRecord {
	return &models.CommissionRecord{
		CommissionEvent: models.CommissionEvent{
			ID:         d.ID,
			Kind:       models.EventKind(d.Kind),
			MemberID:   d.MemberID,
			BaseAmount: fromDecimal128(d.BaseAmount),
			OccurredAt: d.OccurredAt,
		},
		Status:        models.EventStatus(d.Status),
		RateVersion:   d.RateVersion,
		TotalCredited: fromDecimal128(d.TotalCredited),
		Error:         d.Error,
		Reversed:      d.Reversed,
		ReverseReason: d.ReverseReason,
		CreatedAt:     d.CreatedAt,
		ProcessedAt:   d.ProcessedAt,
	}
}

type entryDoc struct {
	ID            string               `bson:"_id"`
	EventID       string               `bson:"eventId"`
	BeneficiaryID string               `bson:"beneficiaryId"`
	Level         int                  `bson:"level"`
	Amount        primitive.Decimal128 `bson:"amount"`
	RateApplied   primitive.Decimal128 `bson:"rateApplied"`
	Kind          string               `bson:"kind"`
	CreatedAt     time.Time            `bson:"createdAt"`
}

func (d entryDoc) entry() models.LedgerEntry {
	return models.LedgerEntry{
		ID:            d.ID,
		EventID:       d.EventID,
		BeneficiaryID: d.BeneficiaryID,
		Level:         d.Level,
		Amount:        fromDecimal128(d.Amount),
		RateApplied:   fromDecimal128(d.RateApplied),
		Kind:          models.EntryKind(d.Kind),
		CreatedAt:     d.CreatedAt,
	}
}

func entryDocs(entries []models.LedgerEntry) ([]interface{}, error) {
	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		doc := entryDoc{
			ID:            e.ID,
			EventID:       e.EventID,
			BeneficiaryID: e.BeneficiaryID,
			Level:         e.Level,
			Kind:          string(e.Kind),
			CreatedAt:     e.CreatedAt,
		}
		if err := decimals([]*primitive.Decimal128{&doc.Amount, &doc.RateApplied}, e.Amount, e.RateApplied); err != nil {
			return nil, errors.Wrapf(err, "ledger entry %s", e.ID)
		}
		docs[i] = doc
	}
	return docs, nil
}

type MongoLedgerRepository struct {
	client  *mongo.Client
	events  *mongo.Collection
	entries *mongo.Collection
}

func NewMongoLedgerRepository(client *mongo.Client, db *mongo.Database) *MongoLedgerRepository {
	return &MongoLedgerRepository{
		client:  client,
		events:  db.Collection(EventsCollection),
		entries: db.Collection(LedgerCollection),
	}
}

func (r *MongoLedgerRepository) GetEvent(ctx context.Context, eventID string) (*models.CommissionRecord, error) {
	var doc eventDoc
	err := r.events.FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.record(), nil
}

func (r *MongoLedgerRepository) findEntries(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.LedgerEntry, error) {
	cursor, err := r.entries.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.LedgerEntry, len(docs))
	for i, d := range docs {
		out[i] = d.entry()
	}
	return out, nil
}

func (r *MongoLedgerRepository) EntriesForEvent(ctx context.Context, eventID string) ([]models.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "level", Value: 1}})
	return r.findEntries(ctx, bson.M{"eventId": eventID}, opts)
}

func (r *MongoLedgerRepository) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

// CommitDistribution replaces any earlier non-DONE attempt. A DONE record
// makes the upsert collide on _id, which surfaces as ErrDuplicateKey.
func (r *MongoLedgerRepository) CommitDistribution(ctx context.Context, rec models.CommissionRecord, entries []models.LedgerEntry) error {
	doc, err := newEventDoc(rec)
	if err != nil {
		return err
	}
	docs, err := entryDocs(entries)
	if err != nil {
		return err
	}
	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		_, err := r.events.ReplaceOne(sc,
			bson.M{"_id": rec.ID, "status": bson.M{"$ne": string(models.StatusDone)}},
			doc,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		_, err = r.entries.InsertMany(sc, docs)
		return err
	})
}

func (r *MongoLedgerRepository) MarkFailed(ctx context.Context, rec models.CommissionRecord) error {
	doc, err := newEventDoc(rec)
	if err != nil {
		return err
	}
	_, err = r.events.ReplaceOne(ctx,
		bson.M{"_id": rec.ID, "status": bson.M{"$ne": string(models.StatusDone)}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *MongoLedgerRepository) CommitReversal(ctx context.Context, eventID, reason string, entries []models.LedgerEntry) error {
	docs, err := entryDocs(entries)
	if err != nil {
		return err
	}
	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.events.UpdateOne(sc,
			bson.M{"_id": eventID, "status": string(models.StatusDone), "reversed": false},
			bson.M{"$set": bson.M{"reversed": true, "reverseReason": reason}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			var doc eventDoc
			err := r.events.FindOne(sc, bson.M{"_id": eventID}).Decode(&doc)
			if err == mongo.ErrNoDocuments || (err == nil && doc.Status != string(models.StatusDone)) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return ErrDuplicateKey
		}
		if len(docs) == 0 {
			return nil
		}
		_, err = r.entries.InsertMany(sc, docs)
		return err
	})
}

type sumRow struct {
	ID    string               `bson:"_id"`
	Total primitive.Decimal128 `bson:"total"`
}

func (r *MongoLedgerRepository) sumByBeneficiary(ctx context.Context, match bson.M, extra ...bson.D) ([]sumRow, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$beneficiaryId", "total": bson.M{"$sum": "$amount"}}}},
	}
	pipeline = append(pipeline, extra...)
	cursor, err := r.entries.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []sumRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MongoLedgerRepository) Balance(ctx context.Context, memberID string) (decimal.Decimal, error) {
	rows, err := r.sumByBeneficiary(ctx, bson.M{"beneficiaryId": memberID})
	if err != nil || len(rows) == 0 {
		return decimal.Zero, err
	}
	return fromDecimal128(rows[0].Total), nil
}

func (r *MongoLedgerRepository) Balances(ctx context.Context, memberIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(memberIDs))
	if len(memberIDs) == 0 {
		return out, nil
	}
	rows, err := r.sumByBeneficiary(ctx, bson.M{"beneficiaryId": bson.M{"$in": memberIDs}})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = fromDecimal128(row.Total)
	}
	return out, nil
}

func (r *MongoLedgerRepository) EntriesForMember(ctx context.Context, memberID string, limit int) ([]models.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.findEntries(ctx, bson.M{"beneficiaryId": memberID}, opts)
}

func windowFilter(field string, window models.DateRange) bson.M {
	return bson.M{field: bson.M{"$gte": window.From, "$lte": window.To}}
}

func (r *MongoLedgerRepository) Totals(ctx context.Context, window models.DateRange) (models.CommissionTotals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: windowFilter("createdAt", window)}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$level",
			"total": bson.M{"$sum": "$amount"},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cursor, err := r.entries.Aggregate(ctx, pipeline)
	if err != nil {
		return models.CommissionTotals{}, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Level int                  `bson:"_id"`
		Total primitive.Decimal128 `bson:"total"`
		Count int                  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.CommissionTotals{}, err
	}

	totals := models.CommissionTotals{Total: decimal.Zero}
	for _, row := range rows {
		amount := fromDecimal128(row.Total)
		totals.ByLevel = append(totals.ByLevel, models.LevelTotal{Level: row.Level, Amount: amount, Count: row.Count})
		totals.Total = totals.Total.Add(amount)
	}

	filter := windowFilter("processedAt", window)
	filter["status"] = string(models.StatusDone)
	n, err := r.events.CountDocuments(ctx, filter)
	if err != nil {
		return models.CommissionTotals{}, err
	}
	totals.EventsProcessed = int(n)
	return totals, nil
}

func (r *MongoLedgerRepository) TopEarners(ctx context.Context, window models.DateRange, limit int) ([]models.Earner, error) {
	extra := []bson.D{{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}, {Key: "_id", Value: 1}}}}}
	if limit > 0 {
		extra = append(extra, bson.D{{Key: "$limit", Value: limit}})
	}
	rows, err := r.sumByBeneficiary(ctx, windowFilter("createdAt", window), extra...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Earner, len(rows))
	for i, row := range rows {
		out[i] = models.Earner{MemberID: row.ID, Amount: fromDecimal128(row.Total)}
	}
	return out, nil
}
