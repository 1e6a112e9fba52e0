package repositories

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/barrim_referral/models"
)

const (
	MembersCollection       = "members"
	EventsCollection        = "commissionEvents"
	LedgerCollection        = "ledgerEntries"
	RateConfigsCollection   = "rateConfigs"
	CountersCollection      = "counters"
	rateConfigVersionSeqKey = "rateConfigVersion"
)

type MongoNetworkRepository struct {
	client  *mongo.Client
	members *mongo.Collection
}

func NewMongoNetworkRepository(client *mongo.Client, db *mongo.Database) *MongoNetworkRepository {
	return &MongoNetworkRepository{
		client:  client,
		members: db.Collection(MembersCollection),
	}
}

func (r *MongoNetworkRepository) CreateMember(ctx context.Context, m *models.Member) error {
	_, err := r.members.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *MongoNetworkRepository) findOne(ctx context.Context, filter bson.M) (*models.Member, error) {
	var m models.Member
	err := r.members.FindOne(ctx, filter).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoNetworkRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Member, error) {
	cursor, err := r.members.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.Member
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoNetworkRepository) GetMember(ctx context.Context, id string) (*models.Member, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoNetworkRepository) GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	return r.findOne(ctx, bson.M{"referralCode": code})
}

func (r *MongoNetworkRepository) GetMembers(ctx context.Context, ids []string) ([]models.Member, error) {
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (r *MongoNetworkRepository) ChildrenOf(ctx context.Context, parentIDs []string) ([]models.Member, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joinedAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"sponsorId": bson.M{"$in": parentIDs}}, opts)
}

func (r *MongoNetworkRepository) Roots(ctx context.Context) ([]models.Member, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joinedAt", Value: 1}})
	return r.find(ctx, bson.M{"$or": []bson.M{
		{"sponsorId": bson.M{"$exists": false}},
		{"sponsorId": ""},
	}}, opts)
}

func (r *MongoNetworkRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	update := bson.M{
		"$set":   bson.M{"isActive": true, "updatedAt": at},
		"$unset": bson.M{"deactivatedAt": ""},
	}
	if !active {
		update = bson.M{"$set": bson.M{"isActive": false, "deactivatedAt": at, "updatedAt": at}}
	}
	res, err := r.members.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoNetworkRepository) CountMembers(ctx context.Context, window models.DateRange) (models.MemberCounts, error) {
	filters := []bson.M{
		{},
		{"isActive": true},
		{"joinedAt": bson.M{"$gte": window.From, "$lte": window.To}},
		{"joinedAt": bson.M{"$lt": window.From}},
		{
			"joinedAt": bson.M{"$lt": window.From},
			"$or": []bson.M{
				{"isActive": true},
				{"deactivatedAt": bson.M{"$gt": window.To}},
			},
		},
	}
	counts := make([]int, len(filters))
	for i, f := range filters {
		n, err := r.members.CountDocuments(ctx, f)
		if err != nil {
			return models.MemberCounts{}, err
		}
		counts[i] = int(n)
	}
	return models.MemberCounts{
		Total:    counts[0],
		Active:   counts[1],
		Joined:   counts[2],
		Cohort:   counts[3],
		Retained: counts[4],
	}, nil
}

// WithAttachTx runs fn in a multi-document transaction. The driver retries
// the whole callback when a concurrent attach touched the same members.
func (r *MongoNetworkRepository) WithAttachTx(ctx context.Context, fn func(ctx context.Context, tx NetworkTx) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, mongoNetworkTx{members: r.members})
	})
	return err
}

type mongoNetworkTx struct {
	members *mongo.Collection
}

// LockMember bumps the member's lock counter so that any other transaction
// reading the same member through LockMember hits a write conflict.
func (tx mongoNetworkTx) LockMember(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	err := tx.members.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"lockVersion": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (tx mongoNetworkTx) SetSponsor(ctx context.Context, memberID, sponsorID string, at time.Time) error {
	res, err := tx.members.UpdateOne(ctx,
		bson.M{"_id": memberID},
		bson.M{"$set": bson.M{"sponsorId": sponsorID, "updatedAt": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
