package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UploadRequestRepositoryMongo stores one document per upload request. Workers
// only touch destinations.<key>.* plus status/updated_at/revision, so concurrent
// updates to different destinations of one request never clobber each other.
type UploadRequestRepositoryMongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewUploadRequestRepositoryMongo(db *mongo.Database, collection string) *UploadRequestRepositoryMongo {
	return &UploadRequestRepositoryMongo{coll: db.Collection(collection), now: time.Now}
}

// EnsureUploadRequestIndexes creates the TTL index backing expires_at and the listing index.
func EnsureUploadRequestIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := db.Collection(collection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create upload request indexes: %w", err)
	}
	return nil
}

func (r *UploadRequestRepositoryMongo) Create(ctx context.Context, rec *model.UploadRequest) error {
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert upload request %s: %w", rec.RequestID, err)
	}
	return nil
}

// Get hides expired documents even before the TTL monitor physically removes them.
func (r *UploadRequestRepositoryMongo) Get(ctx context.Context, requestID string) (*model.UploadRequest, error) {
	var rec model.UploadRequest
	err := r.coll.FindOne(ctx, liveFilter(requestID, r.now())).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrRecordNotFound
		}
		return nil, fmt.Errorf("find upload request %s: %w", requestID, err)
	}
	return &rec, nil
}

func (r *UploadRequestRepositoryMongo) List(ctx context.Context, filter model.ListFilter) ([]*model.UploadRequest, error) {
	q := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: r.now().UTC()}}}}
	if filter.UserID != "" {
		q = append(q, bson.E{Key: "user_id", Value: filter.UserID})
	}
	if filter.Status != "" {
		q = append(q, bson.E{Key: "status", Value: filter.Status})
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := r.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list upload requests: %w", err)
	}
	out := make([]*model.UploadRequest, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode upload requests: %w", err)
	}
	return out, nil
}

func (r *UploadRequestRepositoryMongo) UpdateDestination(ctx context.Context, requestID string, key model.DestinationKey, upd model.DestinationUpdate) (*model.UploadRequest, error) {
	now := r.now().UTC()
	filter := append(liveFilter(requestID, now), bson.E{
		Key:   "destinations." + string(key),
		Value: bson.D{{Key: "$exists", Value: true}},
	})
	if upd.IfAttemptCount != nil {
		filter = append(filter, bson.E{Key: "destinations." + string(key) + ".attempt_count", Value: *upd.IfAttemptCount})
	}
	var updated model.UploadRequest
	err := r.coll.FindOneAndUpdate(ctx, filter, destinationUpdateDoc(key, upd, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update destination %s on %s: %w", key, requestID, err)
	}
	rec, getErr := r.Get(ctx, requestID)
	if getErr != nil {
		return nil, getErr
	}
	if _, ok := rec.Destinations[key]; !ok {
		return nil, model.ErrDestinationNotFound
	}
	return nil, model.ErrUpdateConflict
}

func (r *UploadRequestRepositoryMongo) SetStatus(ctx context.Context, requestID string, status model.Status, revision int64) (bool, error) {
	now := r.now().UTC()
	filter := append(liveFilter(requestID, now), bson.E{Key: "revision", Value: revision})
	res, err := r.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: now},
	}}})
	if err != nil {
		return false, fmt.Errorf("set status on %s: %w", requestID, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, getErr := r.Get(ctx, requestID); getErr != nil {
		return false, getErr
	}
	return false, nil
}

func (r *UploadRequestRepositoryMongo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: r.now().UTC()}}}})
	if err != nil {
		return 0, fmt.Errorf("purge expired upload requests: %w", err)
	}
	if res.DeletedCount > 0 {
		logger.GetLogger().WithField("deleted", res.DeletedCount).Debug("Purged expired upload requests")
	}
	return res.DeletedCount, nil
}

func liveFilter(requestID string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: requestID},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now.UTC()}}},
	}
}

// destinationUpdateDoc translates a DestinationUpdate into $set/$inc/$push
// operators scoped to destinations.<key>.
func destinationUpdateDoc(key model.DestinationKey, upd model.DestinationUpdate, now time.Time) bson.D {
	prefix := "destinations." + string(key) + "."
	set := bson.D{
		{Key: "updated_at", Value: now},
		{Key: prefix + "updated_at", Value: now},
	}
	if upd.Status != nil {
		set = append(set, bson.E{Key: prefix + "status", Value: *upd.Status})
	}
	if upd.Error != nil {
		set = append(set, bson.E{Key: prefix + "error", Value: *upd.Error})
	}
	if upd.Result != nil {
		set = append(set, bson.E{Key: prefix + "result", Value: upd.Result})
	}
	inc := bson.D{{Key: "revision", Value: 1}}
	if upd.IncrementAttempt {
		inc = append(inc, bson.E{Key: prefix + "attempt_count", Value: 1})
	}
	doc := bson.D{
		{Key: "$set", Value: set},
		{Key: "$inc", Value: inc},
	}
	if len(upd.AppendLogs) > 0 {
		doc = append(doc, bson.E{Key: "$push", Value: bson.D{
			{Key: prefix + "logs", Value: bson.D{{Key: "$each", Value: upd.AppendLogs}}},
		}})
	}
	return doc
}
