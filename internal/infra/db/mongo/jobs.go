package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jobchat/internal/domain/chat"
)

// JobStore reads job records owned by the job system. Only the status
// is ever written from here.
type JobStore struct {
	col *mongo.Collection
}

func NewJobStore(ctx context.Context, db *mongo.Database) (*JobStore, error) {
	col := db.Collection("jobs")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seeker_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return nil, err
	}
	return &JobStore{col: col}, nil
}

func (s *JobStore) Job(ctx context.Context, id chat.ConversationID) (chat.Job, error) {
	var doc jobDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Job{}, chat.ErrConversationNotFound
		}
		return chat.Job{}, err
	}
	return doc.toJob(), nil
}

func (s *JobStore) ListForUser(ctx context.Context, user chat.UserID) ([]chat.Job, error) {
	filter := bson.M{"$or": bson.A{bson.M{"seeker_id": string(user)}, bson.M{"provider_id": string(user)}}}
	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []chat.Job
	for cur.Next(ctx) {
		var doc jobDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toJob())
	}
	return out, cur.Err()
}

func (s *JobStore) UpdateStatus(ctx context.Context, id chat.ConversationID, status string) (chat.Job, error) {
	update := bson.M{"$set": bson.M{
		"status":     strings.ToLower(strings.TrimSpace(status)),
		"updated_at": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc jobDocument
	if err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": string(id)}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Job{}, chat.ErrConversationNotFound
		}
		return chat.Job{}, err
	}
	return doc.toJob(), nil
}

// Save upserts a whole job record. Used for seeding.
func (s *JobStore) Save(ctx context.Context, job chat.Job) error {
	doc := newJobDocument(job)
	_, err := s.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type jobDocument struct {
	ID         string     `bson:"_id"`
	Title      string     `bson:"title"`
	SeekerID   string     `bson:"seeker_id"`
	ProviderID string     `bson:"provider_id,omitempty"`
	Status     string     `bson:"status"`
	Schedule   string     `bson:"schedule,omitempty"`
	Address    string     `bson:"address,omitempty"`
	Budget     string     `bson:"budget,omitempty"`
	Notes      string     `bson:"notes,omitempty"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func newJobDocument(job chat.Job) jobDocument {
	return jobDocument{
		ID:         string(job.ID),
		Title:      job.Title,
		SeekerID:   string(job.SeekerID),
		ProviderID: string(job.ProviderID),
		Status:     job.Status,
		Schedule:   job.Schedule,
		Address:    job.Address,
		Budget:     job.Budget,
		Notes:      job.Notes,
		ExpiresAt:  job.ExpiresAt,
		UpdatedAt:  job.UpdatedAt.UTC(),
	}
}

func (d jobDocument) toJob() chat.Job {
	job := chat.Job{
		ID:         chat.ConversationID(d.ID),
		Title:      d.Title,
		SeekerID:   chat.UserID(d.SeekerID),
		ProviderID: chat.UserID(d.ProviderID),
		Status:     d.Status,
		Schedule:   d.Schedule,
		Address:    d.Address,
		Budget:     d.Budget,
		Notes:      d.Notes,
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
	if d.ExpiresAt != nil {
		t := d.ExpiresAt.UTC()
		job.ExpiresAt = &t
	}
	return job
}
