package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jobchat/internal/domain/chat"
)

// Directory resolves profiles and session tokens from the "profiles" and
// "sessions" collections.
type Directory struct {
	profiles *mongo.Collection
	sessions *mongo.Collection
	now      func() time.Time
}

func NewDirectory(ctx context.Context, db *mongo.Database) (*Directory, error) {
	sessions := db.Collection("sessions")
	_, err := sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, err
	}
	return &Directory{profiles: db.Collection("profiles"), sessions: sessions, now: time.Now}, nil
}

func (d *Directory) Profiles(ctx context.Context, ids []chat.UserID) (map[chat.UserID]chat.Profile, error) {
	out := make(map[chat.UserID]chat.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, string(id))
	}
	cur, err := d.profiles.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc profileDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out[chat.UserID(doc.ID)] = chat.Profile{ID: chat.UserID(doc.ID), DisplayName: doc.DisplayName, Support: doc.Support}
	}
	return out, cur.Err()
}

// CurrentUser returns the user bound to an unexpired session token.
func (d *Directory) CurrentUser(ctx context.Context, token string) (chat.UserID, error) {
	if token == "" {
		return "", chat.ErrUnauthenticated
	}
	var doc sessionDocument
	filter := bson.M{"_id": token, "expires_at": bson.M{"$gt": d.now().UTC()}}
	if err := d.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", chat.ErrUnauthenticated
		}
		return "", err
	}
	return chat.UserID(doc.UserID), nil
}

// SaveProfile upserts a profile.
func (d *Directory) SaveProfile(ctx context.Context, p chat.Profile) error {
	doc := profileDocument{ID: string(p.ID), DisplayName: p.DisplayName, Support: p.Support}
	_, err := d.profiles.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

// IssueToken binds token to user until ttl elapses.
func (d *Directory) IssueToken(ctx context.Context, token string, user chat.UserID, ttl time.Duration) error {
	doc := sessionDocument{ID: token, UserID: string(user), ExpiresAt: d.now().UTC().Add(ttl)}
	_, err := d.sessions.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type profileDocument struct {
	ID          string `bson:"_id"`
	DisplayName string `bson:"display_name"`
	Support     bool   `bson:"support"`
}

type sessionDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}
