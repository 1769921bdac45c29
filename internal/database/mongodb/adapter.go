// Package mongodb is the document-store storage backend.  Descriptors use
// the URI form:
//
//	{"type": "MongoDB", "connectionString": "mongodb://localhost/"}
//
// Users carry a `credentialKeys` array ("provider:externalId") guarded by
// a unique multikey index, so two concurrent first logins with the same
// credential cannot both insert.  The loser gets a duplicate-key error,
// reported as database.ErrConflict.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

const (
	appsCollection  = "apps"
	usersCollection = "users"
	credentialField = "credentialKeys"
)

// Register binds the MongoDB tag.
func Register(r *database.Registry) {
	r.Register(database.TypeMongoDB, NewAdapter)
}

// Settings is the MongoDB descriptor payload.
type Settings struct {
	ConnectionString string `json:"connectionString"`
	MaxPoolSize      uint64 `json:"maxPoolSize"`
}

// Adapter implements database.Adapter for one cluster descriptor.
type Adapter struct {
	settings Settings
}

var _ database.Adapter = (*Adapter)(nil)

// NewAdapter validates the descriptor payload.
func NewAdapter(d database.Descriptor) (database.Adapter, error) {
	var s Settings
	if err := d.Decode(&s); err != nil {
		return nil, err
	}
	if s.ConnectionString == "" {
		return nil, fmt.Errorf("mongodb cluster %q: connectionString is required", d.Name)
	}
	return &Adapter{settings: s}, nil
}

func (a *Adapter) Type() string { return database.TypeMongoDB }

// Connect opens a client, pings the primary, and ensures the credential
// index exists on the tenant database.
func (a *Adapter) Connect(ctx context.Context, name string) (database.Handle, error) {
	opts := options.Client().
		ApplyURI(a.settings.ConnectionString).
		SetConnectTimeout(10 * time.Second)
	if a.settings.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(a.settings.MaxPoolSize)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	h := &Handle{client: client, db: client.Database(name)}
	if err := h.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return h, nil
}

func (a *Adapter) Query(ctx context.Context, h database.Handle, req database.Request) (database.Result, error) {
	if _, ok := h.(*Handle); !ok {
		return database.Result{}, fmt.Errorf("mongodb: foreign handle %T", h)
	}
	return database.Dispatch(ctx, h, req)
}

/*──────────────────────────── handle ──────────────────────────────────────*/

// Handle wraps one client bound to a tenant database.
type Handle struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ database.Handle = (*Handle)(nil)

type userDoc struct {
	database.User  `bson:",inline"`
	CredentialKeys []string `bson:"credentialKeys"`
}

func (h *Handle) ensureIndexes(ctx context.Context) error {
	_, err := h.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: credentialField, Value: 1}},
		Options: options.Index().
			SetName("uniq_credential_keys").
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: credentialField + ".0", Value: bson.D{{Key: "$exists", Value: true}}}}),
	})
	if err != nil {
		return fmt.Errorf("mongodb ensure index: %w", err)
	}
	return nil
}

func (h *Handle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}

func (h *Handle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.client.Disconnect(ctx)
}

func (h *Handle) FindApp(ctx context.Context, hostname string) (*meta.Record, error) {
	var rec meta.Record
	err := h.db.Collection(appsCollection).
		FindOne(ctx, bson.D{{Key: "hostname", Value: hostname}}).
		Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (h *Handle) GetUser(ctx context.Context, id string) (*database.User, error) {
	return h.findUser(ctx, bson.D{{Key: "_id", Value: id}})
}

func (h *Handle) FindUserByCredential(ctx context.Context, provider, externalID string) (*database.User, error) {
	key := database.CredentialKey(provider, externalID)
	return h.findUser(ctx, bson.D{{Key: credentialField, Value: key}})
}

func (h *Handle) findUser(ctx context.Context, filter bson.D) (*database.User, error) {
	var doc userDoc
	err := h.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &doc.User, nil
}

// InsertUser relies on the unique credential index for atomicity.
func (h *Handle) InsertUser(ctx context.Context, u *database.User) error {
	doc := userDoc{User: *u, CredentialKeys: u.CredentialKeys()}
	if _, err := h.db.Collection(usersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return database.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
