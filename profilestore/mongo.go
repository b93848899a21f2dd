package profilestore

import (
	"context"
	"errors"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the Mongo profile store.
type MongoConfig struct {
	URI        string        `yaml:"uri"`        // e.g. mongodb://localhost:27017
	Database   string        `yaml:"database"`   // e.g. gogate
	Collection string        `yaml:"collection"` // e.g. profiles
	Timeout    time.Duration `yaml:"timeout"`
}

// Mongo keeps one document per subject with the subject ID as _id.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// OpenMongo connects, pings and returns a store over cfg.Collection.
func OpenMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "gogate"
	}
	if cfg.Collection == "" {
		cfg.Collection = "profiles"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	m := NewMongo(client.Database(cfg.Database).Collection(cfg.Collection), cfg.Timeout)
	m.client = client
	return m, nil
}

// NewMongo wraps an existing collection. timeout bounds each call; zero
// means 5s.
func NewMongo(coll *mongo.Collection, timeout time.Duration) *Mongo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Mongo{collection: coll, timeout: timeout}
}

// EnsureIndexes creates the tenant lookup index.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}},
		Options: options.Index().SetName("tenant_idx").SetSparse(true),
	})
	return err
}

func (m *Mongo) GetProfile(ctx context.Context, subjectID string) (*goGate.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var p goGate.Profile
	err := m.collection.FindOne(ctx, bson.M{"_id": subjectID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, goGate.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *Mongo) CreateProfile(ctx context.Context, p *goGate.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.collection.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (m *Mongo) UpdateProfile(ctx context.Context, p *goGate.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.collection.ReplaceOne(ctx, bson.M{"_id": p.SubjectID}, p)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return goGate.ErrProfileNotFound
	}
	return nil
}

// Close disconnects a client opened by OpenMongo.
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
