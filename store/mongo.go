package store

import (
	"context"
	"errors"
	"time"

	"github.com/actionforge/flowrun/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	MONGODB_DATABASE_DEFAULT     = "flowrun"
	MONGODB_COLLECTION_VERSIONS  = "workflow_versions"
	MONGODB_SAVE_VERSION_RETRIES = 3
)

// mongoVersion is the stored form of a snapshot. The document is kept as
// its json encoding so the digest stays reproducible.
type mongoVersion struct {
	WorkflowId string    `bson:"workflowId"`
	Version    int       `bson:"version"`
	Digest     string    `bson:"digest"`
	Document   string    `bson:"document"`
	CreatedAt  time.Time `bson:"createdAt"`
}

type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type MongoOpts struct {
	Url        string
	Database   string
	Username   string
	Password   string
	AuthSource string
}

func NewMongoStore(ctx context.Context, opts MongoOpts) (*MongoStore, error) {
	clientOpts := options.Client().ApplyURI(opts.Url)
	if opts.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username:   opts.Username,
			Password:   opts.Password,
			AuthSource: opts.AuthSource,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, core.CreateErr(err, "unable to connect to mongodb")
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, core.CreateErr(err, "unable to reach mongodb")
	}

	database := opts.Database
	if database == "" {
		database = MONGODB_DATABASE_DEFAULT
	}
	collection := client.Database(database).Collection(MONGODB_COLLECTION_VERSIONS)

	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "workflowId", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, core.CreateErr(err, "unable to create version index")
	}

	return &MongoStore{
		client:     client,
		collection: collection,
	}, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// SaveVersion relies on the unique index, a writer that loses the race
// for a version number retries with the next one.
func (s *MongoStore) SaveVersion(ctx context.Context, workflowId string, doc core.Document) (Snapshot, error) {
	if err := checkWorkflowId(workflowId); err != nil {
		return Snapshot{}, err
	}

	raw, digest, err := encodeDocument(doc)
	if err != nil {
		return Snapshot{}, err
	}

	var version int
	for range MONGODB_SAVE_VERSION_RETRIES {
		latest, err := s.latestVersionNumber(ctx, workflowId)
		if err != nil {
			return Snapshot{}, err
		}

		version = latest + 1
		v := mongoVersion{
			WorkflowId: workflowId,
			Version:    version,
			Digest:     digest,
			Document:   string(raw),
			CreatedAt:  timeNow().Truncate(time.Millisecond),
		}

		_, err = s.collection.InsertOne(ctx, v)
		if err == nil {
			return decodeSnapshot(workflowId, version, digest, v.CreatedAt, raw)
		}
		if !mongo.IsDuplicateKeyError(err) {
			return Snapshot{}, core.CreateErr(err, "unable to save version %d of '%s'", version, workflowId)
		}
	}

	return Snapshot{}, conflict(workflowId, version)
}

func (s *MongoStore) latestVersionNumber(ctx context.Context, workflowId string) (int, error) {
	var v mongoVersion
	err := s.collection.FindOne(ctx,
		bson.M{"workflowId": workflowId},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}).SetProjection(bson.M{"version": 1}),
	).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	} else if err != nil {
		return 0, core.CreateErr(err, "unable to read latest version of '%s'", workflowId)
	}
	return v.Version, nil
}

func (s *MongoStore) GetVersion(ctx context.Context, workflowId string, version int) (Snapshot, error) {
	return s.findOne(ctx, workflowId, version,
		bson.M{"workflowId": workflowId, "version": version},
		options.FindOne())
}

func (s *MongoStore) LatestVersion(ctx context.Context, workflowId string) (Snapshot, error) {
	return s.findOne(ctx, workflowId, 0,
		bson.M{"workflowId": workflowId},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}))
}

func (s *MongoStore) findOne(ctx context.Context, workflowId string, version int, filter bson.M, opts *options.FindOneOptions) (Snapshot, error) {
	var v mongoVersion
	err := s.collection.FindOne(ctx, filter, opts).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{}, notFound(workflowId, version)
	} else if err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to read workflow '%s'", workflowId)
	}
	return decodeSnapshot(v.WorkflowId, v.Version, v.Digest, v.CreatedAt, []byte(v.Document))
}

func (s *MongoStore) ListVersions(ctx context.Context, workflowId string) ([]Snapshot, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"workflowId": workflowId},
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}}),
	)
	if err != nil {
		return nil, core.CreateErr(err, "unable to list versions of '%s'", workflowId)
	}

	var versions []mongoVersion
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, core.CreateErr(err, "unable to read versions of '%s'", workflowId)
	}

	snapshots := make([]Snapshot, 0, len(versions))
	for _, v := range versions {
		snap, err := decodeSnapshot(v.WorkflowId, v.Version, v.Digest, v.CreatedAt, []byte(v.Document))
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
