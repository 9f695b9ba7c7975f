// Package mongodb implements the app repositories on MongoDB.
package mongodb

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/trezcool/masomo-portal/core"
)

// collections
const (
	usersColl      = "users"
	examsColl      = "exams"
	resultsColl    = "exam_results"
	attendanceColl = "attendance_records"
)

// unique index names, also used to tell duplicate key errors apart
const (
	usernameIndex      = "users_username_key"
	emailIndex         = "users_email_key"
	examStudentIndex   = "exam_results_exam_student_key"
	studentPeriodIndex = "attendance_records_student_period_key"
)

// Store is an open MongoDB database.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

var _ core.Store = (*Store)(nil) // interface compliance check

// Open connects to conf.Database.MongoURI and selects the conf.Database.Name database.
func Open(ctx context.Context, conf *core.Config) (*Store, error) {
	timeout := conf.Database.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := options.Client().
		ApplyURI(conf.Database.MongoURI).
		SetAppName(conf.AppName).
		SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}
	return &Store{client: client, db: client.Database(conf.Database.Name), timeout: timeout}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Database exposes the underlying database (eg: to drop it in tests).
func (s *Store) Database() *mongo.Database {
	return s.db
}

// EnsureIndexes creates the unique indexes the repositories rely on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersColl: {
			{
				Keys: bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetName(usernameIndex).SetUnique(true).
					SetPartialFilterExpression(bson.M{"username": bson.M{"$type": "string"}}),
			},
			{
				Keys: bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName(emailIndex).SetUnique(true).
					SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}}),
			},
		},
		examsColl: {
			{Keys: bson.D{{Key: "subject", Value: 1}}},
		},
		resultsColl: {
			{
				Keys:    bson.D{{Key: "exam_id", Value: 1}, {Key: "student_id", Value: 1}},
				Options: options.Index().SetName(examStudentIndex).SetUnique(true),
			},
			{Keys: bson.D{{Key: "student_id", Value: 1}}},
		},
		attendanceColl: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "period_key", Value: 1}},
				Options: options.Index().SetName(studentPeriodIndex).SetUnique(true),
			},
			{Keys: bson.D{{Key: "period_key", Value: 1}}},
			{Keys: bson.D{{Key: "marked_at", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "creating %s indexes", coll)
		}
	}
	return nil
}

// base holds what all repositories share.
type base struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func (s *Store) newBase(coll string) base {
	return base{coll: s.db.Collection(coll), timeout: s.timeout}
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// duplicateIndex returns the name of the unique index err violates, if any.
func duplicateIndex(err error, names ...string) (string, bool) {
	if !mongo.IsDuplicateKeyError(err) {
		return "", false
	}
	for _, name := range names {
		if strings.Contains(err.Error(), name) {
			return name, true
		}
	}
	return "", true
}

func containsRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func sortDoc(orderings []core.DBOrdering) bson.D {
	sort := make(bson.D, 0, len(orderings))
	for _, ord := range orderings {
		direction := -1
		if ord.Ascending {
			direction = 1
		}
		sort = append(sort, bson.E{Key: ord.Field, Value: direction})
	}
	return sort
}

// findAll runs a find query and decodes every document into out (a pointer to a slice).
func (b base) findAll(ctx context.Context, filter interface{}, out interface{}, opts ...*options.FindOptions) error {
	cur, err := b.coll.Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}
