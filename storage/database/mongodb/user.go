package mongodb

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/user"
)

var (
	userOrderingFields = map[string]string{
		"name":       "name",
		"username":   "username",
		"email":      "email",
		"created_at": "created_at",
		"last_login": "last_login",
	}
	userDefaultOrdering = []core.DBOrdering{{Field: "created_at"}, {Field: "username", Ascending: true}}
)

type userDoc struct {
	ID           string     `bson:"_id"`
	Name         string     `bson:"name"`
	Username     string     `bson:"username,omitempty"`
	Email        string     `bson:"email,omitempty"`
	PasswordHash []byte     `bson:"password_hash"`
	IsActive     bool       `bson:"is_active"`
	Roles        []string   `bson:"roles"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	LastLogin    *time.Time `bson:"last_login,omitempty"`
}

func newUserDoc(usr user.User) userDoc {
	doc := userDoc{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		PasswordHash: usr.PasswordHash,
		IsActive:     usr.IsActive,
		Roles:        usr.Roles,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
	}
	if doc.Roles == nil {
		doc.Roles = []string{}
	}
	if !usr.LastLogin.IsZero() {
		ll := usr.LastLogin.UTC()
		doc.LastLogin = &ll
	}
	return doc
}

func (doc userDoc) toUser() user.User {
	usr := user.User{
		ID:           doc.ID,
		Name:         doc.Name,
		Username:     doc.Username,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		IsActive:     doc.IsActive,
		Roles:        doc.Roles,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
	if doc.LastLogin != nil {
		usr.LastLogin = doc.LastLogin.UTC()
	}
	return usr
}

// userConflict maps a duplicate key error to its sentinel; it returns nil for other errors.
func userConflict(err error) error {
	name, ok := duplicateIndex(err, usernameIndex, emailIndex)
	if !ok {
		return nil
	}
	if name == emailIndex {
		return user.ErrEmailExists
	}
	return user.ErrUsernameExists
}

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(s *Store) user.Repository {
	return &userRepository{base: s.newBase(usersColl)}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	or := bson.A{}
	if username != "" {
		or = append(or, bson.M{"username": username})
	}
	if email != "" {
		or = append(or, bson.M{"email": email})
	}
	if len(or) == 0 {
		return nil
	}
	excluded := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, u.ID)
	}

	var owners []userDoc
	filter := bson.M{"$or": or, "_id": bson.M{"$nin": excluded}}
	if err := repo.findAll(ctx, filter, &owners); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	for _, o := range owners {
		if username != "" && o.Username == username {
			return user.ErrUsernameExists
		}
	}
	if len(owners) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	usr.ID = uuid.New().String()
	if _, err := repo.coll.InsertOne(ctx, newUserDoc(usr)); err != nil {
		if cErr := userConflict(err); cErr != nil {
			return user.User{}, cErr
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter != nil {
		if filter.Search != "" {
			re := containsRegex(filter.Search)
			query["$or"] = bson.A{bson.M{"name": re}, bson.M{"username": re}, bson.M{"email": re}}
		}
		if len(filter.Roles) > 0 {
			prefixes := make(bson.A, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				prefixes = append(prefixes, primitive.Regex{Pattern: "^" + regexp.QuoteMeta(role)})
			}
			query["roles"] = bson.M{"$in": prefixes}
		}
		if filter.IsActive != nil {
			query["is_active"] = *filter.IsActive
		}
		created := bson.M{}
		if !filter.CreatedFrom.IsZero() {
			created["$gte"] = filter.CreatedFrom.UTC()
		}
		if !filter.CreatedTo.IsZero() {
			created["$lte"] = filter.CreatedTo.UTC()
		}
		if len(created) > 0 {
			query["created_at"] = created
		}
	}

	ordering = core.CleanOrderings(ordering, userOrderingFields)
	if len(ordering) == 0 {
		ordering = userDefaultOrdering
	}

	var docs []userDoc
	if err := repo.findAll(ctx, query, &docs, options.Find().SetSort(sortDoc(ordering))); err != nil {
		return nil, errors.Wrap(err, "finding users")
	}
	users := make([]user.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	or := bson.A{}
	if filter.ID != "" {
		or = append(or, bson.M{"_id": filter.ID})
	}
	if len(filter.UsernameOrEmail) > 0 {
		or = append(or,
			bson.M{"username": bson.M{"$in": filter.UsernameOrEmail}},
			bson.M{"email": bson.M{"$in": filter.UsernameOrEmail}},
		)
	}
	if len(or) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var doc userDoc
	if err := repo.coll.FindOne(ctx, bson.M{"$or": or}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	return doc.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	res, err := repo.coll.ReplaceOne(ctx, bson.M{"_id": usr.ID}, newUserDoc(usr))
	if err != nil {
		if cErr := userConflict(err); cErr != nil {
			return user.User{}, cErr
		}
		return user.User{}, errors.Wrap(err, "replacing user")
	}
	if res.MatchedCount == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	if len(ids) == 0 {
		return nil
	}
	if _, err := repo.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
