package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

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

const userColumns = "id, name, username, email, password_hash, is_active, roles, created_at, updated_at, last_login"

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	PasswordHash []byte         `db:"password_hash"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	pwdHash := usr.PasswordHash
	if pwdHash == nil {
		pwdHash = []byte{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		PasswordHash: pwdHash,
		IsActive:     usr.IsActive,
		Roles:        roles,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		PasswordHash: row.PasswordHash,
		IsActive:     row.IsActive,
		Roles:        []string(row.Roles),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time.UTC()
	}
	return usr
}

func userConflict(err error) error {
	if constraint, ok := uniqueConstraint(err); ok {
		switch constraint {
		case "users_username_key":
			return user.ErrUsernameExists
		case "users_email_key":
			return user.ErrEmailExists
		}
	}
	return err
}

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB, timeout time.Duration) user.Repository {
	return &userRepository{base: newBase(db, timeout)}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	excluded := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, u.ID)
	}

	var owners []struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	q := `SELECT username, email FROM users
		WHERE (username = $1 OR email = $2) AND NOT (id::text = ANY($3))`
	if err := repo.db.SelectContext(ctx, &owners, q, null.NewString(username, username != ""), null.NewString(email, email != ""), pq.StringArray(excluded)); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	for _, o := range owners {
		if username != "" && o.Username.String == username {
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
	q := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :name, :username, :email, :password_hash, :is_active, :roles, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, newUserRow(usr)); err != nil {
		if cErr := userConflict(err); cErr != err {
			return user.User{}, cErr
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var wb whereBuilder
	if filter != nil {
		if filter.Search != "" {
			wb.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", "%"+filter.Search+"%")
		}
		if len(filter.Roles) > 0 {
			prefixes := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				prefixes = append(prefixes, role+"%")
			}
			wb.add("EXISTS (SELECT 1 FROM unnest(roles) AS r WHERE r LIKE ANY(?))", pq.StringArray(prefixes))
		}
		if filter.IsActive != nil {
			wb.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			wb.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			wb.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	ordering = core.CleanOrderings(ordering, userOrderingFields)
	if len(ordering) == 0 {
		ordering = userDefaultOrdering
	}

	var rows []userRow
	q := "SELECT " + userColumns + " FROM users" + wb.String() + orderBy(ordering)
	if err := repo.db.SelectContext(ctx, &rows, q, wb.args...); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	id := filter.ID
	if !isUUID(id) {
		id = "" // never matches
	}
	if id == "" && len(filter.UsernameOrEmail) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := "SELECT " + userColumns + ` FROM users
		WHERE id::text = $1 OR username = ANY($2) OR email = ANY($2)
		LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, id, pq.StringArray(filter.UsernameOrEmail)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "selecting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	if !isUUID(usr.ID) {
		return user.User{}, user.ErrNotFound
	}
	q := `UPDATE users SET
			name = :name, username = :username, email = :email, password_hash = :password_hash,
			is_active = :is_active, roles = :roles, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, newUserRow(usr))
	if err != nil {
		if cErr := userConflict(err); cErr != err {
			return user.User{}, cErr
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
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
	if _, err := repo.db.ExecContext(ctx, "DELETE FROM users WHERE id::text = ANY($1)", pq.StringArray(ids)); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
