package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go.hackfix.me/harvest/db/types"
)

// User is a storefront account. Staff accounts have an admin type.
type User struct {
	ID           uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	AdminType    *AdminType
}

// SetPassword stores the bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	if password == "" {
		return types.InvalidInputError{Msg: "password must not be empty"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed hashing password: %w", err)
	}
	u.PasswordHash = string(hash)

	return nil
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Save stores the user data in the database. When updating, the user is
// looked up by ID, or by email if the ID isn't set.
func (u *User) Save(ctx context.Context, d types.Querier, timeNow time.Time, update bool) error {
	timeNow = timeNow.UTC()
	var adminTypeID sql.Null[uint64]
	if u.AdminType != nil {
		adminTypeID = sql.Null[uint64]{V: u.AdminType.ID, Valid: true}
	}

	if update { //nolint:nestif // It's fine.
		var filter *types.Filter
		var filterStr string
		switch {
		case u.ID != 0:
			filter = &types.Filter{Where: "id = ?", Args: []any{u.ID}}
			filterStr = fmt.Sprintf("ID %d", u.ID)
		case u.Email != "":
			filter = &types.Filter{Where: "email = ?", Args: []any{u.Email}}
			filterStr = fmt.Sprintf("email '%s'", u.Email)
		default:
			return errors.New("must provide either a user email or ID to update")
		}

		args := append([]any{
			u.PasswordHash, u.FirstName, u.LastName, u.Phone, adminTypeID, timeNow,
		}, filter.Args...)
		updateStmt := fmt.Sprintf(`UPDATE users
			SET password = ?, first_name = ?, last_name = ?, phone = ?,
				admin_type_id = ?, updated_at = ?
			WHERE %s`, filter.Where)
		res, err := d.ExecContext(ctx, updateStmt, args...)
		if err != nil {
			return types.Err("user", filterStr, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed getting affected rows: %w", err)
		}
		if n == 0 {
			return types.NoResultError{ModelName: "user", ID: filterStr}
		}
		if n > 1 {
			return types.IntegrityError{Msg: fmt.Sprintf("updated %d users", n)}
		}
		u.UpdatedAt = timeNow
	} else {
		if u.PasswordHash == "" {
			return types.InvalidInputError{Msg: "user password must be set"}
		}
		insertStmt := `INSERT INTO users
		(id, email, password, first_name, last_name, phone, admin_type_id, created_at, updated_at)
		VALUES (NULL, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := d.ExecContext(ctx, insertStmt, u.Email, u.PasswordHash,
			u.FirstName, u.LastName, u.Phone, adminTypeID, timeNow, timeNow)
		if err != nil {
			return types.Err("user", fmt.Sprintf("email '%s'", u.Email), err)
		}

		u.ID, err = lastInsertID(res)
		if err != nil {
			return err
		}
		u.CreatedAt = timeNow
		u.UpdatedAt = timeNow
	}

	return nil
}

// Load the user data from the database. Either the user ID or Email must be
// set for the lookup.
func (u *User) Load(ctx context.Context, d types.Querier) error {
	if u.ID == 0 && u.Email == "" {
		return types.InvalidInputError{Msg: "either user ID or Email must be set"}
	}

	var filter *types.Filter
	var filterStr string
	if u.ID != 0 {
		filter = &types.Filter{Where: "u.id = ?", Args: []any{u.ID}}
		filterStr = fmt.Sprintf("ID %d", u.ID)
	} else {
		filter = &types.Filter{Where: "u.email = ?", Args: []any{u.Email}}
		filterStr = fmt.Sprintf("email '%s'", u.Email)
	}

	users, err := Users(ctx, d, filter)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		return types.NoResultError{ModelName: "user", ID: filterStr}
	}

	// The unique constraints on users.id and users.email should return only a
	// single result.
	if len(users) > 1 {
		panic(fmt.Sprintf("users query returned more than 1 user: %d", len(users)))
	}
	*u = *users[0]

	return nil
}

// Users returns one or more users from the database. An optional filter can be
// passed to limit the results.
func Users(ctx context.Context, d types.Querier, filter *types.Filter) (users []*User, rerr error) {
	query := `SELECT u.id, u.created_at, u.updated_at, u.email, u.password,
			IFNULL(u.first_name, ''), IFNULL(u.last_name, ''), u.phone,
			at.id, at.name, at.level
		FROM users u
		LEFT JOIN admin_types at ON u.admin_type_id = at.id
		`
	clause, args := filter.Clause("u.email ASC")
	query += clause

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "users", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing users rows: %w", err)
		}
	}()

	users = make([]*User, 0)
	for rows.Next() {
		var (
			u         User
			createdAt sql.Null[time.Time]
			updatedAt sql.Null[time.Time]
			atID      sql.Null[uint64]
			atName    sql.Null[string]
			atLevel   sql.Null[int]
		)
		err = rows.Scan(&u.ID, &createdAt, &updatedAt, &u.Email, &u.PasswordHash,
			&u.FirstName, &u.LastName, &u.Phone, &atID, &atName, &atLevel)
		if err != nil {
			return nil, types.ScanError{ModelName: "user", Err: err}
		}
		u.CreatedAt, u.UpdatedAt = createdAt.V, updatedAt.V
		if atID.Valid {
			u.AdminType = &AdminType{ID: atID.V, Name: atName.V, Level: atLevel.V}
		}
		users = append(users, &u)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over users rows: %w", err)
	}

	return users, nil
}
