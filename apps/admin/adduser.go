package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/user"
)

var errInvalidRole = errors.New("role must be one of: admin, student")

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(name, uname, email, pwd, role string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	var roles []string
	switch core.CleanString(role, true /* lower */) {
	case "admin":
		roles = []string{user.RoleAdminOwner}
	case "student":
		roles = []string{user.RoleStudent}
	default:
		return errInvalidRole
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname, email}})
	found := err == nil
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}
	if !found {
		now := time.Now().UTC()
		usr = user.User{
			Name:      name,
			Username:  uname,
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if name != "" {
		usr.Name = core.CleanString(name)
	}
	usr.Roles = roles
	usr.IsActive = true
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if found {
		usr.UpdatedAt = time.Now().UTC()
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
