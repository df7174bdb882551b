package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

type newUserArgs struct {
	email, first, last, region, grade string
	isAdmin                           bool
}

// addUser updates or creates a profile.Profile
func (cli *commandLine) addUser(args newUserArgs, pwd string) error {
	ctx := context.Background()
	email := core.CleanString(args.email, true /* lower */)

	p, err := cli.profileRepo.GetProfileByEmail(ctx, email)
	exists := err == nil
	if err != nil {
		if errors.Cause(err) != profile.ErrNotFound {
			return err
		}
		now := core.NowFunc()
		p = profile.Profile{
			FirstName:        core.CleanString(args.first),
			LastName:         core.CleanString(args.last),
			Email:            email,
			Region:           core.CleanString(args.region),
			Grade:            core.CleanString(args.grade),
			SessionsPerMonth: profile.DefaultSessionsPerMonth,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	if args.isAdmin {
		p.IsAdmin = true
	}
	if err = profile.CheckPasswordPolicy(pwd, p); err != nil {
		return err
	}
	if err = p.SetPassword(pwd); err != nil {
		return err
	}

	if exists {
		p.UpdatedAt = core.NowFunc()
		_, err = cli.profileRepo.UpdateProfile(ctx, p)
	} else {
		_, err = cli.profileRepo.CreateProfile(ctx, p)
	}
	return err
}
