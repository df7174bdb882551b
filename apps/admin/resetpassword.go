package main

import (
	"context"

	"github.com/gruppenschlau/gruppenschlau/core"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	p, err := cli.profileSvc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	return cli.profileSvc.SetPassword(ctx, core.SystemSession, p.ID, pwd)
}
