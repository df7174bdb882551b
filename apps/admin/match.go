package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gruppenschlau/gruppenschlau/core"
)

func (cli *commandLine) match() error {
	results, err := cli.matchingSvc.Commit(context.Background(), core.SystemSession)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(cli.out, "%s  %s / %s  %d students  [%s]\n",
			r.GroupID, r.Region, r.Grade, r.StudentCount, strings.Join(r.CommonSlots, ", "))
	}
	fmt.Fprintf(cli.out, "%d group(s) created\n", len(results))
	return nil
}

func (cli *commandLine) notify() error {
	delivered, err := cli.notificationSvc.Retry(context.Background(), cli.conf.Notification.MaxAttempts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d notification(s) delivered\n", delivered)
	return nil
}
