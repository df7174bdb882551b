package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("migrations need the postgres storage")
)

type commandLine struct {
	conf            *core.Config
	db              *sql.DB // nil for the in-memory storage
	profileRepo     profile.Repository
	profileSvc      *profile.Service
	matchingSvc     *matching.Service
	notificationSvc *notification.Service
	out             io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL [-admin] [-first NAME] [-last NAME] [-bundesland B] [-klassenstufe K] - create or update a profile")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset a profile's password")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command")
	fmt.Fprintln(cli.out, "  match - create pending groups for every compatible set of students")
	fmt.Fprintln(cli.out, "  notify - retry undelivered group notifications once")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserEmail := addUserCmd.String("email", "", "The profile's email. The password will be prompted next.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant the admin role.")
	addUserFirst := addUserCmd.String("first", "", "First name (new profiles only).")
	addUserLast := addUserCmd.String("last", "", "Last name (new profiles only).")
	addUserRegion := addUserCmd.String("bundesland", "", "Bundesland (new profiles only).")
	addUserGrade := addUserCmd.String("klassenstufe", "", "Klassenstufe (new profiles only).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordCmd.SetOutput(cli.out)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The profile's email. The password will be prompted next.")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(newUserArgs{
			email:   *addUserEmail,
			first:   *addUserFirst,
			last:    *addUserLast,
			region:  *addUserRegion,
			grade:   *addUserGrade,
			isAdmin: *addUserAdmin,
		}, pwd)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "match":
		return cli.match()
	case "notify":
		return cli.notify()
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
