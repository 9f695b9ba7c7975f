package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sql.DB // nil unless the engine is postgres
	usrRepo user.Repository
	attSvc  attendance.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) on the postgres database")
	fmt.Println("  adduser -name NAME -username USERNAME -email EMAIL [-role admin|student] - create or update a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  resetattendance [-period KEY] [-date YYYY-MM-DD -granularity day|week] [-students ID,ID] - delete attendance records")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", "admin", "admin | student")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	resetAttendanceCmd := flag.NewFlagSet("resetattendance", flag.ContinueOnError)
	resetAttendancePeriod := resetAttendanceCmd.String("period", "", "The period key, eg: 2024-W10 or 2024-03-04.")
	resetAttendanceDate := resetAttendanceCmd.String("date", "", "A date (YYYY-MM-DD) inside the period.")
	resetAttendanceGranularity := resetAttendanceCmd.String("granularity", "", "The granularity of -date: day | week.")
	resetAttendanceStudents := resetAttendanceCmd.String("students", "", "Comma-separated student IDs.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			fmt.Println("Usage: migrate COMMAND [ARGS]")
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" && *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserRole)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "resetattendance":
		if err := resetAttendanceCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		var students []string
		if *resetAttendanceStudents != "" {
			students = strings.Split(*resetAttendanceStudents, ",")
		}
		n, err := cli.resetAttendance(*resetAttendancePeriod, *resetAttendanceDate, *resetAttendanceGranularity, students)
		if err != nil {
			return err
		}
		fmt.Printf("%d attendance record(s) deleted\n", n)
		return nil

	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
