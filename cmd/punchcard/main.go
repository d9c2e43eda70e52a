package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	apiclient "github.com/adenalhardan/punchcard-backend/pkg/api/client"
)

var buildVersion = "dev"

const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "name":
		err = commandName(args)
	case "event":
		err = commandEvent(args)
	case "form":
		err = commandForm(args)
	case "sweep":
		err = commandSweep(args)
	case "health":
		err = commandHealth(args)
	case "version", "--version", "-v":
		fmt.Printf("punchcard %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`punchcard - command line client for the punchcard API

Usage:
  punchcard name
  punchcard event create --host ID --title T [--host-name N] --fields age:integer:required,note:string:optional
  punchcard event list --host ID
  punchcard event delete --host ID --title T
  punchcard form submit --host ID --title T --id SUBMITTER --values age=5,note=
  punchcard form list --host ID --title T
  punchcard form count --host ID --title T
  punchcard sweep
  punchcard health

Environment:
  PUNCHCARD_API          API base URL (default http://localhost:4000)
  PUNCHCARD_ADMIN_TOKEN  token for the sweep command`)
}

func newClient() (*apiclient.Client, error) {
	return apiclient.New(os.Getenv("PUNCHCARD_API"), apiclient.WithAdminToken(os.Getenv("PUNCHCARD_ADMIN_TOKEN")))
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// interactive reports whether stdout is a terminal; piped output is emitted as JSON.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func commandName(args []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	name, err := cli.Name(ctx)
	if err != nil {
		return err
	}
	fmt.Println(name)
	return nil
}

func commandEvent(args []string) error {
	if len(args) == 0 {
		return errors.New("event subcommand required (create|list|delete)")
	}
	fs := flag.NewFlagSet("event "+args[0], flag.ExitOnError)
	host := fs.String("host", "", "host id")
	title := fs.String("title", "", "event title")
	hostName := fs.String("host-name", "", "host display name")
	fields := fs.String("fields", "", "comma separated name:type:presence declarations")
	fs.Parse(args[1:])

	if strings.TrimSpace(*host) == "" {
		return errors.New("--host is required")
	}
	cli, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	switch args[0] {
	case "create":
		decls, err := parseFields(*fields)
		if err != nil {
			return err
		}
		if err := cli.CreateEvent(ctx, apiclient.CreateEventRequest{HostID: *host, Title: *title, HostName: *hostName, Fields: decls}); err != nil {
			return err
		}
		fmt.Println("event created")
		return nil
	case "list":
		events, err := cli.ListEvents(ctx, *host)
		if err != nil {
			return err
		}
		if !interactive() {
			return printJSON(os.Stdout, events)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TITLE\tHOST NAME\tFIELDS\tEXPIRES")
		for _, ev := range events {
			names := make([]string, 0, len(ev.Fields))
			for _, f := range ev.Fields {
				names = append(names, f.Name)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.Title, ev.HostName, strings.Join(names, ","), ev.ExpiresAt)
		}
		return tw.Flush()
	case "delete":
		if err := cli.DeleteEvent(ctx, *host, *title); err != nil {
			return err
		}
		fmt.Println("event deleted")
		return nil
	default:
		return fmt.Errorf("unknown event subcommand: %s", args[0])
	}
}

func commandForm(args []string) error {
	if len(args) == 0 {
		return errors.New("form subcommand required (submit|list|count)")
	}
	fs := flag.NewFlagSet("form "+args[0], flag.ExitOnError)
	host := fs.String("host", "", "host id")
	title := fs.String("title", "", "event title")
	id := fs.String("id", "", "submitter id")
	values := fs.String("values", "", "comma separated name=value pairs")
	fs.Parse(args[1:])

	if strings.TrimSpace(*host) == "" || strings.TrimSpace(*title) == "" {
		return errors.New("--host and --title are required")
	}
	cli, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()

	switch args[0] {
	case "submit":
		parsed, err := parseValues(*values)
		if err != nil {
			return err
		}
		if err := cli.SubmitForm(ctx, apiclient.SubmitFormRequest{ID: *id, HostID: *host, EventTitle: *title, Values: parsed}); err != nil {
			return err
		}
		fmt.Println("form submitted")
		return nil
	case "list":
		forms, err := cli.ListForms(ctx, *host, *title)
		if err != nil {
			return err
		}
		if !interactive() {
			return printJSON(os.Stdout, forms)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSUBMITTED\tVALUES")
		for _, f := range forms {
			pairs := make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				pairs = append(pairs, fmt.Sprintf("%s=%v", v.Name, v.Value))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ID, f.SubmittedAt, strings.Join(pairs, " "))
		}
		return tw.Flush()
	case "count":
		count, err := cli.CountForms(ctx, *host, *title)
		if err != nil {
			return err
		}
		fmt.Println(count)
		return nil
	default:
		return fmt.Errorf("unknown form subcommand: %s", args[0])
	}
}

func commandSweep(args []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	purged, err := cli.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired events\n", purged)
	return nil
}

func commandHealth(args []string) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	health, err := cli.Health(ctx)
	if health.Status != "" {
		if perr := printJSON(os.Stdout, health); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFields reads "name:type:presence" declarations separated by commas.
func parseFields(raw string) ([]apiclient.Field, error) {
	fields := make([]apiclient.Field, 0)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("field %q must be name:type:presence", item)
		}
		fields = append(fields, apiclient.Field{Name: parts[0], Type: parts[1], Presence: parts[2]})
	}
	return fields, nil
}

// parseValues reads "name=value" pairs separated by commas. Values are sent as text.
func parseValues(raw string) ([]apiclient.Value, error) {
	values := make([]apiclient.Value, 0)
	for _, item := range strings.Split(raw, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("value %q must be name=value", item)
		}
		values = append(values, apiclient.Value{Name: strings.TrimSpace(name), Value: value})
	}
	return values, nil
}
