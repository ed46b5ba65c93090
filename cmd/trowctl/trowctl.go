// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command trowctl inspects a trow backend and manages registry users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/shayne/yargs"
	"github.com/yeetrun/trow/pkg/backendrpc"
	"github.com/yeetrun/trow/pkg/config"
	"github.com/yeetrun/trow/pkg/digest"
	"github.com/yeetrun/trow/pkg/locator"
	"github.com/yeetrun/trow/pkg/regclient"
	"github.com/yeetrun/trow/pkg/users"
	"golang.org/x/term"
)

type globalFlagsParsed struct {
	Config  string `flag:"config" help:"Path to trow.toml"`
	Backend string `flag:"backend" help:"Backend address (overrides config)"`
	Verbose bool   `flag:"verbose" short:"v" help:"Log backend calls"`
}

var (
	stdout io.Writer = color.Output
	stdin  io.Reader = os.Stdin
	cfg    *config.Config
	global globalFlagsParsed

	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	keyColor  = color.New(color.FgCyan)

	// newOpener returns the locator opener used for blob transfers.
	newOpener = func() locator.Opener { return locator.NewMux(locator.NewMemory()) }

	stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
)

func main() {
	g, remaining, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		failColor.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	global = g
	if cfg, err = config.Load(global.Config); err != nil {
		failColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if global.Backend != "" {
		cfg.Backend.Address = global.Backend
	}
	if err := run(context.Background(), remaining); err != nil {
		failColor.Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseGlobalFlags(args []string) (globalFlagsParsed, []string, error) {
	result, err := yargs.ParseKnownFlags[globalFlagsParsed](args, yargs.KnownFlagsOptions{})
	if err != nil {
		return globalFlagsParsed{}, nil, err
	}
	return result.Flags, result.RemainingArgs, nil
}

func run(ctx context.Context, args []string) error {
	helpConfig := buildHelpConfig()
	handlers := map[string]yargs.SubcommandHandler{
		"health":    handleHealth,
		"metrics":   handleMetrics,
		"catalog":   handleCatalog,
		"tags":      handleTags,
		"history":   handleHistory,
		"push-blob": handlePushBlob,
		"get-blob":  handleGetBlob,
	}
	groups := map[string]yargs.Group{
		"user": {
			Description: "Manage registry users",
			Commands: map[string]yargs.SubcommandHandler{
				"add":     handleUserAdd,
				"delete":  handleUserDelete,
				"list":    handleUserList,
				"import":  handleUserImport,
				"enable":  handleUserEnable,
				"disable": handleUserDisable,
			},
		},
	}
	return yargs.RunSubcommandsWithGroups(ctx, args, helpConfig, globalFlagsParsed{}, handlers, groups)
}

func buildHelpConfig() yargs.HelpConfig {
	return yargs.HelpConfig{
		Command: yargs.CommandInfo{
			Name:        "trowctl",
			Description: "Inspect a trow registry backend and manage its users.",
			Examples: []string{
				"trowctl health",
				"trowctl catalog --n=20",
				"trowctl tags library/nginx",
				"trowctl user add alice --password=secret",
			},
		},
		SubCommands: map[string]yargs.SubCommandInfo{
			"health":    {Name: "health", Description: "Show backend health and readiness"},
			"metrics":   {Name: "metrics", Description: "Print backend metrics"},
			"catalog":   {Name: "catalog", Description: "List repositories", Usage: "[--n=N] [--last=REPO]"},
			"tags":      {Name: "tags", Description: "List tags of a repository", Usage: "REPO [--n=N] [--last=TAG]"},
			"history":   {Name: "history", Description: "Show the digests a tag has pointed at", Usage: "REPO TAG [--n=N] [--last=DIGEST]"},
			"push-blob": {Name: "push-blob", Description: "Upload a file as a blob", Usage: "REPO FILE"},
			"get-blob":  {Name: "get-blob", Description: "Download a blob", Usage: "REPO DIGEST [--output=FILE]"},
		},
		Groups: map[string]yargs.GroupInfo{
			"user": {
				Name:        "user",
				Description: "Manage registry users",
				Commands: map[string]yargs.SubCommandInfo{
					"add":     {Name: "add", Description: "Create a user", Usage: "NAME --password=PASSWORD"},
					"delete":  {Name: "delete", Description: "Delete a user", Usage: "NAME [--yes]"},
					"list":    {Name: "list", Description: "List users"},
					"import":  {Name: "import", Description: "Create users from a YAML file", Usage: "FILE"},
					"enable":  {Name: "enable", Description: "Re-enable a user", Usage: "NAME"},
					"disable": {Name: "disable", Description: "Disable a user without deleting it", Usage: "NAME"},
				},
			},
		},
	}
}

// positional drops the command name yargs leaves in front of the
// arguments and checks the count.
func positional(args []string, name string, want int) ([]string, error) {
	if len(args) > 0 && args[0] == name {
		args = args[1:]
	}
	if len(args) != want {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", name, want, len(args))
	}
	return args, nil
}

func newClient() (*regclient.Client, func()) {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "trowctl"})
	if !global.Verbose {
		logger.SetLevel(log.WarnLevel)
	}
	rpc := backendrpc.NewClient(cfg.Backend.Address, backendrpc.WithLogger(logger))
	c := regclient.New(rpc, newOpener(), regclient.WithLogger(logger))
	return c, func() { rpc.Close() }
}

func handleHealth(ctx context.Context, args []string) error {
	c, done := newClient()
	defer done()
	h := c.IsHealthy(ctx)
	r := c.IsReady(ctx)
	printStatus("healthy", h.IsHealthy, h.Message)
	printStatus("ready", r.IsReady, r.Message)
	if !h.IsHealthy || !r.IsReady {
		return errors.New("backend is not serving")
	}
	return nil
}

func printStatus(name string, ok bool, msg string) {
	mark := okColor.Sprint("yes")
	if !ok {
		mark = failColor.Sprint("no")
	}
	fmt.Fprintf(stdout, "%s %s  %s\n", keyColor.Sprintf("%-8s", name+":"), mark, msg)
}

func handleMetrics(ctx context.Context, args []string) error {
	c, done := newClient()
	defer done()
	m, err := c.GetMetrics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, m.Payload)
	return nil
}

type pageFlags struct {
	N    uint32 `flag:"n" help:"Maximum number of entries"`
	Last string `flag:"last" help:"Resume after this entry"`
}

func handleCatalog(ctx context.Context, args []string) error {
	result, err := yargs.ParseFlags[pageFlags](args)
	if err != nil {
		return err
	}
	if _, err := positional(result.Args, "catalog", 0); err != nil {
		return err
	}
	c, done := newClient()
	defer done()
	cat, err := c.GetCatalog(ctx, result.Flags.N, result.Flags.Last)
	if err != nil {
		return err
	}
	for _, r := range cat.Repos() {
		fmt.Fprintln(stdout, r)
	}
	return nil
}

func handleTags(ctx context.Context, args []string) error {
	result, err := yargs.ParseFlags[pageFlags](args)
	if err != nil {
		return err
	}
	pos, err := positional(result.Args, "tags", 1)
	if err != nil {
		return err
	}
	repo, err := regclient.ParseRepoName(pos[0])
	if err != nil {
		return err
	}
	c, done := newClient()
	defer done()
	tags, err := c.GetTags(ctx, repo, result.Flags.N, result.Flags.Last)
	if err != nil {
		return err
	}
	for _, t := range tags.Tags {
		fmt.Fprintln(stdout, t)
	}
	return nil
}

func handleHistory(ctx context.Context, args []string) error {
	result, err := yargs.ParseFlags[pageFlags](args)
	if err != nil {
		return err
	}
	pos, err := positional(result.Args, "history", 2)
	if err != nil {
		return err
	}
	repo, err := regclient.ParseRepoName(pos[0])
	if err != nil {
		return err
	}
	c, done := newClient()
	defer done()
	h, err := c.GetManifestHistory(ctx, repo, pos[1], result.Flags.N, result.Flags.Last)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, keyColor.Sprint(h.Image))
	for _, e := range h.Entries() {
		fmt.Fprintf(stdout, "  %s  %s\n", e.Date.Format("2006-01-02 15:04:05Z07:00"), e.Digest)
	}
	return nil
}

func handlePushBlob(ctx context.Context, args []string) error {
	pos, err := positional(args, "push-blob", 2)
	if err != nil {
		return err
	}
	repo, err := regclient.ParseRepoName(pos[0])
	if err != nil {
		return err
	}
	f, err := os.Open(pos[1])
	if err != nil {
		return err
	}
	defer f.Close()
	d, err := digest.FromReader(digest.SHA256, f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	c, done := newClient()
	defer done()
	accepted, err := c.UploadOneShot(ctx, repo, d, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s (%d bytes)\n", okColor.Sprint("pushed"), accepted.Digest, accepted.Range.Len())
	return nil
}

type getBlobFlags struct {
	Output string `flag:"output" short:"o" help:"Write to FILE instead of stdout"`
	Force  bool   `flag:"force" help:"Write to stdout even when it is a terminal"`
}

func handleGetBlob(ctx context.Context, args []string) error {
	result, err := yargs.ParseFlags[getBlobFlags](args)
	if err != nil {
		return err
	}
	pos, err := positional(result.Args, "get-blob", 2)
	if err != nil {
		return err
	}
	repo, err := regclient.ParseRepoName(pos[0])
	if err != nil {
		return err
	}
	d, err := digest.Parse(pos[1])
	if err != nil {
		return err
	}
	if result.Flags.Output == "" && !result.Flags.Force && stdoutIsTerminal() {
		return errors.New("refusing to write blob to a terminal; use --output or --force")
	}
	c, done := newClient()
	defer done()
	blob, err := c.GetBlob(ctx, repo, d)
	if err != nil {
		return err
	}
	defer blob.Close()
	out := stdout
	if result.Flags.Output != "" {
		f, err := os.Create(result.Flags.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = io.Copy(out, blob)
	return err
}

func openUsers() (*users.Store, error) {
	return users.Open(cfg.Auth.DBFile)
}

type userAddFlags struct {
	Password string `flag:"password" help:"Password for the new user"`
}

func handleUserAdd(ctx context.Context, args []string) error {
	result, err := yargs.ParseFlags[userAddFlags](args)
	if err != nil {
		return err
	}
	pos, err := positional(result.Args, "add", 1)
	if err != nil {
		return err
	}
	if result.Flags.Password == "" {
		return errors.New("--password is required")
	}
	s, err := openUsers()
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Create(ctx, pos[0], result.Flags.Password); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s user %s\n", okColor.Sprint("created"), pos[0])
	return nil
}

func withUser(name string, fn func(context.Context, *users.Store, string) error) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		pos, err := positional(args, name, 1)
		if err != nil {
			return err
		}
		s, err := openUsers()
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, s, pos[0])
	}
}

var (
	handleUserEnable = withUser("enable", func(ctx context.Context, s *users.Store, name string) error {
		return s.SetActive(ctx, name, true)
	})
	handleUserDisable = withUser("disable", func(ctx context.Context, s *users.Store, name string) error {
		return s.SetActive(ctx, name, false)
	})
	handleUserImport = withUser("import", func(ctx context.Context, s *users.Store, file string) error {
		n, err := s.LoadFile(ctx, file)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %d user(s) from %s\n", okColor.Sprint("imported"), n, file)
		return nil
	})
)

type userDeleteFlags struct {
	Yes bool `flag:"yes" short:"y" help:"Do not ask for confirmation"`
}

func handleUserDelete(ctx context.Context, args []string) error {
	result, err := yargs.ParseFlags[userDeleteFlags](args)
	if err != nil {
		return err
	}
	pos, err := positional(result.Args, "delete", 1)
	if err != nil {
		return err
	}
	if !result.Flags.Yes {
		ok, err := confirm(stdin, stdout, fmt.Sprintf("Delete user %s?", pos[0]))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted")
		}
	}
	s, err := openUsers()
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Delete(ctx, pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s user %s\n", okColor.Sprint("deleted"), pos[0])
	return nil
}

func confirm(r io.Reader, w io.Writer, msg string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N]: ", msg)
	var answer string
	if _, err := fmt.Fscanln(r, &answer); err != nil && err.Error() != "unexpected newline" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.EqualFold(answer, "y"), nil
}

func handleUserList(ctx context.Context, args []string) error {
	if _, err := positional(args, "list", 0); err != nil {
		return err
	}
	s, err := openUsers()
	if err != nil {
		return err
	}
	defer s.Close()
	names, err := s.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, strings.Join(names, "\n"))
	return nil
}
