package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"codejudge/internal/cli/command"
	"codejudge/internal/cli/config"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/render"
	"codejudge/internal/cli/repl"
	"codejudge/internal/cli/state"

	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "configs/judgectl.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "judgectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	root := &cli.Command{
		Name:  "judgectl",
		Usage: "talk to the code judge",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigPath, Usage: "path to config file"},
			&cli.StringFlag{Name: "base", Usage: "judge base URL", Sources: cli.EnvVars("JUDGECTL_BASE")},
			&cli.DurationFlag{Name: "timeout", Usage: "HTTP timeout (e.g. 10s)"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "user id sent as X-User-Id", Sources: cli.EnvVars("JUDGECTL_USER")},
			&cli.StringFlag{Name: "token", Usage: "bearer token for judges that verify JWTs", Sources: cli.EnvVars("JUDGECTL_TOKEN")},
			&cli.StringFlag{Name: "state", Usage: "session state path"},
			&cli.BoolFlag{Name: "raw", Usage: "print response bodies unindented"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output", Sources: cli.EnvVars("NO_COLOR")},
		},
		Action: runREPL,
		Commands: []*cli.Command{
			{Name: "repl", Usage: "interactive session (default)", Action: runREPL},
			packCommand(),
		},
	}
	registry := command.Registry()
	for _, name := range command.Names(registry) {
		root.Commands = append(root.Commands, apiCommand(registry[name]))
	}
	return root
}

// app is the per-invocation wiring shared by every subcommand.
type app struct {
	cfg    config.Config
	state  *state.State
	client *httpclient.Client
	out    *render.Renderer
}

func newApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if v := cmd.String("base"); v != "" {
		cfg.BaseURL = v
	}
	if v := cmd.Duration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	if v := cmd.String("token"); v != "" {
		cfg.Token = v
	}
	if v := cmd.String("state"); v != "" {
		cfg.StatePath = v
	}
	if cmd.Bool("raw") {
		off := false
		cfg.PrettyJSON = &off
	}
	if cmd.Bool("no-color") {
		off := false
		cfg.Color = &off
	}

	st, err := state.Load(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	switch {
	case cmd.String("user") != "":
		st.UserID = cmd.String("user")
	case st.UserID == "":
		st.UserID = cfg.UserID
	}

	a := &app{cfg: cfg, state: &st}
	a.client = httpclient.New(cfg.BaseURL, cfg.Timeout, func() string { return a.state.UserID })
	a.client.SetToken(cfg.Token)
	a.out = render.New(os.Stdout, *cfg.PrettyJSON, *cfg.Color)
	return a, nil
}

func (a *app) lookup(key string) string {
	return a.state.Get(key)
}

func (a *app) remember(key, value string) {
	if a.state.Set(key, value) {
		_ = state.Save(a.cfg.StatePath, *a.state)
	}
}

func runREPL(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(a.cfg.HistoryFile); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	session := repl.New(a.client, command.Registry(), a.out, a.state, a.cfg.StatePath)
	return session.Run(ctx, a.cfg.HistoryFile)
}

func apiCommand(spec command.Command) *cli.Command {
	usage := ""
	for _, f := range spec.Fields {
		usage += fmt.Sprintf("[%s=...] ", f.Name)
	}
	return &cli.Command{
		Name:      spec.Name,
		Usage:     spec.Summary,
		ArgsUsage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			params, err := command.ParseArgs(spec, cmd.Args().Slice())
			if err != nil {
				return err
			}
			command.ApplyDefaults(spec, params, a.lookup)
			if missing := command.Missing(spec, params); len(missing) > 0 {
				return fmt.Errorf("missing %s", missing[0].Name)
			}
			return repl.Execute(ctx, a.client, a.out, spec, params, a.remember)
		},
	}
}
