package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/render"
	"codejudge/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "judge> "

// Session holds REPL state.
type Session struct {
	client    *httpclient.Client
	commands  map[string]command.Command
	out       *render.Renderer
	state     *state.State
	statePath string
}

func New(client *httpclient.Client, commands map[string]command.Command, out *render.Renderer, st *state.State, statePath string) *Session {
	return &Session{
		client:    client,
		commands:  commands,
		out:       out,
		state:     st,
		statePath: statePath,
	}
}

// Run reads commands until exit, EOF or ctx is done.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := s.Exec(ctx, line, rl); done {
			return nil
		}
	}
	return nil
}

// Exec runs one line. It reports true when the session should end.
// prompter may be nil, in which case missing fields are an error.
func (s *Session) Exec(ctx context.Context, line string, prompter Prompter) bool {
	switch line {
	case "exit", "quit":
		s.out.Info("bye")
		return true
	case "help":
		s.printHelp()
		return false
	}
	if rest, ok := strings.CutPrefix(line, "set "); ok {
		s.handleSet(strings.TrimSpace(rest))
		return false
	}
	if rest, ok := strings.CutPrefix(line, "show "); ok {
		s.handleShow(strings.TrimSpace(rest))
		return false
	}
	if err := s.handleCommand(ctx, line, prompter); err != nil {
		s.out.Error(err)
	}
	return false
}

// Prompter asks for a missing value. *readline.Instance satisfies it.
type Prompter interface {
	SetPrompt(string)
	Readline() (string, error)
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.out.Info("usage: set base <url> | user <id> | problem <id> | timeout <duration>")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.out.Info("base set to %s", parts[1])
		return
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.out.Info("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.out.Info("timeout set to %s", dur)
		return
	case state.KeyUser, state.KeyProblem:
		s.state.Set(parts[0], parts[1])
	default:
		s.out.Info("unknown set command")
		return
	}
	s.saveState()
	s.out.Info("%s set to %s", parts[0], parts[1])
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.out.Info("base: %s", s.client.BaseURL())
		s.out.Info("state: %s", s.statePath)
	case "state":
		s.out.Info("user: %s", orEmpty(s.state.UserID))
		s.out.Info("problem: %s", orEmpty(s.state.LastProblemID))
		s.out.Info("submission: %s", orEmpty(s.state.LastSubmissionID))
		if len(s.state.Recent) > 1 {
			s.out.Info("recent: %s", strings.Join(s.state.Recent, " "))
		}
	default:
		s.out.Info("usage: show config|state")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string, prompter Prompter) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
	params, err := command.ParseArgs(cmd, tokens[1:])
	if err != nil {
		return err
	}
	command.ApplyDefaults(cmd, params, s.lookup)
	if err := s.promptMissing(cmd, params, prompter); err != nil {
		return err
	}
	return Execute(ctx, s.client, s.out, cmd, params, s.remember)
}

// Execute sends cmd and renders the outcome. remember receives the field
// values worth keeping for follow-up commands.
func Execute(ctx context.Context, client *httpclient.Client, out *render.Renderer, cmd command.Command, params command.Params, remember func(key, value string)) error {
	if cmd.Stream {
		id := params.Get("id")
		if id == "" {
			return fmt.Errorf("missing path parameter: id")
		}
		return client.Watch(ctx, id, func(data json.RawMessage) error {
			out.Summary(data)
			return nil
		})
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	out.Response(resp)
	if remember == nil || resp.StatusCode >= 400 {
		return nil
	}
	if problem := params.Get("problem"); problem != "" {
		remember(command.DefaultProblem, problem)
	}
	if env, err := resp.Envelope(); err == nil {
		var ids struct {
			ID           string `json:"id"`
			SubmissionID string `json:"submission_id"`
		}
		if json.Unmarshal(env.Data, &ids) == nil {
			if ids.SubmissionID != "" {
				remember(command.DefaultSubmission, ids.SubmissionID)
			} else if ids.ID != "" && cmd.Name == "submit" {
				remember(command.DefaultSubmission, ids.ID)
			}
		}
	}
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params, prompter Prompter) error {
	missing := command.Missing(cmd, params)
	if len(missing) == 0 {
		return nil
	}
	if prompter == nil {
		return fmt.Errorf("missing %s", missing[0].Name)
	}
	defer prompter.SetPrompt(prompt)
	for _, field := range missing {
		prompter.SetPrompt(field.Prompt + ": ")
		value, err := prompter.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if value = strings.TrimSpace(value); value == "" {
			return fmt.Errorf("%s is required", field.Name)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) lookup(key string) string {
	return s.state.Get(key)
}

func (s *Session) remember(key, value string) {
	if s.state.Set(key, value) {
		s.saveState()
	}
}

func (s *Session) saveState() {
	if s.statePath == "" {
		return
	}
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.out.Error(err)
	}
}

func (s *Session) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("user"),
			readline.PcItem("problem"),
			readline.PcItem("timeout"),
		),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("state")),
	}
	for _, name := range command.Names(s.commands) {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.out.Info("usage: <command> [args] [key=value ...]")
	for _, name := range command.Names(s.commands) {
		s.out.Info("  %-10s %s", name, s.commands[name].Summary)
	}
	s.out.Info("system: help | exit | set base|user|problem|timeout | show config|state")
	s.out.Info("examples:")
	s.out.Info("  set user alice")
	s.out.Info("  run two-sum ./solution.py")
	s.out.Info("  submit two-sum ./solution.cpp wait=true")
	s.out.Info("  watch")
}

func orEmpty(v string) string {
	if v == "" {
		return "<empty>"
	}
	return v
}
