package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rahul/operator/internal/gateway"
	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/recorder"
	"github.com/rahul/operator/internal/workflow"
	"github.com/rahul/operator/pkg/config"
)

const usage = `usage: operator [-config config.json] <command> [args]

commands:
  serve                          run the chat gateways (default)
  goal [-record name] <goal>     pursue a goal autonomously
  sessions                       list recorded sessions
  stats <session_id>             show statistics for a session
  generate <session_id> <name>   turn a session into a workflow
  replay [-var k=v] <name>       replay a stored workflow
  workflows                      list stored workflows
  status                         show component status`

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cmd, args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	if cmd == "serve" {
		return serve(ctx, cfg)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "goal":
		return runGoal(ctx, a, args)
	case "sessions":
		return listSessions(a)
	case "stats":
		if len(args) != 1 {
			return errors.New("usage: operator stats <session_id>")
		}
		return sessionStats(a, args[0])
	case "generate":
		return generate(a, args)
	case "replay":
		return replay(ctx, a, args)
	case "workflows":
		names, err := a.workflows.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	case "status":
		return printJSON(a.orch.Status())
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func requireRecorder(a *app) (*recorder.Recorder, error) {
	if a.recorder == nil {
		return nil, errors.New("workflow recorder not available")
	}
	return a.recorder, nil
}

func runGoal(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("goal", flag.ContinueOnError)
	record := fs.String("record", "", "record the run as a session with this name")
	screenshot := fs.String("screenshot", "", "initial screenshot path")
	maxIter := fs.Int("max", a.cfg.Agent.MaxIterations, "maximum iterations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	goal := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if goal == "" {
		return errors.New("usage: operator goal [-record name] <goal>")
	}

	if *record != "" {
		id, err := a.orch.StartRecording(*record, map[string]any{"goal": goal})
		if err != nil {
			return err
		}
		log.Printf("Recording session %s", id)
	}

	res := a.agent.ExecuteGoalAutonomously(ctx, goal, *screenshot, *maxIter)

	if *record != "" {
		id, _, err := a.orch.StopRecording()
		if err != nil {
			return err
		}
		log.Printf("Session %s saved", id)
	}
	fmt.Println(gateway.FormatGoalResult(res))
	return nil
}

func listSessions(a *app) error {
	rec, err := requireRecorder(a)
	if err != nil {
		return err
	}
	sessions, err := rec.ListSessions()
	if err != nil {
		return err
	}
	return printJSON(sessions)
}

func sessionStats(a *app, id string) error {
	rec, err := requireRecorder(a)
	if err != nil {
		return err
	}
	stats, err := rec.GetSessionStats(id)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func generate(a *app, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	noVars := fs.Bool("no-variables", false, "keep recorded values literal")
	noLoops := fs.Bool("no-loops", false, "do not fold repeated sequences")
	noOptimize := fs.Bool("no-optimize", false, "keep adjacent duplicate steps")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: operator generate <session_id> <name>")
	}

	rec, err := requireRecorder(a)
	if err != nil {
		return err
	}
	session, err := rec.LoadSession(fs.Arg(0))
	if err != nil {
		return err
	}

	gen := workflow.NewGenerator()
	gen.ExtractVariables = !*noVars
	gen.DetectLoops = !*noLoops
	gen.Optimize = !*noOptimize
	wf, err := gen.Generate(session, fs.Arg(1))
	if err != nil {
		return err
	}
	path, err := a.workflows.Put(wf)
	if err != nil {
		return err
	}
	log.Printf("Workflow %s v%d saved to %s (%d steps, %d variables)", wf.Name, wf.Version, path, len(wf.Steps), len(wf.Variables))
	return nil
}

type varFlags map[string]any

func (v varFlags) String() string { return fmt.Sprint(map[string]any(v)) }

func (v varFlags) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v[k] = val
	return nil
}

func replay(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	vars := varFlags{}
	fs.Var(vars, "var", "override a workflow variable (name=value), repeatable")
	version := fs.Int("version", 0, "replay an archived version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: operator replay [-var k=v] <name>")
	}

	var wf *workflow.Workflow
	var err error
	if *version > 0 {
		wf, err = a.workflows.GetVersion(fs.Arg(0), *version)
	} else {
		wf, err = a.workflows.Get(fs.Arg(0))
	}
	if err != nil {
		return err
	}

	report, err := a.orch.ReplayWorkflow(ctx, wf, vars)
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	return err
}

// serve runs the chat gateways until interrupted, with the live terminal
// dashboard when stdout is a terminal.
func serve(ctx context.Context, cfg *config.Config) error {
	observability.PrintBanner()
	observability.InitializeTerminal()
	defer observability.CleanupTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var gateways []gateway.Messenger
	var targets []gateway.Target
	if gw, ok := cfg.GetGateway("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(gw.Token, gw.ChatID, a.agent, cfg.Agent.MaxIterations)
		if err != nil {
			return fmt.Errorf("telegram gateway: %w", err)
		}
		gateways = append(gateways, tg)
		targets = appendTarget(targets, "telegram", tg, gw.ChatID)
	}
	if gw, ok := cfg.GetGateway("discord"); ok {
		dg, err := gateway.NewDiscordGateway(gw.Token, gw.ChatID, a.agent, cfg.Agent.MaxIterations)
		if err != nil {
			return fmt.Errorf("discord gateway: %w", err)
		}
		gateways = append(gateways, dg)
		targets = appendTarget(targets, "discord", dg, gw.ChatID)
	}
	if len(gateways) == 0 {
		return errors.New("no gateway is enabled; use a one-shot command instead")
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if observability.IsTerminal() {
		go tick(ctx, time.Second, observability.PrintLiveStatus)
	}
	go tick(ctx, 30*time.Second, func() {
		observability.Heartbeat()
		a.events.LogHeartbeat()
	})

	for _, g := range gateways {
		go func(g gateway.Messenger) {
			if err := g.Start(ctx); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}(g)
	}
	if err := gateway.Broadcast(targets, "Operator online. Send \"goal <what to do>\" to start."); err != nil {
		log.Printf("Warning: startup notice failed: %v", err)
	}

	<-ctx.Done()
	for _, g := range gateways {
		if err := g.Stop(); err != nil {
			log.Printf("Warning: gateway stop: %v", err)
		}
	}
	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return nil
}

func appendTarget(targets []gateway.Target, name string, n gateway.Notifier, chatID string) []gateway.Target {
	if chatID == "" {
		log.Printf("Warning: %s gateway has no chat_id; it will not accept goals", name)
		return targets
	}
	return append(targets, gateway.Target{Notifier: n, ChatID: chatID})
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
