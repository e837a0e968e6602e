package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/santosobot/santoso/internal/bus"
	"github.com/santosobot/santoso/internal/channels"
)

// agentOptions are the arguments of the agent command.
type agentOptions struct {
	message string
	session string
}

func parseAgentArgs(args []string) (agentOptions, error) {
	opts := agentOptions{session: bus.SessionKey("cli", channels.CLIChatID)}
	for i := 0; i < len(args); i++ {
		switch {
		case (args[i] == "-m" || args[i] == "--message") && i+1 < len(args):
			opts.message = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-m="):
			opts.message = strings.TrimPrefix(args[i], "-m=")
		case strings.HasPrefix(args[i], "--message="):
			opts.message = strings.TrimPrefix(args[i], "--message=")
		case (args[i] == "-s" || args[i] == "--session") && i+1 < len(args):
			opts.session = args[i+1]
			i++
		default:
			return opts, fmt.Errorf("usage: santoso agent [-m message] [-s session]")
		}
	}
	return opts, nil
}

// runAgent sends one message when opts.message is set, otherwise runs
// an interactive terminal chat until the user exits. Logs go to stderr
// so they do not interleave with the conversation.
func runAgent(ctx context.Context, in io.Reader, stdout, stderr io.Writer, configPath string, opts agentOptions) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !providerConfigured(cfg) {
		return errNoAPIKey
	}
	logger := cfg.Logger(stderr)
	logger.Debug("config loaded", "path", cfgPath)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.message != "" {
		reply, err := a.loop.ProcessDirect(ctx, opts.message, opts.session)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	mgr := channels.NewManager(a.bus, a.events, logger)
	cli := channels.NewCLI(in, stdout, a.bus, logger)
	mgr.Register(cli)

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.loop.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		mgr.Run(runCtx)
	}()

	select {
	case <-cli.Done():
	case <-ctx.Done():
	}
	stop()
	wg.Wait()
	return nil
}
