// Command stacks-signer runs a threshold-signature signer process: it
// listens for stacker-db chunk writes and block proposals from a Stacks
// node and drives the DKG/sign run loop for whichever reward cycles this
// process is registered in.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/stacks-relay/signer-node/log"
	"github.com/stacks-relay/signer-node/signer"
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the signer's TOML config file",
		Required: true,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:  "stacks-signer",
		Usage: "run a Stacks threshold-signature signer",
		Flags: []cli.Flag{configFlag, verbosityFlag},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "dkg",
				Usage:  "issue a DKG command for a reward cycle",
				Flags:  []cli.Flag{configFlag, verbosityFlag, rewardCycleFlag},
				Action: runCommand(signer.CommandDKG),
			},
			{
				Name:   "sign",
				Usage:  "issue a signing command for a reward cycle",
				Flags:  []cli.Flag{configFlag, verbosityFlag, rewardCycleFlag},
				Action: runCommand(signer.CommandSign),
			},
		},
	}

	if err := app.Run(os.Args); err != nil && !errors.Is(err, signer.ErrShuttingDown) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rewardCycleFlag = &cli.Uint64Flag{
	Name:     "reward-cycle",
	Usage:    "Reward cycle to issue the command for",
	Required: true,
}

// verbosityLevels mirrors geth's glog-style -verbosity scale: 0 is the
// quietest (crit only), 5 the loudest (trace).
var verbosityLevels = []slog.Level{
	log.LevelCrit, log.LevelError, log.LevelWarn, log.LevelInfo, log.LevelDebug, log.LevelTrace,
}

func setupLogging(c *cli.Context) {
	v := c.Int(verbosityFlag.Name)
	if v < 0 {
		v = 0
	}
	if v >= len(verbosityLevels) {
		v = len(verbosityLevels) - 1
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, verbosityLevels[v], false)))
}

func loadAndRun(c *cli.Context, cmd *signer.RunLoopCommand) error {
	setupLogging(c)

	cfg, err := signer.LoadConfig(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	receiver := signer.NewHTTPEventReceiver(nil)
	addr, err := receiver.Bind(cfg.EndpointBindAddress)
	if err != nil {
		return fmt.Errorf("binding event receiver: %w", err)
	}
	log.Info("signer: listening for node events", "addr", addr)

	events := make(chan signer.SignerEvent, 64)
	receiver.AddConsumer(events)

	commands := make(chan signer.RunLoopCommand, 4)
	if cmd != nil {
		commands <- *cmd
	}

	// The event receiver, the signal-triggered shutdown watcher, and the
	// run loop itself all need to unwind together: errgroup.WithContext
	// cancels every goroutine's context as soon as any one of them
	// returns a non-nil error. The watcher returns ErrShuttingDown on a
	// signal, so a run loop error or a signal both drain the same way.
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		receiver.MainLoop()
		return nil
	})

	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigs:
			log.Info("signer: shutting down")
			receiver.GetStopSignaler().Send()
			return signer.ErrShuttingDown
		case <-ctx.Done():
		}
		receiver.GetStopSignaler().Send()
		return nil
	})

	rl := signer.NewRunLoop(cfg)
	g.Go(func() error {
		return rl.Run(ctx, events, commands)
	})

	return g.Wait()
}

func run(c *cli.Context) error {
	return loadAndRun(c, nil)
}

func runCommand(command signer.Command) cli.ActionFunc {
	return func(c *cli.Context) error {
		return loadAndRun(c, &signer.RunLoopCommand{
			Command:     command,
			RewardCycle: c.Uint64(rewardCycleFlag.Name),
		})
	}
}
