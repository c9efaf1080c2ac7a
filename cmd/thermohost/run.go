package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermohost/cmd/thermohost/console"
	"github.com/mklimuk/thermohost/config"
	"github.com/mklimuk/thermohost/host"
	"github.com/mklimuk/thermohost/snsctx"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "sample every configured sensor and serve status, metrics and sinks",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "thermohost.yaml",
			EnvVars: []string{"THERMOHOST_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "override http.listen",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return console.ExitErr("could not load config", err)
		}
		if c.IsSet("listen") {
			cfg.HTTP.Listen = c.String("listen")
		}
		ctx, stop := signal.NotifyContext(snsctx.SetVerbose(c.Context, c.Bool("verbose")), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, err := host.New(ctx, cfg)
		if err != nil {
			return console.ExitErr("could not start host", err)
		}
		for _, s := range cfg.Sensors {
			console.PInfof(console.PictoChip, "%s at %s on %s (%s..%s)", console.White(s.Name),
				console.Cyan(hexAddr(s.Address)), cfg.Transport.Kind, console.White(s.MinTemp), console.White(s.MaxTemp))
		}
		if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return console.ExitErr("host stopped", err)
		}
		console.PInfof(console.PictoFinish, "stopped")
		return nil
	},
}
