package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermohost/cmd/thermohost/console"
	"github.com/mklimuk/thermohost/config"
	"github.com/mklimuk/thermohost/environment"
	"github.com/mklimuk/thermohost/host"
	"github.com/mklimuk/thermohost/reactor"
	"github.com/mklimuk/thermohost/snsctx"
)

var sensorFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "transport",
		Aliases: []string{"t"},
		Value:   config.TransportMCP2221,
		Usage:   "periph, gobot, mcp2221 or sim",
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "periph bus name, first bus if empty",
	},
	&cli.IntFlag{
		Name:  "bus",
		Usage: "gobot bus number",
	},
	&cli.IntFlag{
		Name:    "address",
		Aliases: []string{"a"},
		Value:   environment.SHTC3DefaultAddress,
	},
	&cli.IntFlag{
		Name:  "speed",
		Value: environment.SHTC3DefaultSpeed,
		Usage: "bus speed in Hz",
	},
	&cli.BoolFlag{
		Name:  "no-crc",
		Usage: "skip checksum validation",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Second,
	},
}

// openSensor builds a single unconnected sensor from command line flags.
func openSensor(c *cli.Context) (*environment.SHTC3, host.Transport, error) {
	cfg := config.Default()
	cfg.Transport.Kind = c.String("transport")
	cfg.Transport.Device = c.String("device")
	cfg.Transport.Bus = c.Int("bus")
	sensor := config.Sensor{
		Name:     "cli",
		Type:     config.SensorTypeSHTC3,
		Address:  c.Int("address"),
		SpeedHz:  c.Int("speed"),
		MinTemp:  -40,
		MaxTemp:  125,
		CheckCRC: !c.Bool("no-crc"),
	}
	cfg.Sensors = []config.Sensor{sensor}
	if err := cfg.Validate(); err != nil {
		return nil, host.Transport{}, err
	}
	shtc3Cfg, err := sensor.SHTC3()
	if err != nil {
		return nil, host.Transport{}, err
	}
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	trans, err := host.OpenTransport(ctx, cfg)
	if err != nil {
		return nil, host.Transport{}, err
	}
	s, err := environment.NewSHTC3(trans.Bus, reactor.New(), shtc3Cfg)
	if err != nil {
		_ = trans.Close()
		return nil, host.Transport{}, err
	}
	return s, trans, nil
}

func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	return context.WithTimeout(ctx, c.Duration("timeout"))
}

func closeTransport(t host.Transport) {
	if err := t.Close(); err != nil {
		slog.Warn("could not close transport", "error", err)
	}
}

var readCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"temperature", "temp"},
	Usage:   "run one sampling cycle and print the result",
	Flags:   sensorFlags,
	Action: func(c *cli.Context) error {
		s, trans, err := openSensor(c)
		if err != nil {
			return console.ExitErr("sensor initialization error", err)
		}
		defer closeTransport(trans)
		ctx, cancel := commandContext(c)
		defer cancel()
		r, err := s.Measure(ctx)
		if err != nil {
			return console.ExitErr("error getting temperature read", err)
		}
		console.Printf("%s  %s\n%s %s\n%s %s\n",
			console.PictoThermometer, console.White(fmt.Sprintf("%.2f°C", r.Temperature)),
			console.PictoHumidity, console.White(fmt.Sprintf("%.2f%%", r.Humidity)),
			console.PictoClock, r.LastUpdated.Format(time.DateTime))
		return nil
	},
}

var idCmd = cli.Command{
	Name:  "id",
	Usage: "soft reset the sensor and read its id register",
	Flags: sensorFlags,
	Action: func(c *cli.Context) error {
		s, trans, err := openSensor(c)
		if err != nil {
			return console.ExitErr("sensor initialization error", err)
		}
		defer closeTransport(trans)
		ctx, cancel := commandContext(c)
		defer cancel()
		id, err := s.Identify(ctx)
		if err != nil {
			return console.ExitErr("identification failed", err)
		}
		if !environment.IsSHTC3(id) {
			console.Warnf("unknown chip id %s", console.Yellow(fmt.Sprintf("%#04x", id)))
			return nil
		}
		console.PInfof(console.PictoChip, "found SHTC3 with id %s", console.Green(fmt.Sprintf("%#04x", id)))
		return nil
	},
}

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "soft reset the sensor",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	}, sensorFlags...),
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("reset sensor at %s?", hexAddr(c.Int("address"))))
			if err != nil {
				return console.Exit(console.ExitFailure, "prompt error: %s", console.Red(err))
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		s, trans, err := openSensor(c)
		if err != nil {
			return console.ExitErr("sensor initialization error", err)
		}
		defer closeTransport(trans)
		ctx, cancel := commandContext(c)
		defer cancel()
		if err := s.SoftReset(ctx); err != nil {
			return console.ExitErr("reset failed", err)
		}
		console.PInfof(console.PictoFinish, "sensor reset")
		return nil
	},
}

func hexAddr(addr int) string {
	return fmt.Sprintf("%#02x", addr)
}
