package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/thermohost/adapter"
	"github.com/mklimuk/thermohost/cmd/thermohost/console"
	"github.com/mklimuk/thermohost/snsctx"
)

var adapterIDFlag = &cli.IntFlag{
	Name:  "id",
	Usage: "adapter index from usb detect",
}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Flags: []cli.Flag{adapterIDFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		status, err := a.Status(ctx, adapterID(c)...)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Flags: []cli.Flag{adapterIDFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		status, err := a.ReleaseBus(ctx, adapterID(c)...)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

func adapterID(c *cli.Context) []int {
	if !c.IsSet("id") {
		return nil
	}
	return []int{c.Int("id")}
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
