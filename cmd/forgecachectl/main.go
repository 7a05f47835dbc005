// Command forgecachectl is a small control tool that speaks the forgecache
// wire protocol to a running node: get, set and clear.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/neuralforge/forgecache/internal/logging"
	"github.com/neuralforge/forgecache/pkg/client"
)

func main() {
	logging.Init("")

	app := &cli.Command{
		Name:  "forgecachectl",
		Usage: "Talk to a forgecache node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   "localhost:5000",
				Usage:   "Node address (host:port)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Second,
				Usage: "Per-call timeout",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Fetch a key and print its value",
				ArgsUsage: "KEY",
				Action:    getAction,
			},
			{
				Name:      "set",
				Usage:     "Store a key",
				ArgsUsage: "KEY VALUE",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Time to live (0 means no expiry)",
					},
				},
				Action: setAction,
			},
			{
				Name:   "clear",
				Usage:  "Clear the node's local tiers",
				Action: clearAction,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "forgecachectl: %v\n", err)
		os.Exit(1)
	}
}

func peerClient(cmd *cli.Command) *client.Client {
	timeout := cmd.Duration("timeout")
	return client.New(client.Options{
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

func getAction(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("get requires a KEY argument")
	}

	value, present, err := peerClient(cmd).Get(cmd.String("addr"), key)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("key %q not found", key)
	}

	_, err = os.Stdout.Write(append(value, '\n'))
	return err
}

func setAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 2 {
		return fmt.Errorf("set requires KEY and VALUE arguments")
	}
	key, value := cmd.Args().Get(0), cmd.Args().Get(1)

	return peerClient(cmd).Set(cmd.String("addr"), key, []byte(value), cmd.Duration("ttl"))
}

func clearAction(_ context.Context, cmd *cli.Command) error {
	return peerClient(cmd).Clear(cmd.String("addr"))
}
