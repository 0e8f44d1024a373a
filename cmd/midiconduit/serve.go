package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/burre/midiconduit/internal"
	"github.com/burre/midiconduit/internal/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the conduit server until interrupted",
	Args:  cobra.NoArgs,
	RunE:  ServeCommand,
}

func ServeCommand(cmd *cobra.Command, args []string) error {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		config.Port = PortFlag
	}
	if cmd.Flags().Changed("loopback") {
		config.Bridge.Loopback = LoopbackFlag
	}
	if cmd.Flags().Changed("echo") {
		config.Bridge.Echo = EchoFlag
		config.Bridge.Loopback = config.Bridge.Loopback || EchoFlag
	}

	// Change to the same directory as the config file so that any relative
	// paths in the config file will resolve.
	if err := os.Chdir(ConfigFlag); err != nil {
		return fmt.Errorf("changing to config directory: %w", err)
	}

	// Bind the Controller to one top-level context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	go exitHandler(cancel, c)

	controller := internal.NewController(config)
	if err := controller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// exitHandler cancels the server context on the first signal and hard exits
// on the second, for when a graceful stop is taking too long.
func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(1)
}
