// The midiconduit command runs the conduit server and provides a few tools
// for talking to and inspecting one.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	ConfigFlag   string
	PortFlag     int
	LoopbackFlag bool
	EchoFlag     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "midiconduit",
		Short:        "MIDI over TCP conduit and related tools",
		Args:         cobra.NoArgs,
		RunE:         ServeCommand,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the directory containing config.yaml")
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().IntVarP(&PortFlag, "port", "p", 0, "Port to listen on, overriding the config file")
		cmd.Flags().BoolVar(&LoopbackFlag, "loopback", false, "Deliver inbound messages to an in-process loopback device")
		cmd.Flags().BoolVar(&EchoFlag, "echo", false, "Broadcast everything the loopback device receives back to every peer (implies --loopback)")
	}

	analyzeCmd.Flags().IntVar(&CapturePortFlag, "port", 6666, "Port the captured conduit server was listening on")
	monitorCmd.Flags().BoolVar(&NoColorFlag, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(analyzeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
