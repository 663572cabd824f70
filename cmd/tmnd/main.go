package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thread-mesh/tmnd/core"
	"github.com/thread-mesh/tmnd/daemon"
)

var config = core.DefaultConfig()

var cmdTmnd = &cobra.Command{
	Use:     "tmnd CONFIG-FILE",
	Short:   "Thread Mesh Network Data daemon",
	Version: "0.1.0",
	Args:    cobra.ExactArgs(1),
	Run:     run,
}

func run(cmd *cobra.Command, args []string) {
	configfile := args[0]
	config.Core.BaseDir = filepath.Dir(configfile)

	// read configuration file
	core.ReadYaml(config, configfile)

	// create the stack instance
	d, err := daemon.NewDaemon(config)
	if err != nil {
		core.Log.Fatal(nil, "Failed to initialize", "err", err)
	}
	d.Start()

	// set up signal handler channel and wait for interrupt
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	receivedSig := <-sigChannel
	core.Log.Info(d, "Received signal - exit", "signal", receivedSig)

	d.Stop()
}

func main() {
	if err := cmdTmnd.Execute(); err != nil {
		os.Exit(1)
	}
}
