package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/client"
	"github.com/ayonsaha2011/ipchat/internal/daemon"
	"github.com/ayonsaha2011/ipchat/internal/profile"
	"github.com/ayonsaha2011/ipchat/internal/tui"
)

// ipchat runs the full node in-process and puts the terminal UI on top.
func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		sess *client.Session
		b    *bus.Bus
		id   daemon.Identity
	)
	app := fx.New(
		daemon.Module(daemon.Params{Profile: name}),
		fx.Populate(&sess, &b, &id),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewApp(sess, b, id.Name)
	uiErr := ui.Run()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if uiErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", uiErr)
		os.Exit(1)
	}
}
