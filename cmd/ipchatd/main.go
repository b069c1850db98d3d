package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/ayonsaha2011/ipchat/internal/daemon"
	"github.com/ayonsaha2011/ipchat/internal/profile"
)

// ipchatd runs a headless chat node: it announces on the LAN, ingests
// pushes, answers polls and accepts file streams, without a UI.
func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name}),
	)

	app.Run()
}
