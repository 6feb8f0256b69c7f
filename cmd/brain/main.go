// Command brain runs the second-brain analysis daemon: it watches coding
// agent session files, extracts finished segments, queues them for
// external analysis, and stores the resulting nodes for later search and
// connection discovery.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/brain-daemon/brain/pkg/version"
)

// cli mirrors the subcommand-struct shape used by the retrieved agent CLI:
// one struct per verb, kong tags driving parsing and help text, `Run`
// methods doing the work.
var cli struct {
	Daemon  daemonCmd  `cmd:"" help:"Manage the daemon process."`
	Health  healthCmd  `cmd:"" help:"Run preflight checks and print the results."`
	Prompt  promptCmd  `cmd:"" help:"Inspect and manage the analysis prompt."`
	Version versionCmd `cmd:"" help:"Show version information."`
}

type versionCmd struct{}

func (c *versionCmd) Run() error {
	fmt.Println(version.Full())
	return nil
}

type daemonCmd struct {
	Start  daemonStartCmd  `cmd:"" help:"Start the daemon in the foreground."`
	Stop   daemonStopCmd   `cmd:"" help:"Stop a running daemon."`
	Status daemonStatusCmd `cmd:"" help:"Report whether the daemon is running."`
}

type promptCmd struct {
	Bump promptBumpCmd `cmd:"" help:"Record a new prompt version."`
}

func main() {
	parser := kong.Must(&cli,
		kong.Name("brain"),
		kong.Description("Second-brain analysis daemon."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Full()},
	)
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(); err != nil {
		diagnosis, logPath := diagnose(err)
		fmt.Fprintln(os.Stderr, styleFatal.Render(diagnosis))
		if logPath != "" {
			fmt.Fprintf(os.Stderr, "see logs at %s\n", logPath)
		}
		os.Exit(1)
	}
}
