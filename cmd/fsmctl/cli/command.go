package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
)

const usage = `usage:
  fsmctl jobs trigger [-force=false] <aging|visits|renewal>
  fsmctl jobs inspect [-json]
  fsmctl workflow transition <estimate|job|invoice> <id> <status>
  fsmctl assets warranty <asset-id>`

// Run dispatches one command and returns the process exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}
	group, cmd, rest := args[0], args[1], args[2:]
	switch group + " " + cmd {
	case "jobs trigger":
		return c.runTrigger(ctx, rest, stdout, stderr)
	case "jobs inspect":
		return c.runInspect(ctx, rest, stdout, stderr)
	case "workflow transition":
		return c.runTransition(ctx, rest, stdout, stderr)
	case "assets warranty":
		return c.runWarranty(ctx, rest, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s\n", group+" "+cmd, usage)
		return 2
	}
}

func (c *JobsCLI) runTrigger(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	force := fs.Bool("force", true, "run even if the current tick already ran")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "jobs trigger: exactly one pass name required")
		return 2
	}
	info, err := c.TriggerPass(ctx, fs.Arg(0), *force)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s (%s)\n", info.ID, info.Type)
	return 0
}

func (c *JobsCLI) runInspect(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jobs inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs inspect: %v\n", err)
		return 1
	}
	if *asJSON {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs inspect: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return 0
}

func (c *JobsCLI) runTransition(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		_, _ = fmt.Fprintln(stderr, "workflow transition: <entity> <id> <status> required")
		return 2
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "workflow transition: invalid id %q\n", args[1])
		return 2
	}
	info, err := c.Transition(ctx, args[0], id, args[2])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "workflow transition: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s (%s)\n", info.ID, info.Type)
	return 0
}

func (c *JobsCLI) runWarranty(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "assets warranty: <asset-id> required")
		return 2
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "assets warranty: invalid id %q\n", args[0])
		return 2
	}
	info, err := c.RecalculateWarranty(ctx, id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "assets warranty: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s (%s)\n", info.ID, info.Type)
	return 0
}
