package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/imagvfx/jobq/rpc"
)

func cutOrFill(s string, n int, fillLeft bool) string {
	if n < 0 {
		// invalid input
		return s
	}
	if len(s) > n {
		return s[:n]
	}
	spaces := strings.Repeat(" ", n-len(s))
	if fillLeft {
		return spaces + s
	}
	return s + spaces
}

// formatInfo formats a job or process for a line of output.
func formatInfo(j rpc.JobInfo) string {
	remain := time.Duration(j.Remaining * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%v %v %v %v - %v",
		cutOrFill(j.ID, 24, false),
		cutOrFill(j.Status, 7, false),
		cutOrFill(fmt.Sprintf("%.0f%%", j.Progress*100), 4, true),
		cutOrFill(remain.String(), 8, true),
		j.Message,
	)
}

func list(args []string) error {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	fset.Parse(args)
	// nothing to do with args yet

	return call(func(ctx context.Context, c *rpc.Client) error {
		jobs, err := c.List(ctx)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no job to show")
		}
		for _, j := range jobs {
			fmt.Printf("[%v] %v\n", j.Priority, formatInfo(j))
		}
		return nil
	})
}

func status(args []string) error {
	fset := flag.NewFlagSet("status", flag.ExitOnError)
	fset.Parse(args)
	ids := fset.Args()
	if len(ids) == 0 {
		return fmt.Errorf("need job or process ids")
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		for _, id := range ids {
			info, err := c.Status(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(formatInfo(info))
		}
		return nil
	})
}
