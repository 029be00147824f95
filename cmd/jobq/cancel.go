package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/imagvfx/jobq/rpc"
)

func cancel(args []string) error {
	fset := flag.NewFlagSet("cancel", flag.ExitOnError)
	all := fset.Bool("all", false, "cancel every unfinished job")
	fset.Parse(args)
	ids := fset.Args()
	if !*all && len(ids) == 0 {
		return fmt.Errorf("need job or process ids to cancel, or -all")
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		if *all {
			return c.CancelAll(ctx)
		}
		for _, id := range ids {
			if err := c.Cancel(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func remove(args []string) error {
	fset := flag.NewFlagSet("remove", flag.ExitOnError)
	fset.Parse(args)
	ids := fset.Args()
	if len(ids) == 0 {
		return fmt.Errorf("need job or process ids to remove")
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		for _, id := range ids {
			if err := c.Remove(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func run(args []string) error {
	fset := flag.NewFlagSet("run", flag.ExitOnError)
	fset.Parse(args)
	return call(func(ctx context.Context, c *rpc.Client) error {
		return c.Run(ctx)
	})
}

func printLog(args []string) error {
	fset := flag.NewFlagSet("log", flag.ExitOnError)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return fmt.Errorf("need a job or process id")
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		text, err := c.Log(ctx, fset.Arg(0))
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	})
}

func alias(args []string) error {
	fset := flag.NewFlagSet("alias", flag.ExitOnError)
	fset.Parse(args)
	if fset.NArg() != 2 {
		return fmt.Errorf("usage: jobq alias VIRTUAL REAL")
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		return c.Alias(ctx, fset.Arg(0), fset.Arg(1))
	})
}

func process(args []string) error {
	fset := flag.NewFlagSet("process", flag.ExitOnError)
	fset.Parse(args)
	if fset.NArg() < 2 {
		return fmt.Errorf("usage: jobq process ID JOB...")
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		return c.RegisterProcess(ctx, fset.Arg(0), fset.Args()[1:]...)
	})
}
