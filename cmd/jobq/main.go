package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/imagvfx/jobq/rpc"
)

func main() {
	log.SetFlags(0)
	args := os.Args[1:]
	if len(args) == 0 {
		log.Fatal("need a subcommand: [submit, run, list, status, log, cancel, remove, alias, process]")
	}

	subcmd := args[0]
	var err error
	switch subcmd {
	case "submit":
		err = submit(args[1:])
	case "run":
		err = run(args[1:])
	case "list":
		err = list(args[1:])
	case "status":
		err = status(args[1:])
	case "log":
		err = printLog(args[1:])
	case "cancel":
		err = cancel(args[1:])
	case "remove":
		err = remove(args[1:])
	case "alias":
		err = alias(args[1:])
	case "process":
		err = process(args[1:])
	default:
		log.Fatalf("unknown subcommand: %s", subcmd)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// dial connects to the daemon at JOBQ_ADDR, or at the default address.
func dial() (*rpc.Client, error) {
	addr := os.Getenv("JOBQ_ADDR")
	if addr == "" {
		addr = "localhost:8282"
	}
	return rpc.Dial(addr)
}

// call dials the daemon and calls fn with a short timeout.
func call(fn func(ctx context.Context, c *rpc.Client) error) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, c)
}
