package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/imagvfx/jobq/cmdtask"
	"github.com/imagvfx/jobq/rpc"
)

// submit submits a job.
//
//	jobq submit job.json
//	jobq submit -id sh010 -threads 4 -kind render "render -f 1" "render -f 2"
//
// Without a json file, each argument is a command line of a task.
func submit(args []string) error {
	fset := flag.NewFlagSet("submit", flag.ExitOnError)
	file := fset.String("f", "", "json file of a submission")
	id := fset.String("id", "", "job id, generated when empty")
	prefix := fset.String("prefix", "", "prefix of a generated job id")
	threads := fset.Int("threads", 1, "number of tasks run at the same time")
	priority := fset.Float64("priority", 0, "priority of the job, higher runs first")
	kind := fset.String("kind", "", "kind of the tasks")
	estimate := fset.Float64("estimate", 0, "estimated runtime of each task in seconds")
	masters := fset.String("masters", "", "comma separated ids of jobs to wait for")
	mustFinish := fset.Bool("must-finish", false, "run only if all of the masters are done")
	aliasName := fset.String("alias", "", "another id for the job")
	fset.Parse(args)

	sub := rpc.Submission{}
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("invalid submission %s: %v", *file, err)
		}
	} else {
		if fset.NArg() == 0 {
			return errors.New("need commands of tasks, or a json file with -f")
		}
		sub = rpc.Submission{
			ID:         *id,
			Prefix:     *prefix,
			Threads:    *threads,
			Priority:   *priority,
			MustFinish: *mustFinish,
			Alias:      *aliasName,
		}
		if *masters != "" {
			sub.Masters = strings.Split(*masters, ",")
		}
		for _, line := range fset.Args() {
			cmd, err := cmdtask.Parse(line)
			if err != nil {
				return err
			}
			sub.Tasks = append(sub.Tasks, rpc.TaskSpec{
				Kind:     *kind,
				Estimate: *estimate,
				Cmds:     [][]string{cmd},
			})
		}
	}
	return call(func(ctx context.Context, c *rpc.Client) error {
		jid, err := c.Submit(ctx, sub)
		if err != nil {
			return err
		}
		fmt.Println(jid)
		return nil
	})
}
