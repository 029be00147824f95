package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// TaskSpec is a task of a submitted job.
type TaskSpec struct {
	Kind string `json:"kind,omitempty"`
	// Estimate is the estimated runtime in seconds.
	Estimate float64 `json:"estimate,omitempty"`
	// Cmds are commands run one by one.
	Cmds [][]string `json:"cmds"`
}

// Submission is a job to be created and queued.
type Submission struct {
	// ID is the job's id. A generated id is used when it is empty.
	ID string `json:"id,omitempty"`
	// Prefix prefixes a generated id.
	Prefix string `json:"prefix,omitempty"`
	// Threads is number of tasks run at the same time.
	// 1 or less makes a serial job.
	Threads  int     `json:"threads,omitempty"`
	Priority float64 `json:"priority"`
	// Masters are ids or aliases of queued jobs the job waits for.
	Masters    []string `json:"masters,omitempty"`
	MustFinish bool     `json:"must_finish,omitempty"`
	// Alias is another id the job can be addressed with.
	Alias string     `json:"alias,omitempty"`
	Tasks []TaskSpec `json:"tasks"`
}

// JobInfo is a snapshot of a job or a process.
type JobInfo struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Priority float64 `json:"priority,omitempty"`
	Progress float64 `json:"progress"`
	// Remaining is the estimated remaining runtime in seconds.
	Remaining float64 `json:"remaining"`
	Message   string  `json:"message"`
}

type jobList struct {
	Jobs []JobInfo `json:"jobs"`
}

type aliasRequest struct {
	Virtual string `json:"virtual"`
	Real    string `json:"real"`
}

type processRequest struct {
	ID   string   `json:"id"`
	Jobs []string `json:"jobs"`
}

// toStruct converts v to a Struct through its json form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("couldn't convert %T: %v", v, err)
	}
	return s, nil
}

// fromStruct fills v with s through their json form.
func fromStruct(s *structpb.Struct, v interface{}) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("couldn't convert to %T: %v", v, err)
	}
	return nil
}
