package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/imagvfx/jobq/config"
	"github.com/imagvfx/jobq/service/nop"
)

func TestLogsHandler(t *testing.T) {
	dir := t.TempDir()
	s := config.Defaults()
	s.LogStdout = false
	s.LogDB = filepath.Join(dir, "jobq.db")
	s.LogFile = filepath.Join(dir, "jobq.log")
	lg, err := openLogger(s)
	if err != nil {
		t.Fatal(err)
	}
	defer lg.Close()
	lg.WithJob("sh010").Info("queued")
	lg.WithJob("sh020").Severe("errored")
	lg.WithJob("sh010").WithTask("render").Warn("slow")

	h := &logsHandler{store: lg.Store}
	cases := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{"queued", "errored", "slow"}},
		{query: "?job=sh010", want: []string{"queued", "slow"}},
		{query: "?level=SEVERE", want: []string{"errored"}},
		{query: "?job=sh010&limit=1", want: []string{"queued"}},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/logs"+c.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %v: %s", c.query, rec.Code, rec.Body.String())
		}
		var logs []apiLog
		if err := json.NewDecoder(rec.Body).Decode(&logs); err != nil {
			t.Fatal(err)
		}
		got := make([]string, 0, len(logs))
		for _, l := range logs {
			got = append(got, l.Message)
		}
		if len(got) != len(c.want) {
			t.Fatalf("%s: got %v, want %v", c.query, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%s: got %v, want %v", c.query, got, c.want)
			}
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/logs?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit: got %v", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/logs", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post: got %v", rec.Code)
	}

	if _, err := os.Stat(s.LogFile); err != nil {
		t.Fatalf("log file should be written: %v", err)
	}
}

func TestLogsHandlerNop(t *testing.T) {
	h := &logsHandler{store: &nop.LogService{}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/logs", nil))
	if rec.Body.String() != "[]\n" {
		t.Fatalf("got %q", rec.Body.String())
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobq.toml")
	content := `
[queue]
stagger = "10ms"

[kinds.render]
max = 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	env := config.MapSource{"queue.stagger": "20ms"}
	s, kinds, err := loadConfig(path, env)
	if err != nil {
		t.Fatal(err)
	}
	if s.QueueStagger.String() != "20ms" {
		t.Fatalf("env should take precedence: %v", s.QueueStagger)
	}
	if len(kinds) != 1 || kinds[0].Kind != "render" || kinds[0].Max != 2 {
		t.Fatalf("kinds: %v", kinds)
	}

	s, kinds, err = loadConfig(filepath.Join(dir, "missing.toml"), config.MapSource{})
	if err != nil {
		t.Fatal(err)
	}
	if s != config.Defaults() || len(kinds) != 0 {
		t.Fatalf("missing file should give defaults: %v %v", s, kinds)
	}
}
