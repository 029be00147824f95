package config

import "time"

// Settings are the typed values of every key jobq reads.
type Settings struct {
	MonitorInterval   time.Duration
	MaxThreadRuntime  time.Duration
	InterruptBlockers bool

	LogLevel  string
	LogStdout bool
	LogFile   string
	LogDB     string

	QueueStagger time.Duration
	StopGrace    time.Duration
	SlavePollMin time.Duration

	RPCAddr    string
	EventsAddr string
	// RPCAllow is comma separated ip patterns of allowed rpc clients.
	// Every client is allowed when it is empty.
	RPCAllow string
}

// Defaults returns Settings used when no key is given.
func Defaults() Settings {
	return Settings{
		MonitorInterval: 10 * time.Second,
		LogLevel:        "info",
		LogStdout:       true,
		QueueStagger:    time.Second,
		StopGrace:       5 * time.Second,
		SlavePollMin:    5 * time.Second,
		RPCAddr:         "localhost:8282",
		EventsAddr:      "localhost:8283",
	}
}

// Read reads Settings from src, falling back to Defaults.
func Read(src Source) (Settings, error) {
	s := Defaults()
	var err error
	if s.MonitorInterval, err = Duration(src, "monitor.interval", s.MonitorInterval); err != nil {
		return s, err
	}
	if s.MaxThreadRuntime, err = Duration(src, "monitor.max_thread_runtime", s.MaxThreadRuntime); err != nil {
		return s, err
	}
	if s.InterruptBlockers, err = Bool(src, "monitor.interrupt_blockers", s.InterruptBlockers); err != nil {
		return s, err
	}
	s.LogLevel = String(src, "log.level", s.LogLevel)
	if s.LogStdout, err = Bool(src, "log.stdout", s.LogStdout); err != nil {
		return s, err
	}
	s.LogFile = String(src, "log.file", s.LogFile)
	s.LogDB = String(src, "log.db", s.LogDB)
	if s.QueueStagger, err = Duration(src, "queue.stagger", s.QueueStagger); err != nil {
		return s, err
	}
	if s.StopGrace, err = Duration(src, "job.stop_grace", s.StopGrace); err != nil {
		return s, err
	}
	if s.SlavePollMin, err = Duration(src, "job.slave_poll_min", s.SlavePollMin); err != nil {
		return s, err
	}
	s.RPCAddr = String(src, "rpc.addr", s.RPCAddr)
	s.EventsAddr = String(src, "events.addr", s.EventsAddr)
	s.RPCAllow = String(src, "rpc.allow", s.RPCAllow)
	return s, nil
}
