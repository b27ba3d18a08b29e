// Package logstream connects the process log to the /log namespace file.
// Records produced before the first subscriber arrives are kept in a
// bounded startup buffer and drained into that subscriber.
package logstream

import (
	"fmt"
	"sync"

	"github.com/nicolagi/vmnetfs/internal/stream"
	log "github.com/sirupsen/logrus"
)

const startupBufferSize = 64 << 10

// Log is the process-wide log fan-out. Init installs it as a logrus hook.
type Log struct {
	sgrp *stream.Group

	mu        sync.Mutex
	buffering bool
	messages  []string
	remaining int
}

// Init builds the log singleton and hooks it into logrus. Modifies global
// state: the logrus hook list.
func Init() *Log {
	l := &Log{buffering: true, remaining: startupBufferSize}
	l.sgrp = stream.NewGroup(l.populate)
	log.AddHook(l)
	return l
}

// StreamGroup returns the group backing the /log file.
func (l *Log) StreamGroup() *stream.Group { return l.sgrp }

// Close unblocks /log subscribers with EOF.
func (l *Log) Close() { l.sgrp.Close() }

// Levels implements logrus.Hook.
func (l *Log) Levels() []log.Level { return log.AllLevels }

// Fire implements logrus.Hook.
func (l *Log) Fire(e *log.Entry) error {
	line := fmt.Sprintf("[vmnetfs][%s] %s\n", e.Level, e.Message)
	l.mu.Lock()
	if l.buffering {
		if l.remaining > 0 {
			l.messages = append(l.messages, line)
			if len(line) < l.remaining {
				l.remaining -= len(line)
			} else {
				l.remaining = 0
				l.messages = append(l.messages, "[truncated]\n")
			}
		}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	l.sgrp.Write("%s", line)
	return nil
}

// Startup messages are queued for the first process to open the log file.
func (l *Log) populate(s *stream.Stream) {
	l.mu.Lock()
	if l.buffering {
		for _, m := range l.messages {
			s.Write("%s", m)
		}
		l.messages = nil
		l.buffering = false
	}
	l.mu.Unlock()
}
