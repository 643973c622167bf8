package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/siohaza/catchd/internal/player"
)

// Sink delivers user-facing status text.
type Sink interface {
	SendText(to player.ID, msg string)
	Broadcast(msg string)
}

type Chain struct {
	sinks []Sink
}

func NewChain(sinks ...Sink) *Chain {
	return &Chain{sinks: sinks}
}

func (c *Chain) Register(s Sink) {
	c.sinks = append(c.sinks, s)
}

func (c *Chain) SendText(to player.ID, msg string) {
	for _, s := range c.sinks {
		s.SendText(to, msg)
	}
}

func (c *Chain) Broadcast(msg string) {
	for _, s := range c.sinks {
		s.Broadcast(msg)
	}
}

// LogSink writes every notification to the server log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) SendText(to player.ID, msg string) {
	l.logger.Debug("notice", "to", int(to), "message", msg)
}

func (l *LogSink) Broadcast(msg string) {
	l.logger.Info("broadcast", "message", msg)
}

type Message struct {
	To        player.ID
	Broadcast bool
	Text      string
}

func (m Message) String() string {
	if m.Broadcast {
		return "* " + m.Text
	}
	return fmt.Sprintf("%d: %s", m.To, m.Text)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	Messages []Message
}

func (r *Recorder) SendText(to player.ID, msg string) {
	r.Messages = append(r.Messages, Message{To: to, Text: msg})
}

func (r *Recorder) Broadcast(msg string) {
	r.Messages = append(r.Messages, Message{To: player.NoID, Broadcast: true, Text: msg})
}

// Count returns how many messages contain substr, broadcast or direct.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, m := range r.Messages {
		if strings.Contains(m.Text, substr) {
			n++
		}
	}
	return n
}

func (r *Recorder) Has(substr string) bool {
	return r.Count(substr) > 0
}

// To returns the direct messages sent to id.
func (r *Recorder) To(id player.ID) []string {
	var out []string
	for _, m := range r.Messages {
		if !m.Broadcast && m.To == id {
			out = append(out, m.Text)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.Messages = nil
}
