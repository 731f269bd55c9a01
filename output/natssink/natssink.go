// Package natssink provides an engine sink that publishes emitted events to
// NATS subjects.
//
// Each event goes to "<prefix>.<event name>", with characters that NATS
// treats as separators or wildcards replaced by underscores. In JetStream
// mode the sink creates or updates the stream on Start and waits for the
// publish acknowledgement.
package natssink

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
)

// Publisher is the subset of natsclient.Client the sink publishes through
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// StreamEnsurer creates JetStream streams. natsclient.Client implements it.
type StreamEnsurer interface {
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Config holds configuration for the NATS sink
type Config struct {
	SubjectPrefix string        `json:"subject_prefix"`
	JetStream     bool          `json:"jetstream"`
	Stream        string        `json:"stream,omitempty"`
	MaxAge        time.Duration `json:"max_age,omitempty"`
}

// DefaultConfig returns the default NATS sink configuration
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "paramstream.events",
		Stream:        "PARAMSTREAM_EVENTS",
		MaxAge:        24 * time.Hour,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, "*> \t") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must be a literal subject")
	}
	if c.JetStream && c.Stream == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "stream is required in jetstream mode")
	}
	if c.MaxAge < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_age cannot be negative")
	}
	return nil
}

// Sink publishes emitted events to NATS
type Sink struct {
	cfg       Config
	publisher Publisher
	logger    *slog.Logger
}

// New creates a NATS sink on top of publisher
func New(cfg Config, publisher Publisher, logger *slog.Logger) (*Sink, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natssink.Sink", "New", "publisher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "natssink.Sink", "New", "validate config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With("component", "nats-sink"),
	}, nil
}

// Name identifies the sink in logs and metrics
func (s *Sink) Name() string {
	return "nats"
}

// Start ensures the JetStream stream exists. It is a no-op in core mode.
func (s *Sink) Start(ctx context.Context) error {
	if !s.cfg.JetStream {
		return nil
	}

	ensurer, ok := s.publisher.(StreamEnsurer)
	if !ok {
		return errors.WrapFatal(errors.ErrUnsupportedOperation, "natssink.Sink", "Start",
			"publisher cannot create streams")
	}

	_, err := ensurer.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: []string{s.cfg.SubjectPrefix + ".>"},
		MaxAge:   s.cfg.MaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return errors.Wrap(err, "natssink.Sink", "Start", "ensure stream "+s.cfg.Stream)
	}

	s.logger.Info("Event stream ready", "stream", s.cfg.Stream, "subjects", s.cfg.SubjectPrefix+".>")
	return nil
}

// Subject returns the subject an event with the given name is published on
func (s *Sink) Subject(eventName string) string {
	return s.cfg.SubjectPrefix + "." + subjectToken(eventName)
}

// Publish sends one event as JSON
func (s *Sink) Publish(ctx context.Context, event engine.EmittedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "natssink.Sink", "Publish", "encode event")
	}

	subject := s.Subject(event.Name)
	if s.cfg.JetStream {
		err = s.publisher.PublishToStream(ctx, subject, data)
	} else {
		err = s.publisher.Publish(ctx, subject, data)
	}
	if err != nil {
		return errors.Wrap(err, "natssink.Sink", "Publish", "publish to "+subject)
	}
	return nil
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return tokenReplacer.Replace(name)
}
