// Package file provides an append-only file broker.
//
// Every topic lives in its own JSON lines file under the configured
// directory. Subscribers tail their topic's file, so the broker doubles as
// a durable local event log for development and auditing.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/chassis/broker"
	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// BrokerName is the name used to register this broker.
const BrokerName = "file"

// pollInterval is how long the subscriber waits at the end of the log
// before looking for new lines.
const pollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(dir string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{dir: dir, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(dir string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{dir: dir, logger: logger}, nil
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.FileCapabilities)
}

// Build creates a new file broker rooted at the configured directory.
func Build(_ context.Context, conf broker.Config, logger watermill.LoggerAdapter) (broker.Broker, error) {
	dir := conf.GetFileBrokerPath()
	if dir == "" {
		return broker.Broker{}, fmt.Errorf("%w: file broker needs a directory", cerrors.ErrInvalidArgument)
	}

	pub, err := PublisherFactory(dir, logger)
	if err != nil {
		return broker.Broker{}, err
	}

	sub, err := SubscriberFactory(dir, logger)
	if err != nil {
		return broker.Broker{}, err
	}

	return broker.Broker{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this broker.
func Capabilities() broker.Capabilities {
	return broker.FileCapabilities
}

// storedMessage is the JSON line structure for persisted messages.
type storedMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends messages to per-topic files.
type Publisher struct {
	dir    string
	logger watermill.LoggerAdapter
	mu     sync.Mutex
}

// Publish appends messages to the topic's file.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(topicPath(p.dir, topic), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		sm := storedMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		}
		b, err := codec.Marshal(sm)
		if err != nil {
			return err
		}
		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails per-topic files.
type Subscriber struct {
	dir    string
	logger watermill.LoggerAdapter
}

// Subscribe reads the topic's file from the start and follows appends
// until ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}

	out := make(chan *message.Message)

	go func() {
		defer close(out)

		f, err := os.OpenFile(topicPath(s.dir, topic), os.O_RDONLY|os.O_CREATE, 0o600)
		if err != nil {
			s.logger.Error("Failed to open topic file", err, watermill.LogFields{"topic": topic})
			return
		}
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if !s.waitForAppend(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("Failed to read topic file", err, watermill.LogFields{"topic": topic})
					return
				}

				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.deliver(ctx, out, line) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

// waitForAppend parks at the end of the file and rewinds the reader to the
// last complete line before retrying.
func (s *Subscriber) waitForAppend(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	currentPos, _ := f.Seek(0, io.SeekCurrent)
	currentPos -= int64(reader.Buffered())

	if currentPos > *lastPos {
		*lastPos = currentPos
	}

	time.Sleep(pollInterval)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek topic file", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte) bool {
	var sm storedMessage
	if err := codec.Unmarshal(line, &sm); err != nil {
		s.logger.Error("Failed to unmarshal stored message", err, nil)
		return true
	}

	msg := message.NewMessage(sm.UUID, sm.Payload)
	msg.Metadata = sm.Metadata

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}

func topicPath(dir, topic string) string {
	return filepath.Join(dir, sanitizeTopic(topic)+".jsonl")
}

// sanitizeTopic keeps topic derived file names filesystem safe.
func sanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, topic)
}
