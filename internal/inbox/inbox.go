// Package inbox implements per-agent ordered message logs with typed
// coordination messages and polling-based delivery.
//
// A single inbox is an append-ordered sequence guarded by its own lock
// scope. Broadcasts are independent per-inbox transactions: a crash
// mid-broadcast may update some inboxes and not others, which is a
// documented failure mode surfaced as BroadcastError, never hidden and
// never auto-retried (a retry would risk duplicate delivery).
package inbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/pkg/board"
)

// DefaultPollInterval is how often a bounded-wait read re-checks the inbox.
const DefaultPollInterval = 500 * time.Millisecond

// Service provides messaging over a board store.
type Service struct {
	store        board.Store
	pollInterval time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithPollInterval overrides the bounded-wait re-check interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		s.pollInterval = d
	}
}

// New creates a messaging service.
func New(store board.Store, opts ...Option) *Service {
	s := &Service{store: store, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send appends a message to one agent's inbox under the per-inbox lock.
// A missing message id or timestamp is filled in.
func (s *Service) Send(ctx context.Context, team, toName string, msg board.Message) error {
	if !board.ValidName(toName) {
		return fmt.Errorf("%w: invalid recipient name %q", board.ErrValidation, toName)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	key := board.InboxKey(team, toName)
	return s.store.WithLock(ctx, board.InboxScope(team, toName), func() error {
		msgs, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		data, err := board.EncodeInbox(msgs)
		if err != nil {
			return err
		}
		return s.store.Put(ctx, key, data)
	})
}

// BroadcastError reports a partially delivered broadcast: some inboxes were
// updated, the listed ones were not.
type BroadcastError struct {
	Failed map[string]error // recipient name -> delivery error
}

func (e *BroadcastError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("broadcast partially failed for %d recipient(s): %s",
		len(names), strings.Join(names, ", "))
}

// Broadcast appends the message to every team member's inbox except the
// sender's, as independent per-inbox transactions. Cross-recipient delivery
// order is unspecified and the broadcast is not atomic across recipients:
// failures are collected into a BroadcastError and the successful deliveries
// stand.
func (s *Service) Broadcast(ctx context.Context, team, fromName string, msg board.Message) error {
	data, err := s.store.Get(ctx, board.TeamKey(team))
	if err != nil {
		return fmt.Errorf("failed to resolve team %q for broadcast: %w", team, err)
	}
	tc, err := board.DecodeTeamConfig(data)
	if err != nil {
		return err
	}

	msg.From = board.AgentID(fromName, team)
	failed := make(map[string]error)
	for i := range tc.Members {
		name := tc.Members[i].Name
		if name == fromName {
			continue
		}
		// Fresh id per recipient so each inbox entry is independently
		// addressable.
		perRecipient := msg
		perRecipient.ID = uuid.New().String()
		if err := s.Send(ctx, team, name, perRecipient); err != nil {
			failed[name] = err
		}
	}

	if len(failed) > 0 {
		return &BroadcastError{Failed: failed}
	}
	return nil
}

// ReadOptions controls Read filtering and flag handling.
type ReadOptions struct {
	UnreadOnly bool // Return only unread messages
	MarkRead   bool // Flip the read flag on returned messages, atomically with the read
}

// Read returns an agent's messages in append order, optionally filtering
// unread ones and flipping their read flag inside the same critical section.
func (s *Service) Read(ctx context.Context, team, agentName string, opts ReadOptions) ([]board.Message, error) {
	var out []board.Message

	key := board.InboxKey(team, agentName)
	err := s.store.WithLock(ctx, board.InboxScope(team, agentName), func() error {
		msgs, err := s.load(ctx, key)
		if err != nil {
			return err
		}

		changed := false
		for i := range msgs {
			if opts.UnreadOnly && msgs[i].Read {
				continue
			}
			if opts.MarkRead && !msgs[i].Read {
				msgs[i].Read = true
				changed = true
			}
			out = append(out, msgs[i])
		}

		if !changed {
			return nil
		}
		data, err := board.EncodeInbox(msgs)
		if err != nil {
			return err
		}
		return s.store.Put(ctx, key, data)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Poll waits up to timeout for unread messages, re-checking the inbox at the
// configured interval. The wait is always bounded: on timeout it returns an
// empty slice, not an error. Returned messages are marked read.
func (s *Service) Poll(ctx context.Context, team, agentName string, timeout time.Duration) ([]board.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs, err := s.Read(ctx, team, agentName, ReadOptions{UnreadOnly: true, MarkRead: true})
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return []board.Message{}, nil
		}
		select {
		case <-ctx.Done():
			return []board.Message{}, nil
		case <-time.After(s.pollInterval):
		}
	}
}

// load reads and decodes an inbox; a missing record is an empty log.
func (s *Service) load(ctx context.Context, key string) ([]board.Message, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if board.IsNotFound(err) {
			return []board.Message{}, nil
		}
		return nil, err
	}
	return board.DecodeInbox(data)
}
