package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/pkg/board"
)

// Protocol message constructors
//
// The coordination protocol rides on typed inbox messages. Structured
// payloads (stall alerts, heartbeats) are JSON-encoded into the message text
// so any reader of the raw inbox can still inspect them.

// Heartbeat is the periodic liveness + progress payload.
type Heartbeat struct {
	TaskID   int    `json:"task_id,omitempty"`
	Progress string `json:"progress,omitempty"`
}

// NewHeartbeat builds a heartbeat message from an agent.
func NewHeartbeat(fromID string, hb Heartbeat) board.Message {
	payload, _ := json.Marshal(hb)
	return board.Message{
		ID:        uuid.New().String(),
		From:      fromID,
		Text:      string(payload),
		Timestamp: time.Now().UTC(),
		Type:      board.MessageHeartbeat,
		Summary:   hb.Progress,
	}
}

// NewHealthCheck builds an on-demand liveness probe. The recipient must
// answer (with any heartbeat) within the probe window or be marked stalled.
func NewHealthCheck(fromID string) board.Message {
	return board.Message{
		ID:        uuid.New().String(),
		From:      fromID,
		Text:      "respond with a heartbeat to confirm liveness",
		Timestamp: time.Now().UTC(),
		Type:      board.MessageHealthCheck,
	}
}

// StallAlert names a stalled agent and the tasks released back to pending.
type StallAlert struct {
	Agent    string `json:"agent"`    // Agent id of the stalled member
	Released []int  `json:"released"` // Task ids released by the monitor
}

// NewStallAlert builds the broadcast payload for a confirmed stall.
func NewStallAlert(fromID string, alert StallAlert) board.Message {
	payload, _ := json.Marshal(alert)
	return board.Message{
		ID:        uuid.New().String(),
		From:      fromID,
		Text:      string(payload),
		Timestamp: time.Now().UTC(),
		Type:      board.MessageStallAlert,
		Summary:   fmt.Sprintf("%s stalled; %d task(s) released", alert.Agent, len(alert.Released)),
	}
}

// ParseHeartbeat decodes a heartbeat payload.
func ParseHeartbeat(msg board.Message) (Heartbeat, error) {
	var hb Heartbeat
	if msg.Type != board.MessageHeartbeat {
		return hb, fmt.Errorf("%w: message %s is %q, not a heartbeat", board.ErrValidation, msg.ID, msg.Type)
	}
	if err := json.Unmarshal([]byte(msg.Text), &hb); err != nil {
		return hb, fmt.Errorf("%w: malformed heartbeat payload: %v", board.ErrValidation, err)
	}
	return hb, nil
}

// ParseStallAlert decodes a stall_alert payload.
func ParseStallAlert(msg board.Message) (StallAlert, error) {
	var alert StallAlert
	if msg.Type != board.MessageStallAlert {
		return alert, fmt.Errorf("%w: message %s is %q, not a stall_alert", board.ErrValidation, msg.ID, msg.Type)
	}
	if err := json.Unmarshal([]byte(msg.Text), &alert); err != nil {
		return alert, fmt.Errorf("%w: malformed stall_alert payload: %v", board.ErrValidation, err)
	}
	return alert, nil
}

// NewShutdownRequest asks an agent to finish in-flight work and stop.
// Termination must wait for the explicit shutdown_response approval.
func NewShutdownRequest(fromID, reason string) board.Message {
	return board.Message{
		ID:        uuid.New().String(),
		From:      fromID,
		Text:      reason,
		Timestamp: time.Now().UTC(),
		Type:      board.MessageShutdownRequest,
	}
}

// NewShutdownResponse is the recipient's explicit approval (or refusal).
func NewShutdownResponse(fromID string, approved bool) board.Message {
	summary := "approved"
	if !approved {
		summary = "refused"
	}
	return board.Message{
		ID:        uuid.New().String(),
		From:      fromID,
		Text:      summary,
		Timestamp: time.Now().UTC(),
		Type:      board.MessageShutdownResponse,
		Summary:   summary,
	}
}

// ShutdownApproved reports whether a shutdown_response message approves.
func ShutdownApproved(msg board.Message) bool {
	return msg.Type == board.MessageShutdownResponse && msg.Summary == "approved"
}

// AwaitShutdownApproval polls the requester's inbox up to timeout for a
// shutdown_response from the given agent. Returns false when the wait
// expires or the response refuses; the wait is always bounded.
func (s *Service) AwaitShutdownApproval(ctx context.Context, team, requesterName, fromID string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs, err := s.Read(ctx, team, requesterName, ReadOptions{UnreadOnly: true, MarkRead: true})
		if err != nil {
			return false, err
		}
		for _, msg := range msgs {
			if msg.Type == board.MessageShutdownResponse && msg.From == fromID {
				return ShutdownApproved(msg), nil
			}
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(s.pollInterval):
		}
	}
}
