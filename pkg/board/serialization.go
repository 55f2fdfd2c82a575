package board

import (
	"encoding/json"
	"fmt"
)

// Serialization helpers for converting between Go structs and stored records
//
// Records are stored as JSON documents. Decoding validates structurally so a
// corrupt or foreign file surfaces as an error instead of a zero-valued
// record flowing through the kernel.

// EncodeTask serializes a task record.
func EncodeTask(t *Task) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal task %d: %v", ErrStorage, t.ID, err)
	}
	return data, nil
}

// DecodeTask deserializes and validates a task record.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal task: %v", ErrStorage, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Blocks == nil {
		t.Blocks = []int{}
	}
	if t.BlockedBy == nil {
		t.BlockedBy = []int{}
	}
	return &t, nil
}

// EncodeInbox serializes an agent's append-ordered message log.
func EncodeInbox(msgs []Message) ([]byte, error) {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal inbox: %v", ErrStorage, err)
	}
	return data, nil
}

// DecodeInbox deserializes an agent's message log.
// A missing or empty record decodes to an empty log.
func DecodeInbox(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return []Message{}, nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal inbox: %v", ErrStorage, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// EncodeTeamConfig serializes a team's roster document.
func EncodeTeamConfig(tc *TeamConfig) ([]byte, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal team config %q: %v", ErrStorage, tc.Name, err)
	}
	return data, nil
}

// DecodeTeamConfig deserializes and validates a team's roster document.
func DecodeTeamConfig(data []byte) (*TeamConfig, error) {
	var tc TeamConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal team config: %v", ErrStorage, err)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return &tc, nil
}
