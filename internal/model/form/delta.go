package form

import "encoding/json"

// UpdateFormType is the envelope type for pushed field changes.
const UpdateFormType = "update-form"

// Delta carries one or more field assignments extracted from a dialogue reply.
// A nil or empty Delta means "no change".
type Delta map[string]any

// NoChange is the sentinel Delta.
var NoChange Delta

// IsNoChange reports whether d carries nothing to apply.
func (d Delta) IsNoChange() bool {
	return len(d) == 0
}

// Envelope is the frame sent to every subscriber of a session.
type Envelope struct {
	Type    string `json:"type"`
	Payload Delta  `json:"payload"`
}

// Encode marshals d into an update-form envelope.
func (d Delta) Encode() ([]byte, error) {
	return json.Marshal(Envelope{Type: UpdateFormType, Payload: d})
}

// State is the server's last-known snapshot of a session's form.
type State map[string]any

// Clone returns a shallow copy safe to hand out of a lock.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ParseState decodes client-supplied form context (the formData query param or
// completeFormData body field). Only JSON objects are accepted.
func ParseState(raw string) (State, error) {
	if raw == "" {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return st, nil
}
