package conduit

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Storage and bus names shared by every process attached to the same log.
const (
	LogKey      = "nexus_hyperbit_messages"
	ChannelName = "nexus_hyper_channel"
)

const hintClear = "CLEAR_ALL_MESSAGES"

// hint is the bus payload. Message hints carry the appended message itself;
// clear hints carry only the control type and the clearing tab.
type hint struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
}

func decodeLog(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var msgs []Message
	if err := sonic.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func encodeLog(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return sonic.Marshal(msgs)
}

func encodePayload(v any) (string, error) {
	switch p := v.(type) {
	case json.RawMessage:
		if json.Valid(p) {
			return string(p), nil
		}
		return sonic.MarshalString(string(p))
	}
	return sonic.MarshalString(v)
}

func decodeHint(data []byte) hint {
	var h hint
	_ = sonic.Unmarshal(data, &h)
	return h
}

func encodeHint(m Message) ([]byte, error) {
	return sonic.Marshal(m)
}

func encodeClearHint(senderID string) ([]byte, error) {
	return sonic.Marshal(hint{Type: hintClear, SenderID: senderID})
}
