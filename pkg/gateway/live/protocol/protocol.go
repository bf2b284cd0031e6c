package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// Interaction types carried on every inbound frame.
const (
	InteractionSessionStart  = "session_start"
	InteractionKeepalive     = "keepalive"
	InteractionTurnComplete  = "turn_complete"
	InteractionInfoOnly      = "info_only"
	InteractionOutOfBandText = "out_of_band_text"
	InteractionCallEnd       = "call_end"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// SessionStart opens (or resumes) a session. It must be the first frame on
// every connection; a missing session id asks the server to mint one.
type SessionStart struct {
	InteractionType string `json:"interaction_type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id,omitempty"`
	Channel         string `json:"channel"`
	CallerNumber    string `json:"caller_number,omitempty"`
	Resume          bool   `json:"resume,omitempty"`
}

type Keepalive struct {
	InteractionType string `json:"interaction_type"`
	TimestampMS     *int64 `json:"timestamp_ms,omitempty"`
}

// TurnComplete asks for a reply: the caller finished speaking and the
// provider requires exactly one turn_response tagged with TurnID.
type TurnComplete struct {
	InteractionType string `json:"interaction_type"`
	TurnID          string `json:"turn_id"`
	Transcript      string `json:"transcript"`
}

// InfoOnly is a transcript update that needs no response.
type InfoOnly struct {
	InteractionType string `json:"interaction_type"`
	Transcript      string `json:"transcript"`
}

// OutOfBandText is a typed message with no turn id; the reply goes out as a
// standalone announcement since there is nothing to correlate it against.
type OutOfBandText struct {
	InteractionType string `json:"interaction_type"`
	Text            string `json:"text"`
}

type CallEnd struct {
	InteractionType string `json:"interaction_type"`
	Reason          string `json:"reason,omitempty"`
}

// DecodeClientFrame decodes one inbound frame by its interaction_type
// discriminator. Unknown or malformed frames return a *DecodeError.
func DecodeClientFrame(data []byte) (any, error) {
	var envelope struct {
		InteractionType string `json:"interaction_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.InteractionType)
	if typ == "" {
		return nil, badRequest("missing interaction_type", "interaction_type")
	}

	switch typ {
	case InteractionSessionStart:
		var msg SessionStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session_start frame", "")
		}
		if err := ValidateSessionStart(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case InteractionKeepalive:
		var msg Keepalive
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid keepalive frame", "")
		}
		return msg, nil
	case InteractionTurnComplete:
		var msg TurnComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid turn_complete frame", "")
		}
		if strings.TrimSpace(msg.TurnID) == "" {
			return nil, badRequest("turn_complete.turn_id is required", "turn_id")
		}
		return msg, nil
	case InteractionInfoOnly:
		var msg InfoOnly
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid info_only frame", "")
		}
		if strings.TrimSpace(msg.Transcript) == "" {
			return nil, badRequest("info_only.transcript is required", "transcript")
		}
		return msg, nil
	case InteractionOutOfBandText:
		var msg OutOfBandText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid out_of_band_text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("out_of_band_text.text is required", "text")
		}
		return msg, nil
	case InteractionCallEnd:
		var msg CallEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call_end frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported interaction_type", "interaction_type")
	}
}

func ValidateSessionStart(msg SessionStart) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("session_start.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.ProtocolVersion) != ProtocolVersion1 {
		return unsupported("unsupported protocol_version", "protocol_version")
	}
	switch strings.TrimSpace(msg.Channel) {
	case "voice", "text":
		return nil
	case "":
		return badRequest("session_start.channel is required", "channel")
	default:
		return unsupported("unsupported channel", "channel")
	}
}

// Outbound frames.

type SessionConfig struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Resumed    bool   `json:"resumed"`
	HistoryLen int    `json:"history_len"`
	Greeting   string `json:"greeting,omitempty"`
}

// TurnResponse is the single final answer for one turn. Done is always true
// here; partial same-turn responses are never emitted because providers
// concatenate same-turn partials into one spoken utterance.
type TurnResponse struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
	Done   bool   `json:"done"`
}

// StandaloneAnnouncement carries text with no turn correlation: interim
// "please hold" notices and replies to out-of-band messages.
type StandaloneAnnouncement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type KeepaliveAck struct {
	Type        string `json:"type"`
	TimestampMS *int64 `json:"timestamp_ms,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewTurnResponse(turnID, text string) TurnResponse {
	return TurnResponse{Type: "turn_response", TurnID: turnID, Text: text, Done: true}
}

func NewStandaloneAnnouncement(text string) StandaloneAnnouncement {
	return StandaloneAnnouncement{Type: "standalone_announcement", Text: text}
}

func NewKeepaliveAck(ts *int64) KeepaliveAck {
	return KeepaliveAck{Type: "keepalive_ack", TimestampMS: ts}
}
