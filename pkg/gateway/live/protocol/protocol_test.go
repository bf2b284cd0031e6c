package protocol

import (
	"errors"
	"testing"
)

func TestDecodeClientFrame_SessionStart(t *testing.T) {
	raw := []byte(`{"interaction_type":"session_start","protocol_version":"1","channel":"voice","caller_number":"+15550100"}`)
	decoded, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(SessionStart)
	if !ok {
		t.Fatalf("decoded %T, want SessionStart", decoded)
	}
	if msg.Channel != "voice" {
		t.Fatalf("channel=%q, want voice", msg.Channel)
	}
	if msg.SessionID != "" {
		t.Fatalf("session_id=%q, want empty (server mints)", msg.SessionID)
	}
}

func TestDecodeClientFrame_SessionStartRejectsBadVersion(t *testing.T) {
	raw := []byte(`{"interaction_type":"session_start","protocol_version":"2","channel":"voice"}`)
	_, err := DecodeClientFrame(raw)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want *DecodeError", err)
	}
	if de.Code != "unsupported" || de.Param != "protocol_version" {
		t.Fatalf("code=%q param=%q, want unsupported/protocol_version", de.Code, de.Param)
	}
}

func TestDecodeClientFrame_TurnCompleteRequiresTurnID(t *testing.T) {
	raw := []byte(`{"interaction_type":"turn_complete","transcript":"book me in tomorrow"}`)
	_, err := DecodeClientFrame(raw)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want *DecodeError", err)
	}
	if de.Param != "turn_id" {
		t.Fatalf("param=%q, want turn_id", de.Param)
	}
}

func TestDecodeClientFrame_TurnComplete(t *testing.T) {
	raw := []byte(`{"interaction_type":"turn_complete","turn_id":"t_9","transcript":"cancel my appointment"}`)
	decoded, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(TurnComplete)
	if !ok {
		t.Fatalf("decoded %T, want TurnComplete", decoded)
	}
	if msg.TurnID != "t_9" || msg.Transcript != "cancel my appointment" {
		t.Fatalf("unexpected frame: %+v", msg)
	}
}

func TestDecodeClientFrame_Keepalive(t *testing.T) {
	decoded, err := DecodeClientFrame([]byte(`{"interaction_type":"keepalive"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded.(Keepalive); !ok {
		t.Fatalf("decoded %T, want Keepalive", decoded)
	}
}

func TestDecodeClientFrame_UnknownType(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"interaction_type":"telemetry"}`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want *DecodeError", err)
	}
	if de.Code != "unsupported" {
		t.Fatalf("code=%q, want unsupported", de.Code)
	}
}

func TestDecodeClientFrame_MissingType(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"transcript":"hello"}`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want *DecodeError", err)
	}
	if de.Code != "bad_request" || de.Param != "interaction_type" {
		t.Fatalf("code=%q param=%q", de.Code, de.Param)
	}
}

func TestDecodeClientFrame_InvalidJSON(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"interaction_type":`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want *DecodeError", err)
	}
	if de.Code != "bad_request" {
		t.Fatalf("code=%q, want bad_request", de.Code)
	}
}

func TestDecodeClientFrame_OutOfBandTextRequiresText(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"interaction_type":"out_of_band_text","text":"  "}`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want *DecodeError", err)
	}
	if de.Param != "text" {
		t.Fatalf("param=%q, want text", de.Param)
	}
}

func TestNewTurnResponse_AlwaysDone(t *testing.T) {
	resp := NewTurnResponse("t_1", "See you Tuesday at nine.")
	if !resp.Done {
		t.Fatalf("turn_response.done must be true")
	}
	if resp.Type != "turn_response" || resp.TurnID != "t_1" {
		t.Fatalf("unexpected frame: %+v", resp)
	}
}
