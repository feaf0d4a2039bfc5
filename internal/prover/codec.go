package prover

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// NoGoals is the tactic state reported once a proof is complete.
const NoGoals = "no goals"

// StateID is the opaque proof state token assigned by the prover. It holds
// the JSON text of the token, so numeric ids are sent back as numbers and
// string ids as strings.
type StateID string

// ParseStateID converts user input to a StateID. Integers stay integers,
// anything else becomes a JSON string.
func ParseStateID(s string) StateID {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return StateID(s)
	}
	if json.Valid([]byte(s)) && strings.HasPrefix(s, `"`) {
		return StateID(s)
	}
	b, _ := json.Marshal(s)
	return StateID(b)
}

// String returns the token without JSON quoting.
func (id StateID) String() string {
	var s string
	if err := json.Unmarshal([]byte(id), &s); err == nil {
		return s
	}
	return string(id)
}

// MarshalJSON implements json.Marshaler.
func (id StateID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if !json.Valid([]byte(id)) {
		return json.Marshal(string(id))
	}
	return []byte(id), nil
}

// UnmarshalJSON implements json.Unmarshaler. Only numbers, strings and null
// are accepted.
func (id *StateID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StateID(data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("state id must be a number or string, got %s", data)
		}
		*id = StateID(n.String())
	}
	return nil
}

// Request is one command sent to the prover.
type Request struct {
	SID StateID `json:"sid"`
	Cmd string  `json:"cmd"`
}

// Response is one decoded reply from the prover.
type Response struct {
	SID         StateID
	TacticState string
	// Error is non-nil when the prover rejected the command.
	Error *string
	// Message is the diagnostic output printed before the payload.
	Message string
}

type wireResponse struct {
	SID         StateID `json:"sid"`
	TacticState *string `json:"tacticState"`
	Error       *string `json:"error"`
}

// Conn is the write side of a prover session.
type Conn interface {
	CheckAlive() error
	SendLine(text string) error
}

// Encode renders a request as a single JSON line (without the newline).
func Encode(sid StateID, cmd string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Request{SID: sid, Cmd: cmd}); err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Decode parses a frame payload. Any structural problem is reported as a
// CrashError of kind CrashInvalidPayload.
func Decode(payload string) (Response, error) {
	invalid := func(err error) (Response, error) {
		return Response{}, &CrashError{Kind: CrashInvalidPayload, Raw: payload, Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return invalid(err)
	}
	for _, key := range [...]string{"sid", "tacticState", "error"} {
		if _, ok := fields[key]; !ok {
			return invalid(fmt.Errorf("missing field %q", key))
		}
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return invalid(err)
	}
	if wire.Error == nil {
		if wire.TacticState == nil {
			return invalid(errors.New("tacticState is null without an error"))
		}
		if wire.SID == "" {
			return invalid(errors.New("sid is null without an error"))
		}
	}

	res := Response{SID: wire.SID, Error: wire.Error}
	if wire.TacticState != nil {
		res.TacticState = *wire.TacticState
	}
	return res, nil
}

// ReadResponse reads and decodes the next frame. End of stream is reported
// as a CrashUnexpectedEOF crash; ErrTimeout and liveness failures pass
// through unchanged.
func ReadResponse(frames FrameReader) (Response, error) {
	frame, err := frames.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Response{}, &CrashError{Kind: CrashUnexpectedEOF, Err: err}
		}
		return Response{}, err
	}
	res, err := Decode(frame.Payload)
	if err != nil {
		return Response{}, err
	}
	res.Message = frame.Message
	return res, nil
}

// Submit sends cmd against state sid and waits for the reply.
func Submit(conn Conn, frames FrameReader, sid StateID, cmd string) (Response, error) {
	if err := conn.CheckAlive(); err != nil {
		return Response{}, err
	}
	req, err := Encode(sid, cmd)
	if err != nil {
		return Response{}, err
	}
	slog.Debug("prover request", "request", req)
	if err := conn.SendLine(req); err != nil {
		return Response{}, &CrashError{Kind: CrashUnexpectedExit, ExitCode: -1, Err: err}
	}
	return ReadResponse(frames)
}
