// internal/protocol/codec.go
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors. The handler maps these to the two protocol-level error
// replies; everything else about the failure stays in the server log.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// envelope is the first-pass parse used to pick the union variant.
type envelope struct {
	Type string `json:"type"`
}

// Decode parses one inbound text frame into its ClientMessage variant.
// The payload is validated at this boundary: a frame that is not a JSON object
// with a known "type" never reaches the dispatcher.
func Decode(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		msg ClientMessage
		err error
	)
	switch env.Type {
	case TypeRaceJoin:
		msg, err = decodeInto[RaceJoin](data)
	case TypeRaceLeave:
		msg, err = decodeInto[RaceLeave](data)
	case TypeRaceStart:
		msg, err = decodeInto[RaceStart](data)
	case TypeRaceProgress:
		msg, err = decodeInto[RaceProgress](data)
	case TypeRaceFinish:
		msg, err = decodeInto[RaceFinish](data)
	case TypeRaceAdvanceChallenge:
		msg, err = decodeInto[RaceAdvanceChallenge](data)
	case TypeRaceCountdown:
		msg, err = decodeInto[RaceCountdown](data)
	case TypeRaceSpectate:
		msg, err = decodeInto[RaceSpectate](data)
	case TypeRaceUnspectate:
		msg, err = decodeInto[RaceUnspectate](data)
	case TypeLobbySubscribe:
		msg = LobbySubscribe{}
	case TypeLobbyUnsubscribe:
		msg = LobbyUnsubscribe{}
	case TypeMatchmakingJoin:
		msg, err = decodeInto[MatchmakingJoin](data)
	case TypeMatchmakingLeave:
		msg, err = decodeInto[MatchmakingLeave](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeInto[T ClientMessage](data []byte) (ClientMessage, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// Encode marshals one outbound frame.
func Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
