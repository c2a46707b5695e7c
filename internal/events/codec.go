package events

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// SubprotocolCBOR selects binary CBOR frames during the WebSocket handshake.
const SubprotocolCBOR = "chatme.v1+cbor"

// Codec converts events to and from wire frames.
type Codec interface {
	// Binary reports whether frames are sent as binary rather than text.
	Binary() bool
	Encode(Outbound) ([]byte, error)
	Decode([]byte) (Inbound, error)
}

// ForSubprotocols picks the codec negotiated by the client's offered
// subprotocols, defaulting to JSON.
func ForSubprotocols(offered []string) (Codec, string) {
	for _, p := range offered {
		if p == SubprotocolCBOR {
			return CBOR{}, SubprotocolCBOR
		}
	}
	return JSON{}, ""
}

type jsonEnvelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outEnvelope struct {
	Type Kind     `json:"type"`
	Data Outbound `json:"data"`
}

// JSON encodes events as UTF-8 JSON text frames.
type JSON struct{}

func (JSON) Binary() bool { return false }

func (JSON) Encode(ev Outbound) ([]byte, error) {
	return json.Marshal(outEnvelope{Type: ev.Kind(), Data: ev})
}

func (JSON) Decode(frame []byte) (Inbound, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	in, err := newInbound(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, fmt.Errorf("%w: missing data for %s", ErrMalformed, env.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return finish(in)
}

type cborEnvelope struct {
	Type Kind            `json:"type"`
	Data cbor.RawMessage `json:"data"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxNestedLevels:   16,
	}.DecMode()
	if err != nil {
		panic("events: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR encodes events as binary frames using deterministic CBOR.
type CBOR struct{}

func (CBOR) Binary() bool { return true }

func (CBOR) Encode(ev Outbound) ([]byte, error) {
	return cborEnc.Marshal(outEnvelope{Type: ev.Kind(), Data: ev})
}

func (CBOR) Decode(frame []byte) (Inbound, error) {
	var env cborEnvelope
	if err := cborDec.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	in, err := newInbound(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data for %s", ErrMalformed, env.Type)
	}
	if err := cborDec.Unmarshal(env.Data, in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return finish(in)
}

func finish(in Inbound) (Inbound, error) {
	ev := deref(in)
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
