package events

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestJSONDecode(t *testing.T) {
	cases := []struct {
		name    string
		frame   string
		want    Inbound
		wantErr error
	}{
		{
			name:  "register",
			frame: `{"type":"register","data":{"userId":"alice"}}`,
			want:  Register{UserID: "alice"},
		},
		{
			name:  "send invite",
			frame: `{"type":"send_invite","data":{"from":{"id":"alice","username":"Alice"},"to":{"id":"bob"}}}`,
			want:  SendInvite{From: UserRef{ID: "alice", Username: "Alice"}, To: UserRef{ID: "bob"}},
		},
		{
			name:  "accept invite",
			frame: `{"type":"accept_invite","data":{"from":"alice","to":{"id":"bob","username":"Bob"}}}`,
			want:  AcceptInvite{From: "alice", To: UserRef{ID: "bob", Username: "Bob"}},
		},
		{
			name:  "private message",
			frame: `{"type":"send-private-message","data":{"to":"bob","message":{"senderId":"alice","text":"hi"}}}`,
			want:  SendPrivateMessage{To: "bob", Message: Message{SenderID: "alice", Text: "hi"}},
		},
		{name: "unknown kind", frame: `{"type":"teleport","data":{}}`, wantErr: ErrUnknownKind},
		{name: "missing type", frame: `{"data":{}}`, wantErr: ErrMalformed},
		{name: "not json", frame: `register alice`, wantErr: ErrMalformed},
		{name: "missing data", frame: `{"type":"register"}`, wantErr: ErrMalformed},
		{name: "wrong shape", frame: `{"type":"send_invite","data":{"from":"alice","to":"bob"}}`, wantErr: ErrMalformed},
		{name: "unknown field", frame: `{"type":"register","data":{"userId":"a","admin":true}}`, wantErr: ErrMalformed},
		{name: "empty user", frame: `{"type":"register","data":{"userId":" "}}`, wantErr: ErrInvalid},
		{name: "empty text", frame: `{"type":"send-private-message","data":{"to":"bob","message":{"text":""}}}`, wantErr: ErrInvalid},
		{name: "outbound kind", frame: `{"type":"receive_invite","data":{"from":{"id":"x"}}}`, wantErr: ErrUnknownKind},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := JSON{}.Decode([]byte(tc.frame))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v got %+v", tc.want, got)
			}
		})
	}
}

func TestJSONEncode(t *testing.T) {
	frame, err := JSON{}.Encode(InviteAccepted{By: UserRef{ID: "bob", Username: "Bob"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"type":"invite_accepted","data":{"by":{"id":"bob","username":"Bob"}}}`
	if string(frame) != want {
		t.Fatalf("expected %s got %s", want, frame)
	}
}

func TestCBORDecode(t *testing.T) {
	frame, err := cbor.Marshal(map[string]any{
		"type": "send_invite",
		"data": map[string]any{
			"from": map[string]any{"id": "alice"},
			"to":   map[string]any{"id": "bob", "username": "Bob"},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := CBOR{}.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := SendInvite{From: UserRef{ID: "alice"}, To: UserRef{ID: "bob", Username: "Bob"}}
	if got != want {
		t.Fatalf("expected %+v got %+v", want, got)
	}

	if _, err := (CBOR{}).Decode([]byte{0xff, 0x00}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error got %v", err)
	}
}

func TestCBOREncode(t *testing.T) {
	frame, err := CBOR{}.Encode(ReceiveInvite{From: UserRef{ID: "alice", Username: "Alice"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded struct {
		Type string        `cbor:"type"`
		Data ReceiveInvite `cbor:"data"`
	}
	if err := cbor.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != string(KindReceiveInvite) || decoded.Data.From.ID != "alice" {
		t.Fatalf("unexpected frame %+v", decoded)
	}
}

func TestForSubprotocols(t *testing.T) {
	if codec, proto := ForSubprotocols([]string{"other", SubprotocolCBOR}); !codec.Binary() || proto != SubprotocolCBOR {
		t.Fatalf("expected CBOR codec got %T %q", codec, proto)
	}
	if codec, proto := ForSubprotocols(nil); codec.Binary() || proto != "" {
		t.Fatalf("expected JSON codec got %T %q", codec, proto)
	}
}
