package wsserver

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "subscribe", raw: `{"action":"subscribe","topics":["tabs","strip"]}`},
		{name: "unsubscribe", raw: `{"action":"unsubscribe","topics":["log"]}`},
		{name: "command", raw: `{"action":"command","id":"1","command":"list"}`},
		{name: "invalid json", raw: `{not json`, wantErr: true},
		{name: "unknown action", raw: `{"action":"explode"}`, wantErr: true},
		{name: "subscribe without topics", raw: `{"action":"subscribe"}`, wantErr: true},
		{name: "unknown topic", raw: `{"action":"subscribe","topics":["panes"]}`, wantErr: true},
		{name: "command without id", raw: `{"action":"command","command":"list"}`, wantErr: true},
		{name: "command without name", raw: `{"action":"command","id":"2"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeClientMessage([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("DecodeClientMessage() error = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClientMessage() error = %v", err)
			}
		})
	}
}

func TestEncodePush(t *testing.T) {
	t.Parallel()

	frame, err := EncodePush(TopicTabs, map[string]string{"kind": "tab:created"})
	if err != nil {
		t.Fatalf("EncodePush() error = %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypePush || env.Topic != TopicTabs || string(env.Data) != `{"kind":"tab:created"}` {
		t.Fatalf("envelope = %+v", env)
	}
	if _, err := EncodePush("panes", nil); err == nil {
		t.Fatal("EncodePush() with unknown topic expected error")
	}
}

func TestEncodeReply(t *testing.T) {
	t.Parallel()

	ok, err := EncodeReply("3", []int{1, 2}, nil)
	if err != nil {
		t.Fatalf("EncodeReply() error = %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(ok, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.OK || env.ID != "3" || string(env.Data) != "[1,2]" || env.Error != "" {
		t.Fatalf("success envelope = %+v", env)
	}

	failed, err := EncodeReply("4", "ignored", errors.New("tab not found"))
	if err != nil {
		t.Fatalf("EncodeReply() error = %v", err)
	}
	env = Envelope{}
	if err := json.Unmarshal(failed, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.OK || env.Error != "tab not found" || env.Data != nil {
		t.Fatalf("failure envelope = %+v", env)
	}

	if _, err := EncodeReply("5", make(chan int), nil); err == nil {
		t.Fatal("EncodeReply() with unmarshalable data expected error")
	}
}
