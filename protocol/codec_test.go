package protocol

import (
	"strings"
	"testing"

	"convoscript/core"
)

func TestMarshalUnmarshalEnvelope(t *testing.T) {
	data, err := Marshal(MsgPresentInput, InputPayload{RequestID: "r1", InputType: "text"})
	if err != nil {
		t.Fatal(err)
	}
	msgType, raw, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgPresentInput {
		t.Fatalf("type = %q, want %q", msgType, MsgPresentInput)
	}
	p, err := UnmarshalPayload[InputPayload](raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.RequestID != "r1" || p.InputType != "text" {
		t.Errorf("payload = %+v", p)
	}
}

func TestMarshalWithoutPayload(t *testing.T) {
	data, err := Marshal(MsgPress, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "payload") {
		t.Errorf("envelope = %s, want no payload field", data)
	}
	msgType, raw, err := Unmarshal(data)
	if err != nil || msgType != MsgPress {
		t.Fatalf("Unmarshal = %q, %v", msgType, err)
	}
	if _, err := UnmarshalPayload[AcceptPayload](raw); err != nil {
		t.Errorf("empty payload: %v", err)
	}
}

func TestUnmarshalRejectsBadEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "hello"},
		{"missing type", `{"payload":{}}`},
		{"empty type", `{"type":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Unmarshal([]byte(tt.data)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestDecodeClientAcceptsOnlyClientMessages(t *testing.T) {
	tests := []struct {
		data    string
		want    MessageType
		wantErr bool
	}{
		{`{"type":"run","payload":{"script":"main"}}`, MsgRun, false},
		{`{"type":"press"}`, MsgPress, false},
		{`{"type":"recording","payload":{"request_id":"r"}}`, MsgRecording, false},
		{`{"type":"entry","payload":{}}`, MsgEntry, true},
		{`{"type":"teleport"}`, "teleport", true},
		{`{"payload":{}}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, _, err := DecodeClient([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNullPayloadDecodesToZero(t *testing.T) {
	_, raw, err := Unmarshal([]byte(`{"type":"accept","payload":null}`))
	if err != nil {
		t.Fatal(err)
	}
	p, err := UnmarshalPayload[AcceptPayload](raw)
	if err != nil {
		t.Fatalf("null payload: %v", err)
	}
	if p.RequestID != "" || p.Value != nil {
		t.Errorf("payload = %+v, want zero", p)
	}
}

func TestRunPayloadCarriesInstructions(t *testing.T) {
	data := []byte(`{"type":"run","payload":{"instructions":[{"role":"user","content":"hi"},{"role":"condition","content":"1===1","true":"A","false":"end"}]}}`)
	_, raw, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	p, err := UnmarshalPayload[RunPayload](raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Instructions) != 2 {
		t.Fatalf("instructions = %v", p.Instructions)
	}
	if p.Instructions[1].Kind() != core.KindCondition {
		t.Errorf("kind = %v, want condition", p.Instructions[1].Kind())
	}
}

func TestEntryPayloadShape(t *testing.T) {
	entry := core.NewTranscriptEntry("assistant", core.EntryText, "hello")
	data, err := Marshal(MsgEntry, EntryPayload{Entry: entry})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"type":"entry"`, `"role":"Assistant"`, `"kind":"text"`, `"content":"hello"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("%s missing %s", data, want)
		}
	}
}

func TestFilePayloadBlob(t *testing.T) {
	tests := []struct {
		name     string
		payload  FilePayload
		wantMIME string
		wantData string
		wantErr  bool
	}{
		{
			name:     "data url",
			payload:  FilePayload{Name: "cat.png", Data: "data:image/png;base64,aGk="},
			wantMIME: "image/png",
			wantData: "hi",
		},
		{
			name:     "plain base64",
			payload:  FilePayload{MIMEType: "audio/webm", Data: "aGk="},
			wantMIME: "audio/webm",
			wantData: "hi",
		},
		{
			name:     "plain base64 without type",
			payload:  FilePayload{Data: "aGk="},
			wantMIME: "application/octet-stream",
			wantData: "hi",
		},
		{
			name:    "garbage",
			payload: FilePayload{Data: "***"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.payload.Blob()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if b.MIMEType != tt.wantMIME || string(b.Data) != tt.wantData || b.Name != tt.payload.Name {
				t.Errorf("blob = %+v", b)
			}
		})
	}
}
