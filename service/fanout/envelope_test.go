package fanout

import (
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	content := "hello"
	in := NewChatMessage(1, 2, 3, &content)
	data, err := in.Encode()
	if err != nil {
		t.Fatal(err)
	}
	out, err := ParseEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != TypeMessage || out.ChatID != 1 || *out.UserID != 2 || *out.MessageID != 3 || *out.Content != "hello" {
		t.Fatalf("round trip mangled envelope: %+v", out)
	}
}

func TestParseEnvelopeRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{`},
		{"unknown type", `{"type":"teleport","chat_id":1}`},
		{"missing chat_id", `{"type":"message","user_id":2,"message_id":3}`},
		{"message without ids", `{"type":"message","chat_id":1}`},
		{"new_user without content", `{"type":"new_user","chat_id":1,"user_id":2,"message_id":3}`},
		{"user_left without content", `{"type":"user_left","chat_id":1,"user_id":2,"message_id":3}`},
		{"chat_progress without cursor", `{"type":"chat_progress","chat_id":1}`},
		{"user_progress without user", `{"type":"user_progress","chat_id":1,"last_read_message_id":3}`},
	}
	for _, c := range cases {
		if _, err := ParseEnvelope([]byte(c.data)); err == nil {
			t.Errorf("%s: accepted", c.name)
		}
	}
}

func TestEncodeCachesPayload(t *testing.T) {
	e := NewChatProgress(1, 5)
	first, err := e.Encode()
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if &first[0] != &second[0] {
		t.Fatal("Encode re-marshaled an already encoded envelope")
	}
}
