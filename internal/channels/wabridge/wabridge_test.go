package wabridge

import (
	"testing"

	"github.com/nextlevelbuilder/convogate/internal/bus"
)

func TestNormalizeTextMessage(t *testing.T) {
	ev, err := Normalize("5511999999999@c.us", "oi", "", "", 1766000000)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.CustomerID != "5511999999999" {
		t.Errorf("customer id %q", ev.CustomerID)
	}
	if ev.Source != bus.SourceCustomer || ev.Kind != bus.KindText {
		t.Errorf("classification: %+v", ev)
	}
	if ev.Timestamp.Unix() != 1766000000 {
		t.Errorf("timestamp %v", ev.Timestamp)
	}
}

func TestNormalizeAudioMessage(t *testing.T) {
	ev, err := Normalize("5511999999999", "", "audio", "https://cdn.example/voice.ogg", 0)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Kind != bus.KindAudio {
		t.Errorf("kind %q", ev.Kind)
	}
	if ev.Content != "https://cdn.example/voice.ogg" {
		t.Errorf("audio reference lost: %q", ev.Content)
	}
	if ev.Timestamp.IsZero() {
		t.Error("missing timestamp not defaulted")
	}
}

func TestNormalizeRejectsBadSender(t *testing.T) {
	if _, err := Normalize("status@broadcast", "oi", "", "", 0); err == nil {
		t.Error("non-phone sender accepted")
	}
	if _, err := Normalize("5511999999999", "   ", "", "", 0); err == nil {
		t.Error("blank content accepted")
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Error("empty bridge url accepted")
	}
}
