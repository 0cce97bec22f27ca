// notify/notify_test.go

package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/hearthd/certward/material"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"complete", Config{Host: "mail.example.com", From: "a@b.c", To: "d@e.f"}, true},
		{"missing host", Config{From: "a@b.c", To: "d@e.f"}, false},
		{"missing recipient", Config{Host: "mail.example.com", From: "a@b.c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, zap.NewNop())
			if (err == nil) != tt.ok {
				t.Errorf("New() err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestCycleFailedSendsSummary(t *testing.T) {
	m, err := New(Config{Host: "mail.example.com", From: "certward@example.com", To: "admin@example.com"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var sent *mail.Msg
	m.send = func(_ context.Context, msg *mail.Msg) error {
		sent = msg
		return nil
	}

	ds, err := material.NewDomainSet("home.example.com", "*.home.example.com")
	if err != nil {
		t.Fatalf("NewDomainSet: %v", err)
	}
	m.CycleFailed(context.Background(), ds, errors.New("rate limited by CA"))

	if sent == nil {
		t.Fatal("no message sent")
	}
	var buf strings.Builder
	if _, err := sent.WriteTo(&buf); err != nil {
		t.Fatalf("render message: %v", err)
	}
	rendered := buf.String()
	for _, want := range []string{"home.example.com", "rate limited by CA"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestCycleFailedSwallowsSendErrors(t *testing.T) {
	m, err := New(Config{Host: "mail.example.com", From: "a@b.c", To: "d@e.f"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.send = func(context.Context, *mail.Msg) error {
		return errors.New("smtp unreachable")
	}

	ds, _ := material.NewDomainSet("home.example.com")
	// Must not panic or propagate; the cycle result carries the real
	// failure already.
	m.CycleFailed(context.Background(), ds, errors.New("challenge failed"))
}
