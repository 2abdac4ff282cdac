package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	raw := RawEntry{Body: []byte(record(17))}

	ev, err := Normalize(raw, now)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if ev.ID != "17" || ev.Type != "payment" || ev.Sequence != 17 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Source != SourceHorizon || !ev.ObservedAt.Equal(now) {
		t.Errorf("unexpected metadata: %+v", ev)
	}
	if ev.Payload["amount"] != "170.0000000" {
		t.Errorf("payload amount = %v", ev.Payload["amount"])
	}
	if _, ok := ev.Payload["_links"]; ok {
		t.Error("_links should be stripped")
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"id":`},
		{"missing id", `{"type":"payment","paging_token":"1"}`},
		{"missing type", `{"id":"1","paging_token":"1"}`},
		{"bad paging token", `{"id":"1","type":"payment","paging_token":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(RawEntry{Body: []byte(tt.body)}, time.Now())
			if !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}
