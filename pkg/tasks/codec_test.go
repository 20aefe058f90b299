package tasks

import (
	"testing"
	"time"

	"github.com/asynxgo/asynx/pkg/schedule"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	eta := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	iv, err := schedule.Parse("every 30 seconds", nil)
	if err != nil {
		t.Fatalf("schedule.Parse: %v", err)
	}

	original := &Task{
		App:     "test",
		Queue:   "default",
		ID:      7,
		UUID:    "job-uuid",
		CName:   "my-cname",
		Request: Request{Method: "POST", URL: "http://example.com", Payload: "hi"},
		ETA:     &eta,
		Schedule: iv,
		Status:   StatusDelayed,
		OnSuccess:  URLCallback("http://callback.example.com"),
		OnFailure:  ReportCallback,
		OnComplete: NoCallback,
	}

	fields, err := EncodeFields(original)
	if err != nil {
		t.Fatalf("EncodeFields: %v", err)
	}

	decoded, err := DecodeFields("test", "default", 7, fields, time.UTC)
	if err != nil {
		t.Fatalf("DecodeFields: %v", err)
	}

	if decoded.UUID != original.UUID || decoded.CName != original.CName {
		t.Errorf("identity mismatch: %+v", decoded)
	}
	if decoded.Request.Method != original.Request.Method ||
		decoded.Request.URL != original.Request.URL ||
		decoded.Request.Payload != original.Request.Payload {
		t.Errorf("request mismatch: got %+v want %+v", decoded.Request, original.Request)
	}
	if decoded.ETA == nil || !decoded.ETA.Equal(*original.ETA) {
		t.Errorf("eta mismatch: got %v want %v", decoded.ETA, original.ETA)
	}
	if decoded.Status != original.Status {
		t.Errorf("status mismatch: got %v want %v", decoded.Status, original.Status)
	}
	if decoded.Schedule == nil || decoded.Schedule.String() != original.Schedule.String() {
		t.Errorf("schedule mismatch: got %v want %v", decoded.Schedule, original.Schedule)
	}
	if decoded.OnSuccess != original.OnSuccess {
		t.Errorf("on_success mismatch: got %+v want %+v", decoded.OnSuccess, original.OnSuccess)
	}
}

func TestEncodeDecodeNilFields(t *testing.T) {
	original := &Task{
		App:        "test",
		Queue:      "default",
		ID:         1,
		Request:    Request{Method: "GET", URL: "http://example.com"},
		Status:     StatusEnqueued,
		OnSuccess:  DeleteCallback,
		OnFailure:  ReportCallback,
		OnComplete: NoCallback,
	}

	fields, err := EncodeFields(original)
	if err != nil {
		t.Fatalf("EncodeFields: %v", err)
	}
	decoded, err := DecodeFields("test", "default", 1, fields, time.UTC)
	if err != nil {
		t.Fatalf("DecodeFields: %v", err)
	}
	if decoded.CName != "" || decoded.UUID != "" {
		t.Errorf("expected empty cname/uuid, got %+v", decoded)
	}
	if decoded.ETA != nil {
		t.Errorf("expected nil eta, got %v", decoded.ETA)
	}
	if decoded.Schedule != nil {
		t.Errorf("expected nil schedule, got %v", decoded.Schedule)
	}
}

func TestCountdownDerivedNotPersisted(t *testing.T) {
	eta := time.Now().Add(200 * time.Second)
	task := &Task{ETA: &eta}
	now := time.Now()
	cd := task.Countdown(now)
	if cd == nil {
		t.Fatal("expected non-nil countdown")
	}
	if *cd <= 195 || *cd > 200 {
		t.Errorf("expected countdown in (195,200], got %v", *cd)
	}

	fields, err := EncodeFields(task)
	if err != nil {
		t.Fatalf("EncodeFields: %v", err)
	}
	if _, ok := fields["countdown"]; ok {
		t.Error("countdown must never be persisted")
	}
}
