package tasks

import (
	"encoding/json"
	"testing"
)

func TestCallbackJSONVariants(t *testing.T) {
	cases := []struct {
		name string
		json string
		kind CallbackKind
	}{
		{"null", `null`, CallbackNone},
		{"report", `"__report__"`, CallbackReport},
		{"delete", `"__delete__"`, CallbackDelete},
		{"url", `"http://example.com/cb"`, CallbackURL},
		{"subtask", `{"request":{"method":"POST","url":"http://example.com"}}`, CallbackSubTask},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var cb Callback
			if err := json.Unmarshal([]byte(c.json), &cb); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if cb.Kind != c.kind {
				t.Errorf("expected kind %v, got %v", c.kind, cb.Kind)
			}
			out, err := json.Marshal(cb)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var roundTrip Callback
			if err := json.Unmarshal(out, &roundTrip); err != nil {
				t.Fatalf("re-unmarshal: %v", err)
			}
			if roundTrip.Kind != cb.Kind {
				t.Errorf("round-trip kind mismatch: %v != %v", roundTrip.Kind, cb.Kind)
			}
		})
	}
}

func TestCallbackRejectsNonHTTPString(t *testing.T) {
	var cb Callback
	if err := json.Unmarshal([]byte(`"not-a-url"`), &cb); err == nil {
		t.Error("expected error for unrecognized callback string")
	}
}

func TestDescriptorDistinguishesAbsentFromNull(t *testing.T) {
	var withNull Descriptor
	if err := json.Unmarshal([]byte(`{"request":{"method":"GET","url":"http://x"},"on_success":null}`), &withNull); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if withNull.OnSuccess == nil || withNull.OnSuccess.Kind != CallbackNone {
		t.Errorf("expected explicit NoCallback, got %+v", withNull.OnSuccess)
	}

	var absent Descriptor
	if err := json.Unmarshal([]byte(`{"request":{"method":"GET","url":"http://x"}}`), &absent); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if absent.OnSuccess != nil {
		t.Errorf("expected nil (unset) on_success, got %+v", absent.OnSuccess)
	}
}

func TestDescriptorNestedSubTask(t *testing.T) {
	raw := `{
		"request": {"method":"GET","url":"http://parent"},
		"on_complete": {
			"request": {"method":"POST","url":"http://child"}
		}
	}`
	var d Descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if d.OnComplete == nil || d.OnComplete.Kind != CallbackSubTask {
		t.Fatalf("expected sub-task callback, got %+v", d.OnComplete)
	}
	if d.OnComplete.SubTask.Request.URL != "http://child" {
		t.Errorf("expected nested request url, got %+v", d.OnComplete.SubTask)
	}
}
