package keymap

import "testing"

func TestKeyShapes(t *testing.T) {
	k := New("test", "custom")

	if key, field := k.Counter(); key != "AX:INC" || field != "test:custom" {
		t.Errorf("Counter() = (%q, %q)", key, field)
	}
	if got, want := k.Meta(12345), "AX:META:test:custom:12345"; got != want {
		t.Errorf("Meta() = %q, want %q", got, want)
	}
	if got, want := k.CName("task001"), "AX:CNAME:test:custom:task001"; got != want {
		t.Errorf("CName() = %q, want %q", got, want)
	}
	if got, want := k.UUID(), "AX:UUID:test:custom"; got != want {
		t.Errorf("UUID() = %q, want %q", got, want)
	}
}
