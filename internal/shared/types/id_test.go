package types

import "testing"

func TestParseIDNormalises(t *testing.T) {
	id, err := ParseID("6BA7B810-9DAD-11D1-80B4-00C04FD430C8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("expected lower-case canonical form, got %s", id)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  ID
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"bytes", []byte("xyz"), "xyz"},
		{"uuid bytes", [16]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}, "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			if err := id.Scan(tt.value); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.want {
				t.Errorf("got %q, want %q", id, tt.want)
			}
		})
	}

	var id ID
	if err := id.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestValue(t *testing.T) {
	v, err := ID("").Value()
	if err != nil || v != nil {
		t.Errorf("expected nil value for zero ID, got %v, %v", v, err)
	}
	v, _ = ID("abc").Value()
	if v != "abc" {
		t.Errorf("expected abc, got %v", v)
	}
}
