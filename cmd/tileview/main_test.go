package main

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestParseBound(t *testing.T) {
	b, err := parseBound("2.29, 48.85,2.30,48.86")
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Bound{Min: orb.Point{2.29, 48.85}, Max: orb.Point{2.30, 48.86}}
	if b != want {
		t.Errorf("got %v, want %v", b, want)
	}

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "3,0,1,1"} {
		if _, err := parseBound(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestParseZooms(t *testing.T) {
	tests := []struct {
		in       string
		min, max uint32
		wantErr  bool
	}{
		{"0-10", 0, 10, false},
		{"7", 7, 7, false},
		{" 3 - 5 ", 3, 5, false},
		{"5-3", 0, 0, true},
		{"x-3", 0, 0, true},
		{"-3", 0, 0, true},
	}
	for _, tt := range tests {
		lo, hi, err := parseZooms(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if lo != tt.min || hi != tt.max {
			t.Errorf("%q: got %d-%d, want %d-%d", tt.in, lo, hi, tt.min, tt.max)
		}
	}
}
