package core

import "testing"

func TestParseWon(t *testing.T) {
	cases := []struct {
		in  string
		out Won
		ok  bool
	}{
		{"1", 1, true},
		{"4500", 4500, true},
		{"4,500", 4500, true},
		{"4,500원", 4500, true},
		{" 45000 ", 45000, true},
		{"-1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.5", 0, false},
		{"", 0, false},
		{"원", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseWon(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestWonString(t *testing.T) {
	cases := map[Won]string{
		0:       "0원",
		500:     "500원",
		4500:    "4,500원",
		45000:   "45,000원",
		100000:  "100,000원",
		1234567: "1,234,567원",
		-45000:  "-45,000원",
		-100000: "-100,000원",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("Won(%d).String() = %q, want %q", int64(in), got, want)
		}
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(45000, 100000).String(); got != "45" {
		t.Errorf("Progress(45000, 100000) = %s, want 45", got)
	}
	if got := Progress(1, 3).String(); got != "33.3" {
		t.Errorf("Progress(1, 3) = %s, want 33.3", got)
	}
	if !Progress(10, 0).IsZero() {
		t.Errorf("Progress with zero target should be zero")
	}
}

func TestExperience(t *testing.T) {
	cases := map[Won]int{0: 1, 999: 1, 1000: 1, 4500: 4, 50000: 50}
	for in, want := range cases {
		if got := Experience(in); got != want {
			t.Errorf("Experience(%d) = %d, want %d", int64(in), got, want)
		}
	}
}
