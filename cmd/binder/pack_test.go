package main

import (
	"strings"
	"testing"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/pinex"
	"github.com/creachadair/binder/smpp"
	"github.com/google/go-cmp/cmp"
)

func TestFormatData(t *testing.T) {
	tests := []struct {
		pat  string
		args []string
		want string
	}{
		{"", nil, ""},
		{"1 2 4", []string{"1", "0x203", "67438087"}, "\x01\x02\x03\x04\x05\x06\x07"},
		{"c c", []string{"esme", ""}, "esme\x00\x00"},
		{"r q", []string{`a\n`, `a\n`}, "a\\na\n"},
		{"x %%", []string{"cafe", "true", "false"}, "\xca\xfe\x01\x00"},
		{"2 (2)", []string{"516", "1"}, "\x02\x04\x00\x02\x00\x01"},
		{"!(r) $(r)", []string{"ab", "c"}, "\x02ab\x00\x00\x00\x01c"},
		{"(1 (r))", []string{"9", "xyz"}, "\x00\x06\x09\x00\x03xyz"},
	}
	for _, tc := range tests {
		got, rest, err := formatData(tc.pat, tc.args)
		if err != nil {
			t.Errorf("formatData(%q, %q): unexpected error: %v", tc.pat, tc.args, err)
			continue
		}
		if len(rest) != 0 {
			t.Errorf("formatData(%q, %q): extra arguments %q", tc.pat, tc.args, rest)
		}
		if string(got) != tc.want {
			t.Errorf("formatData(%q, %q): got %q, want %q", tc.pat, tc.args, got, tc.want)
		}
	}
}

func TestFormatDataErrors(t *testing.T) {
	long := strings.Repeat("a", 300)
	tests := []struct {
		pat  string
		args []string
	}{
		{"z", []string{"1"}},      // unknown word
		{"1", nil},                // missing argument
		{"1", []string{"256"}},    // out of range
		{"2", []string{"x"}},      // not a number
		{"%", []string{"maybe"}},  // not a Boolean
		{"x", []string{"abc"}},    // odd-length hex
		{"q", []string{`\z`}},     // bad escape
		{"c", []string{"a\x00b"}}, // embedded NUL
		{"(1", []string{"1"}},     // unbalanced
		{"(z)", []string{"1"}},    // bad subpattern
		{"!(r)", []string{long}},  // too long for the prefix
	}
	for _, tc := range tests {
		if got, _, err := formatData(tc.pat, tc.args); err == nil {
			t.Errorf("formatData(%q, %q): got %q, want error", tc.pat, tc.args, got)
		} else {
			t.Logf("formatData(%q): %v", tc.pat, err)
		}
	}
}

func TestPackFrame(t *testing.T) {
	tests := []struct {
		proto *binder.Protocol
		cmd   string
		seq   uint32
		body  string
		want  string
	}{
		{smpp.Protocol, "enquire_link", 1, "",
			"\x00\x00\x00\x10\x00\x00\x00\x15\x00\x00\x00\x00\x00\x00\x00\x01"},
		{smpp.Protocol, "0x80000015", 7, "",
			"\x00\x00\x00\x10\x80\x00\x00\x15\x00\x00\x00\x00\x00\x00\x00\x07"},
		{pinex.Protocol, "stream", 2, "hi",
			"\x00\x00\x00\x0c\x02\x00\x00\x00\x00\x02hi"},
	}
	for _, tc := range tests {
		id, err := commandID(tc.proto, tc.cmd)
		if err != nil {
			t.Errorf("commandID(%q): unexpected error: %v", tc.cmd, err)
			continue
		}
		got := packFrame(tc.proto, binder.Header{CommandID: id, Sequence: tc.seq}, []byte(tc.body))
		if diff := cmp.Diff(string(got), tc.want); diff != "" {
			t.Errorf("packFrame %s %q (-got, +want):\n%s", tc.proto.Name, tc.cmd, diff)
		}
	}

	if id, err := commandID(pinex.Protocol, "submit_sm"); err == nil {
		t.Errorf("commandID(submit_sm) for pinex: got %#x, want error", id)
	}
}
