package protocol

import (
	"errors"
	"strings"
	"testing"
	"testing/quick"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	f := func(s string) bool {
		got, err := Unescape(Escape(s))
		return err == nil && got == s
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestEscapedTextHasNoBareSeparators(t *testing.T) {
	f := func(s string) bool {
		esc := Escape(s)
		for i := 0; i < len(esc); i++ {
			switch esc[i] {
			case '\\':
				i++
			case '"', ',', '\r', '\n':
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{`a"b`, `a\"b`},
		{`a\b`, `a\\b`},
		{"a,b", `a\,b`},
		{"tab\there", `tab\x09here`},
		{"\x7f", `\x7F`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnescapeRejectsBrokenInput(t *testing.T) {
	for _, in := range []string{`abc\`, `\x4`, `\xZZ`} {
		if _, err := Unescape(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("Unescape(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestFormatParams(t *testing.T) {
	tests := []struct {
		name    string
		params  []any
		want    string
		wantErr bool
	}{
		{"credentials", []any{"my,net", `pa"ss`}, `"my\,net","pa\"ss"`, false},
		{"link open", []any{2, "TCP", "example.com", 80}, `2,"TCP","example.com",80`, false},
		{"flags", []any{true, false}, "1,0", false},
		{"raw", []any{Raw("1,2"), int64(-3), uint16(9)}, "1,2,-3,9", false},
		{"whole float", []any{2.0}, "2", false},
		{"fraction", []any{2.5}, "", true},
		{"unsupported", []any{[]byte("x")}, "", true},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatParams(tt.params...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FormatParams() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{`1`, []string{"1"}, false},
		{`"my\,net","aa:bb",6,-55`, []string{"my,net", "aa:bb", "6", "-55"}, false},
		{`STAIP,"192.168.1.20"`, []string{"STAIP", "192.168.1.20"}, false},
		{`"a\"b",`, []string{`a"b`, ""}, false},
		{`,,`, []string{"", "", ""}, false},
		{``, nil, false},
		{`"open`, nil, true},
		{`"x"y`, nil, true},
	}
	for _, tt := range tests {
		got, err := ParseParams(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseParams(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("ParseParams(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatThenParseKeepsStrings(t *testing.T) {
	f := func(a, b string) bool {
		line, err := FormatParams(a, b)
		if err != nil {
			return false
		}
		got, err := ParseParams(line)
		return err == nil && len(got) == 2 && got[0] == a && got[1] == b
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
