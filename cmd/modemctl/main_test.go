package main

import (
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    request
		wantErr bool
	}{
		{line: "AT+GMR", want: request{kind: "execute", command: "AT+GMR"}},
		{line: " ?AT+CWMODE ", want: request{kind: "query", command: "AT+CWMODE"}},
		{line: "=AT+CWMODE 1", want: request{kind: "set", command: "AT+CWMODE", params: []any{1}}},
		{line: "=AT+CWJAP lab secret", want: request{kind: "set", command: "AT+CWJAP", params: []any{"lab", "secret"}}},
		{line: "=", wantErr: true},
		{line: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}
