package ui

import (
	"testing"
)

func TestParseQuickAdd(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantLocal  string
		wantRemote string
		wantErr    bool
	}{
		{
			name:       "space separated",
			input:      "127.0.0.1:9000 10.0.0.5:80",
			wantLocal:  "127.0.0.1:9000",
			wantRemote: "10.0.0.5:80",
		},
		{
			name:       "arrow separated",
			input:      "127.0.0.1:9000 -> 10.0.0.5:80",
			wantLocal:  "127.0.0.1:9000",
			wantRemote: "10.0.0.5:80",
		},
		{
			name:       "arrow without spaces",
			input:      "127.0.0.1:9000->db.internal:5432",
			wantLocal:  "127.0.0.1:9000",
			wantRemote: "db.internal:5432",
		},
		{
			name:       "leading and trailing spaces",
			input:      "  127.0.0.1:9000 10.0.0.5:80  ",
			wantLocal:  "127.0.0.1:9000",
			wantRemote: "10.0.0.5:80",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "missing remote",
			input:   "127.0.0.1:9000",
			wantErr: true,
		},
		{
			name:    "too many tokens",
			input:   "a:1 b:2 c:3",
			wantErr: true,
		},
		{
			name:    "local without port",
			input:   "127.0.0.1 10.0.0.5:80",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote, err := parseQuickAdd(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if local != tt.wantLocal {
				t.Errorf("local: want %q, got %q", tt.wantLocal, local)
			}
			if remote != tt.wantRemote {
				t.Errorf("remote: want %q, got %q", tt.wantRemote, remote)
			}
		})
	}
}

func TestBuildPairRequiresBothFields(t *testing.T) {
	f := newForm()
	f.fields[fieldLocal].SetValue("127.0.0.1:9000")
	if _, _, err := f.buildPair(); err == nil {
		t.Fatal("expected error for missing remote")
	}
	f.fields[fieldRemote].SetValue("10.0.0.5:80")
	local, remote, err := f.buildPair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local != "127.0.0.1:9000" || remote != "10.0.0.5:80" {
		t.Fatalf("unexpected pair %q -> %q", local, remote)
	}
}
