package statement

import (
	"errors"
	"testing"

	"fintrack/internal/core"
)

func TestDetect(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "rbc header", content: rbcSample, want: FormatRBCChecking},
		{name: "rbc header unquoted", content: "Account Type,Account Number,Transaction Date\n", want: FormatRBCChecking},
		{name: "cibc leading iso date", content: cibcSample, want: FormatCIBCCredit},
		{name: "unknown", content: "hello,world\n", wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Detect(tt.content)
			if tt.wantErr {
				if !errors.Is(err, core.ErrFormatUnsupported) {
					t.Fatalf("Detect error = %v, want ErrFormatUnsupported", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryGet(t *testing.T) {
	r := DefaultRegistry()

	if _, err := r.Get(FormatCIBCCredit); err != nil {
		t.Errorf("Get(%s) returned error: %v", FormatCIBCCredit, err)
	}
	if _, err := r.Get("CIBC_CREDIT"); err != nil {
		t.Errorf("Get should be case-insensitive, got error: %v", err)
	}
	if _, err := r.Get("mystery_bank"); !errors.Is(err, core.ErrFormatUnsupported) {
		t.Errorf("Get(unknown) error = %v, want ErrFormatUnsupported", err)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate format registration")
		}
	}()
	r := NewRegistry()
	r.Register(&CIBCCreditParser{})
	r.Register(&CIBCCreditParser{})
}
