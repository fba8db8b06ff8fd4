package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"work123", false},
		{"my-session", false},
		{"my_session", false},
		{"7", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"-main", true},
		{"_main", true},
		{"Main", true},
		{"my session", true},
		{"my.session", true},
		{"../main", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
