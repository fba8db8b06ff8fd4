package main

import (
	"strings"
	"testing"

	"github.com/matheus3301/chatline/internal/store"
)

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  store.Message
		want []string
	}{
		{
			name: "delivered reply",
			msg:  store.Message{LocalID: 3, ServerID: 40, Author: "bob", Body: "hi", ReplyTo: 12, Status: store.Delivered},
			want: []string{"[3]", "bob: hi", "(reply to #12)", "#40"},
		},
		{
			name: "anonymous pending",
			msg:  store.Message{LocalID: 4, Body: "wait", Status: store.Pending},
			want: []string{"anonymous: wait", "[pending]"},
		},
		{
			name: "command",
			msg:  store.Message{LocalID: 5, Author: "me", Body: "/uptime", Output: "3 days\nok", IsCommand: true, Status: store.Delivered},
			want: []string{"me> /uptime", "    3 days", "    ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMessage(&tt.msg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatMessage() = %q, missing %q", got, w)
				}
			}
		})
	}
}
