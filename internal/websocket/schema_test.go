package websocket

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAction_MetricLabel(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ActionAnswer, "answer"},
		{ActionNavigate, "navigate"},
		{ActionSubmit, "submit"},
		{ActionPing, "ping"},
		{"", "unknown"},
		{"ANSWER", "unknown"},
		{"delete_everything", "unknown"},
		{Action(strings.Repeat("x", 4096)), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.action.MetricLabel())
		})
	}
}
