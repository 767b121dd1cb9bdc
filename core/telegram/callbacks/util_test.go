package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		name         string
		cb           *tele.Callback
		unique, data string
	}{
		{"nil", nil, "", ""},
		{"generic handler", &tele.Callback{Data: "\fapprove|42"}, "approve", "42"},
		{"no payload", &tele.Callback{Data: "\fget_started"}, "get_started", ""},
		{"payload with separator", &tele.Callback{Data: "\fstream|a|b"}, "stream", "a|b"},
		{"already split", &tele.Callback{Unique: "reply", Data: "comment_1_2"}, "reply", "comment_1_2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, d := ParseCallbackData(tc.cb)
			assert.Equal(t, tc.unique, u)
			assert.Equal(t, tc.data, d)
		})
	}
}
