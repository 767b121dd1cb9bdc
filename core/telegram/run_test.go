package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/abjtutorial/tutorbot/core/config"
)

func TestNewBotRequiresConfig(t *testing.T) {
	_, err := NewBot(BotOptions{})
	require.Error(t, err)
}

func TestNewBotOffline(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.RunMode = RunModeLongpoll

	var reported error
	bot, err := NewBot(BotOptions{
		Config:  cfg,
		Offline: true,
		OnError: func(err error, _ tele.Context) { reported = err },
	})
	require.NoError(t, err)

	lp, ok := bot.Poller.(*tele.LongPoller)
	require.True(t, ok)
	assert.Contains(t, lp.AllowedUpdates, "chat_member")

	bot.OnError(errors.New("boom"), nil)
	assert.EqualError(t, reported, "boom")
}

func TestRunTelegramRequiresConfig(t *testing.T) {
	require.Error(t, RunTelegram(context.Background(), RunOptions{}))
}
