package router

import (
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/abjtutorial/tutorbot/core/telegram"
	"github.com/abjtutorial/tutorbot/core/telegram/middleware"
)

// Conversation is the minimal view of the conversation manager the routes need.
type Conversation interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// MessageOptions controls fallback behaviour for text and media updates.
type MessageOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// MessageRoutes builds handlers for text, photo and document messages.
// Messages of a user with a conversation in progress go to the conversation;
// text outside of one is matched against command aliases first.
func MessageRoutes(conv Conversation, reg *tg.Registry, opts MessageOptions) []tg.Route {
	inProgress := func(c tele.Context) bool {
		return conv != nil && c.Sender() != nil && conv.InProgress(c.Sender().ID)
	}

	textHandler := func(c tele.Context) error {
		start := time.Now()

		if inProgress(c) {
			return handleWithSummary(c, "conversation", start, func() error {
				return conv.ManagerHandler(c)
			})
		}

		if reg != nil {
			// Admin-only commands are reachable by their slash form only.
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, func() error {
					return cmd.Handler(c)
				})
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", nil)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := time.Now()
		if inProgress(c) {
			return handleWithSummary(c, "conversation_media", start, func() error {
				return conv.ManagerHandler(c)
			})
		}
		if opts.UnknownMedia != nil {
			return handleWithSummary(c, "unexpected_media", start, func() error {
				return opts.UnknownMedia(c)
			})
		}
		logHandlerSummary(c, "unexpected_media", start, "skip", nil)
		return nil
	}

	wrap := middleware.LoggerMiddleware
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(textHandler)},
		{Endpoint: tele.OnPhoto, Handler: wrap(mediaHandler)},
		{Endpoint: tele.OnDocument, Handler: wrap(mediaHandler)},
	}
}
