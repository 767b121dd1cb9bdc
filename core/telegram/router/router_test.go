package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/abjtutorial/tutorbot/core/telegram"
)

type fakeConversation struct {
	active  map[int64]bool
	handled int
}

func (f *fakeConversation) InProgress(userID int64) bool { return f.active[userID] }

func (f *fakeConversation) ManagerHandler(tele.Context) error {
	f.handled++
	return nil
}

func message(userID int64, text string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID: int(userID),
		Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Text:   text,
		},
	})
}

func routeFor(t *testing.T, routes []tg.Route, endpoint string) tele.HandlerFunc {
	t.Helper()
	for _, r := range routes {
		if r.Endpoint == endpoint {
			return r.Handler
		}
	}
	t.Fatalf("no route for %q", endpoint)
	return nil
}

func TestMessageRoutesPreferConversation(t *testing.T) {
	conv := &fakeConversation{active: map[int64]bool{1: true}}
	var aliased, fallback int
	reg := tg.NewRegistry()
	reg.RegisterCommand("/help", tg.Command{
		Handler:     func(tele.Context) error { aliased++; return nil },
		Description: "Help",
		Aliases:     []string{"Help & Support"},
	})
	reg.SetTextFallback(func(tele.Context) error { fallback++; return nil })

	routes := MessageRoutes(conv, reg, MessageOptions{})
	require.Len(t, routes, 3)
	text := routeFor(t, routes, tele.OnText)

	require.NoError(t, text(message(1, "Help & Support")))
	require.NoError(t, text(message(2, "Help & Support")))
	require.NoError(t, text(message(2, "anything")))

	assert.Equal(t, 1, conv.handled)
	assert.Equal(t, 1, aliased)
	assert.Equal(t, 1, fallback)
}

func TestMessageRoutesMediaOutsideConversation(t *testing.T) {
	conv := &fakeConversation{active: map[int64]bool{1: true}}
	var unknown int
	routes := MessageRoutes(conv, nil, MessageOptions{
		UnknownMedia: func(tele.Context) error { unknown++; return nil },
	})
	photo := routeFor(t, routes, tele.OnPhoto)

	require.NoError(t, photo(message(1, "")))
	require.NoError(t, photo(message(3, "")))
	assert.Equal(t, 1, conv.handled)
	assert.Equal(t, 1, unknown)
}

func TestCallbackRouteDispatchesByKey(t *testing.T) {
	reg := tg.NewRegistry()
	var got string
	require.NoError(t, reg.RegisterCallback("approve", func(c tele.Context) error {
		got = c.Callback().Data
		return nil
	}))
	var missing int
	reg.SetCallbackNotFound(func(tele.Context) error { missing++; return nil })

	route := CallbackRoute(reg)
	assert.Equal(t, tele.OnCallback, route.Endpoint)

	press := func(data string) tele.Context {
		return tele.NewContext(nil, tele.Update{ID: 5, Callback: &tele.Callback{
			Sender: &tele.User{ID: 9},
			Data:   data,
		}})
	}
	require.NoError(t, route.Handler(press("\fapprove|42")))
	require.NoError(t, route.Handler(press("\funknown|1")))

	assert.Equal(t, "\fapprove|42", got)
	assert.Equal(t, 1, missing)
}

func TestCommandRoutesGuardAdminCommands(t *testing.T) {
	reg := tg.NewRegistry()
	var served, rejected int
	reg.RegisterCommand("/stats", tg.Command{
		Handler:     func(tele.Context) error { served++; return nil },
		Description: "Statistics",
		AdminOnly:   true,
	})
	routes := CommandRoutes(reg, CommandRouteOptions{
		IsAdmin:       func(id int64) bool { return id == 1 },
		OnAdminReject: func(tele.Context) error { rejected++; return nil },
	})
	h := routeFor(t, routes, "/stats")

	require.NoError(t, h(message(1, "/stats")))
	require.NoError(t, h(message(2, "/stats")))
	assert.Equal(t, 1, served)
	assert.Equal(t, 1, rejected)
}

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "view_statistics", normalizeHandlerName("/View Statistics"))
	assert.Equal(t, "unknown", normalizeHandlerName(" "))
}
