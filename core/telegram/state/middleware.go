package state

import tele "gopkg.in/telebot.v4"

const stateKey = "fsm_state"

// WithSession records the sender's state as it was when the update arrived,
// before any handler advanced it.
func WithSession(mgr *Manager) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if user := c.Sender(); user != nil && mgr != nil {
				c.Set(stateKey, mgr.GetState(user.ID))
			}
			return next(c)
		}
	}
}

// From returns the state recorded by WithSession.
func From(c tele.Context) State {
	st, _ := c.Get(stateKey).(State)
	return st
}
