package router

import (
	"time"

	tg "github.com/m3rciful/pizzabot/core/telegram"
	"github.com/m3rciful/pizzabot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Endpoint pairs a telebot endpoint with the handler name used in summaries.
type Endpoint struct {
	Endpoint any
	Name     string
}

// ConversationEndpoints lists the updates a conversation bot reacts to.
var ConversationEndpoints = []Endpoint{
	{Endpoint: "/start", Name: "start"},
	{Endpoint: tele.OnText, Name: "text"},
	{Endpoint: tele.OnCallback, Name: "callback"},
	{Endpoint: tele.OnLocation, Name: "location"},
}

// ConversationRoutes binds h to every endpoint with recover, receipt logging
// and a handler summary line. Callbacks are acknowledged after h runs so h
// may answer them with an alert first; a second answer is ignored.
func ConversationRoutes(h tele.HandlerFunc, endpoints ...Endpoint) []tg.Route {
	if h == nil {
		return nil
	}
	if len(endpoints) == 0 {
		endpoints = ConversationEndpoints
	}
	routes := make([]tg.Route, 0, len(endpoints))
	for _, ep := range endpoints {
		name := "fsm." + normalizeHandlerName(ep.Name)
		handler := func(c tele.Context) error {
			start := time.Now()
			err := handleWithSummary(c, name, start, "", "", func() error {
				return h(c)
			})
			if c.Callback() != nil {
				_ = c.Respond()
			}
			return err
		}
		routes = append(routes, tg.Route{
			Endpoint: ep.Endpoint,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		})
	}
	return routes
}

// Route wraps a single non-conversation handler, such as payment updates.
func Route(endpoint any, name string, h tele.HandlerFunc) tg.Route {
	name = normalizeHandlerName(name)
	return tg.Route{
		Endpoint: endpoint,
		Handler: middleware.RecoverMiddleware(middleware.LoggerMiddleware(func(c tele.Context) error {
			start := time.Now()
			return handleWithSummary(c, name, start, "", "", func() error { return h(c) })
		})),
	}
}
