package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/uSpike/telnetio"
	"github.com/uSpike/telnetio/event"
	"github.com/uSpike/telnetio/telnet"
)

// LogHandler traces every protocol event on a connection.
type LogHandler struct {
	ctx context.Context
	zerolog.Logger
}

var logEvents = []event.Name{
	telnet.EventNegotiation,
	telnet.EventOption,
	telnet.EventSubnegotiation,
	telnet.EventSend,
	telnet.EventError,
	telnet.EventGoAhead,
	telnet.EventEndOfRecord,
	telnet.EventCharsetAccepted,
	telnet.EventCharsetRejected,
}

func (h *LogHandler) Register(ctx context.Context) {
	h.ctx = ctx
	dispatcher := ctx.Value(telnet.KeyDispatcher).(event.Dispatcher)
	for _, name := range logEvents {
		dispatcher.Listen(name, h)
	}
}

func (h *LogHandler) Unregister() {
	dispatcher := h.ctx.Value(telnet.KeyDispatcher).(event.Dispatcher)
	for _, name := range logEvents {
		dispatcher.RemoveListener(name, h)
	}
}

func (h *LogHandler) Listen(_ context.Context, ev event.Event) error {
	log := h.Trace().Str("event", string(ev.Name))
	switch t := ev.Data.(type) {
	case []byte:
		log.Bytes("data", t)
	case telnet.Negotiation:
		log.Uint8("cmd", t.Cmd).Uint8("option", t.Opt)
	case telnet.OptionData:
		log.Uint8("option", t.Option()).
			Bool("changedThem", t.ChangedThem).
			Bool("changedUs", t.ChangedUs).
			Bool("enabledThem", t.EnabledForThem()).
			Bool("enabledUs", t.EnabledForUs())
	case telnet.Subnegotiation:
		log.Uint8("option", t.Opt).Bytes("data", t.Data)
	case telnetio.ProtocolError:
		log.Str("kind", t.Kind.String()).Bytes("data", t.Data)
	default:
		log.Any("data", t)
	}
	log.Send()
	return nil
}
