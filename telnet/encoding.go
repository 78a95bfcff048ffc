package telnet

import (
	"bytes"
	"context"
	"errors"

	"github.com/uSpike/telnetio"
	"github.com/uSpike/telnetio/event"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// TransmitBinaryHandler implements RFC 856. While binary mode is enabled in
// a direction, that direction's encoding is passed through untouched;
// otherwise it falls back to US-ASCII.
type TransmitBinaryHandler struct {
	ctx context.Context
}

func (h *TransmitBinaryHandler) Register(ctx context.Context) {
	h.ctx = ctx

	GetOption(ctx, telnetio.TransmitBinary).Allow(true, true)

	d := ctx.Value(KeyDispatcher).(event.Dispatcher)
	d.Listen(EventOption, h)
}

func (h *TransmitBinaryHandler) Unregister() {
	d := h.ctx.Value(KeyDispatcher).(event.Dispatcher)
	d.RemoveListener(EventOption, h)

	c := GetConn(h.ctx)
	c.GetOption(telnetio.TransmitBinary).Allow(false, false)
	c.DisableForThem(telnetio.TransmitBinary)
	c.DisableForUs(telnetio.TransmitBinary)

	SetEncoding(h.ctx, ASCII)
}

func (h *TransmitBinaryHandler) Listen(ctx context.Context, ev event.Event) error {
	switch opt := ev.Data.(type) {
	case OptionData:
		switch opt.Option() {
		case telnetio.TransmitBinary:
			encodable := ctx.Value(KeyEncodable).(Encodable)
			if opt.ChangedUs {
				if opt.EnabledForUs() {
					encodable.SetWriteEncoding(encoding.Nop)
				} else {
					encodable.SetWriteEncoding(ASCII)
				}
			}
			if opt.ChangedThem {
				if opt.EnabledForThem() {
					encodable.SetReadEncoding(encoding.Nop)
				} else {
					encodable.SetReadEncoding(ASCII)
				}
			}
		}
	}
	return nil
}

// CharsetHandler implements RFC 2066. It negotiates a character set with
// the peer and applies it once both directions are in binary mode. TTABLE
// is not supported and is always rejected.
type CharsetHandler struct {
	IsServer bool

	ctx                context.Context
	enc                encoding.Encoding
	requestedEncodings []encoding.Encoding
}

func (h *CharsetHandler) Register(ctx context.Context) {
	h.ctx = ctx

	GetOption(ctx, telnetio.Charset).Allow(true, true)

	d := ctx.Value(KeyDispatcher).(event.Dispatcher)
	d.Listen(EventOption, h)
	d.Listen(EventSubnegotiation, h)
	d.Listen(EventCharsetAccepted, h)
	d.Listen(EventCharsetRejected, h)
}

func (h *CharsetHandler) Unregister() {
	GetOption(h.ctx, telnetio.Charset).Allow(false, false)

	d := h.ctx.Value(KeyDispatcher).(event.Dispatcher)
	d.RemoveListener(EventCharsetRejected, h)
	d.RemoveListener(EventCharsetAccepted, h)
	d.RemoveListener(EventSubnegotiation, h)
	d.RemoveListener(EventOption, h)
}

// RequestEncoding offers the given encodings to the peer, most preferred
// first. The charset option must already be enabled for us.
func (h *CharsetHandler) RequestEncoding(encodings ...encoding.Encoding) error {
	if !GetOption(h.ctx, telnetio.Charset).EnabledForUs() {
		return errors.New("charset option not enabled")
	}
	output := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetRequest}
	for _, enc := range encodings {
		name, err := ianaindex.IANA.Name(enc)
		if err != nil {
			return err
		}
		output = append(output, ";"+name...)
	}
	output = append(output, telnetio.IAC, telnetio.SE)
	h.requestedEncodings = encodings
	return Dispatch(h.ctx, event.Event{Name: EventSend, Data: output})
}

func (h *CharsetHandler) Listen(ctx context.Context, ev event.Event) error {
	switch t := ev.Data.(type) {
	case CharsetData:
		h.enc = t.Encoding
		opt := GetOption(ctx, telnetio.TransmitBinary)
		if them, us := opt.Enabled(); them && us {
			SetEncoding(ctx, h.enc)
		}
	case OptionData:
		switch t.Option() {
		case telnetio.TransmitBinary:
			if h.enc == nil {
				return nil
			}
			if them, us := t.Enabled(); them && us {
				SetEncoding(ctx, h.enc)
			} else {
				SetEncoding(ctx, ASCII)
			}
		}
	case Subnegotiation:
		switch t.Opt {
		case telnetio.Charset:
			if GetOption(ctx, telnetio.Charset).EnabledForUs() {
				switch cmd, data := t.Data[0], t.Data[1:]; cmd {
				case telnetio.CharsetAccepted:
					h.requestedEncodings = nil
					enc := h.getEncoding(data)
					Dispatch(ctx, event.Event{Name: EventCharsetAccepted, Data: CharsetData{Encoding: enc}})
				case telnetio.CharsetRejected:
					h.requestedEncodings = nil
					Dispatch(ctx, event.Event{Name: EventCharsetRejected})
				case telnetio.CharsetRequest:
					return h.handleCharsetRequest(ctx, data)
				case telnetio.CharsetTTableIs:
					Dispatch(ctx, event.Event{Name: EventSend, Data: []byte{
						telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetTTableRejected, telnetio.IAC, telnetio.SE,
					}})
				}
			}
		}
	}
	return nil
}

func (h *CharsetHandler) handleCharsetRequest(ctx context.Context, data []byte) error {
	reject := func() error {
		return Dispatch(ctx, event.Event{Name: EventSend, Data: []byte{
			telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetRejected, telnetio.IAC, telnetio.SE,
		}})
	}

	var charset []byte
	var enc encoding.Encoding

	if len(h.requestedEncodings) > 0 {
		if h.IsServer {
			return reject()
		}
		h.requestedEncodings = nil
	}

	const ttable = "[TTABLE]"
	if len(data) > 10 && bytes.HasPrefix(data, []byte(ttable)) {
		// We don't support TTABLE, so we're just going to strip off the
		// version byte, but according to RFC 2066 it should basically always
		// be 0x01. If we ever add TTABLE support, we'll want to check the
		// version to see if it's a version we support.
		data = data[len(ttable)+1:]
	}

	if len(data) > 2 {
		charset, enc = h.selectEncoding(bytes.Split(data[1:], data[0:1]))
	}

	if enc == nil {
		return reject()
	}

	out := []byte{telnetio.IAC, telnetio.SB, telnetio.Charset, telnetio.CharsetAccepted}
	out = append(out, charset...)
	out = append(out, telnetio.IAC, telnetio.SE)
	Dispatch(ctx, event.Event{Name: EventSend, Data: out})
	Dispatch(ctx, event.Event{Name: EventCharsetAccepted, Data: CharsetData{Encoding: enc}})
	return nil
}

func (h *CharsetHandler) selectEncoding(names [][]byte) ([]byte, encoding.Encoding) {
	for _, name := range names {
		if enc := h.getEncoding(name); enc != nil {
			return name, enc
		}
	}
	return nil, nil
}

func (*CharsetHandler) getEncoding(name []byte) encoding.Encoding {
	switch s := string(name); s {
	case "US-ASCII":
		return ASCII
	default:
		enc, _ := ianaindex.IANA.Encoding(s)
		return enc
	}
}

var ASCII encoding.Encoding

func init() {
	ASCII, _ = ianaindex.IANA.Encoding("US-ASCII")
}
