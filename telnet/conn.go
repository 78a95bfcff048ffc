// Package telnet adapts the sans-I/O telnetio machine to a net.Conn. The
// Conn feeds inbound bytes through the machine, writes negotiation replies
// back to the socket, translates NVT line endings, applies the negotiated
// character encodings, and fans protocol events out on an event bus.
package telnet

import (
	"context"
	"io"
	"net"

	"github.com/uSpike/telnetio"
	"github.com/uSpike/telnetio/event"
	"golang.org/x/text/encoding"
)

type Conn interface {
	net.Conn
	event.Dispatcher

	Context() context.Context
	GetOption(opt byte) telnetio.OptionState
	EnableForThem(opt byte) error
	EnableForUs(opt byte) error
	DisableForThem(opt byte) error
	DisableForUs(opt byte) error
	RegisterHandler(h Handler) (unregister func())
	SendCommand(cmd byte) error
	SendSubnegotiation(opt byte, p []byte) error
	SetReadEncoding(encoding.Encoding)
	SetWriteEncoding(encoding.Encoding)
	WriteRaw(p []byte) (int, error)
}

// Handler is a protocol extension scoped to one Conn, for example charset
// or binary-mode support. Register receives the connection context, which
// carries KeyConn, KeyDispatcher, and KeyEncodable.
type Handler interface {
	Register(ctx context.Context)
	Unregister()
}

type Encodable interface {
	SetReadEncoding(encoding.Encoding)
	SetWriteEncoding(encoding.Encoding)
}

type ctxKey int

const (
	KeyConn ctxKey = 0 + iota
	KeyDispatcher
	KeyEncodable
)

func GetConn(ctx context.Context) Conn {
	return ctx.Value(KeyConn).(Conn)
}

func GetOption(ctx context.Context, opt byte) telnetio.OptionState {
	return GetConn(ctx).GetOption(opt)
}

func Dispatch(ctx context.Context, ev event.Event) error {
	return ctx.Value(KeyDispatcher).(event.Dispatcher).Dispatch(ctx, ev)
}

func SetEncoding(ctx context.Context, enc encoding.Encoding) {
	encodable := ctx.Value(KeyEncodable).(Encodable)
	encodable.SetReadEncoding(enc)
	encodable.SetWriteEncoding(enc)
}

type conn struct {
	net.Conn
	event.Dispatcher

	ctx     context.Context
	machine *telnetio.Machine

	cr      bool
	eof     bool
	pending []byte

	renc encoding.Encoding
	wenc encoding.Encoding
}

func Dial(address string) (Conn, error) {
	tcpconn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return Wrap(context.Background(), tcpconn), nil
}

func Wrap(ctx context.Context, c net.Conn) Conn {
	return wrap(ctx, c)
}

func wrap(ctx context.Context, c net.Conn) *conn {
	cc := &conn{
		Conn:       c,
		Dispatcher: event.NewDispatcher(),
		machine:    telnetio.NewMachine(),
		renc:       ASCII,
		wenc:       ASCII,
	}
	ctx = context.WithValue(ctx, KeyConn, Conn(cc))
	ctx = context.WithValue(ctx, KeyDispatcher, cc.Dispatcher)
	ctx = context.WithValue(ctx, KeyEncodable, Encodable(cc))
	cc.ctx = ctx
	cc.ListenFunc(EventSend, cc.handleSend)
	return cc
}

func (c *conn) Context() context.Context { return c.ctx }

func (c *conn) GetOption(opt byte) telnetio.OptionState {
	return c.machine.GetOption(opt)
}

func (c *conn) EnableForThem(opt byte) error {
	return c.send(c.machine.EnableForThem(opt))
}

func (c *conn) EnableForUs(opt byte) error {
	return c.send(c.machine.EnableForUs(opt))
}

func (c *conn) DisableForThem(opt byte) error {
	return c.send(c.machine.DisableForThem(opt))
}

func (c *conn) DisableForUs(opt byte) error {
	return c.send(c.machine.DisableForUs(opt))
}

func (c *conn) RegisterHandler(h Handler) (unregister func()) {
	h.Register(c.ctx)
	return h.Unregister
}

func (c *conn) SendCommand(cmd byte) error {
	return c.send(c.machine.SendCommand(cmd))
}

func (c *conn) SendSubnegotiation(opt byte, p []byte) error {
	return c.send(c.machine.SendSubnegotiation(opt, p))
}

func (c *conn) SetReadEncoding(enc encoding.Encoding)  { c.renc = enc }
func (c *conn) SetWriteEncoding(enc encoding.Encoding) { c.wenc = enc }

func (c *conn) handleSend(_ context.Context, ev event.Event) error {
	_, err := c.WriteRaw(ev.Data.([]byte))
	return err
}

func (c *conn) send(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := c.WriteRaw(p)
	return err
}

func (c *conn) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(c.pending) > 0 {
		n = copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	if c.eof {
		return 0, io.EOF
	}

	buf := make([]byte, len(p))
	nr, err := c.Conn.Read(buf)
	events, out := c.machine.Feed(buf[:nr])
	if len(out) > 0 {
		if _, werr := c.WriteRaw(out); werr != nil && err == nil {
			err = werr
		}
	}

	var data []byte
	for _, ev := range events {
		switch t := ev.(type) {
		case telnetio.Data:
			data = append(data, c.decodeCR(t)...)
			continue
		case telnetio.Command:
			switch t.Cmd {
			case telnetio.GA:
				c.Dispatch(c.ctx, event.Event{Name: EventGoAhead})
			case telnetio.EOR:
				c.Dispatch(c.ctx, event.Event{Name: EventEndOfRecord})
			}
		case telnetio.Negotiation:
			c.Dispatch(c.ctx, event.Event{Name: EventNegotiation, Data: Negotiation{Cmd: t.Cmd, Opt: t.Opt}})
		case telnetio.OptionChanged:
			c.Dispatch(c.ctx, event.Event{Name: EventOption, Data: OptionData{
				OptionState: t.OptionState,
				ChangedThem: t.ChangedThem,
				ChangedUs:   t.ChangedUs,
			}})
		case telnetio.Subnegotiation:
			c.Dispatch(c.ctx, event.Event{Name: EventSubnegotiation, Data: Subnegotiation{Opt: t.Opt, Data: t.Data}})
		case telnetio.ProtocolError:
			c.Dispatch(c.ctx, event.Event{Name: EventError, Data: t})
		}
		// a command interrupted any pending CR
		if c.cr {
			c.cr = false
			data = append(data, '\r')
		}
	}

	decoded, derr := c.renc.NewDecoder().Bytes(data)
	if derr != nil && err == nil {
		err = derr
	}
	n = copy(p, decoded)
	c.pending = decoded[n:]

	if err == io.EOF {
		c.eof = true
		err = nil
	}
	return n, err
}

// decodeCR applies the RFC 854 NVT line ending rules: CR LF becomes LF,
// CR NUL becomes a bare CR. The cr flag survives feed boundaries.
func (c *conn) decodeCR(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if c.cr {
			c.cr = false
			switch b {
			case '\n':
				out = append(out, '\n')
			case 0:
				out = append(out, '\r')
			default:
				out = append(out, '\r', b)
			}
		} else if b == '\r' {
			c.cr = true
		} else {
			out = append(out, b)
		}
	}
	return out
}

func (c *conn) Write(p []byte) (n int, err error) {
	encoded, err := encoding.ReplaceUnsupported(c.wenc.NewEncoder()).Bytes(p)
	if err != nil {
		return 0, err
	}
	escaped := c.machine.SendData(encoded)
	buf := make([]byte, 0, len(escaped)+2)
	for _, b := range escaped {
		switch b {
		case '\n':
			buf = append(buf, '\r', '\n')
		case '\r':
			buf = append(buf, '\r', 0)
		default:
			buf = append(buf, b)
		}
	}
	if !c.machine.GetOption(telnetio.SuppressGoAhead).EnabledForUs() {
		buf = append(buf, telnetio.IAC, telnetio.GA)
	}
	if _, err = c.WriteRaw(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *conn) WriteRaw(p []byte) (int, error) {
	return c.Conn.Write(p)
}
