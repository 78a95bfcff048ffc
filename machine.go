// Package telnetio implements the telnet protocol (RFC 854) and its option
// negotiation (RFC 855, RFC 1143) as a sans-I/O state machine. A Machine
// never touches a socket: it turns inbound bytes into events plus any
// negotiation replies, and caller intents into the exact bytes to transmit.
// Wiring it to a transport lives in the telnet subpackage.
package telnetio

// DefaultMaxSubnegotiation is the subnegotiation payload cap applied unless
// WithMaxSubnegotiation overrides it.
const DefaultMaxSubnegotiation = 8192

type decodeState int

const (
	decodeByte decodeState = 0 + iota
	decodeIAC
	decodeNegotiation
	decodeSB
	decodeSBIAC
)

// Machine is one telnet session's protocol state: the decoder, the
// subnegotiation buffer, and the per-option negotiation table. It is not
// safe for concurrent use; callers must serialize access, one Machine per
// session.
type Machine struct {
	ds     decodeState
	cmd    byte
	sbdata []byte
	sbmax  int

	opts *optionMap
}

type MachineOption func(*Machine)

// WithPolicy sets the predicate consulted when the peer asks to enable an
// option. Without one, every peer-initiated request is refused until the
// caller calls Allow on the option.
func WithPolicy(p Policy) MachineOption {
	return func(m *Machine) { m.opts.policy = p }
}

// WithMaxSubnegotiation bounds the subnegotiation payload size.
func WithMaxSubnegotiation(n int) MachineOption {
	return func(m *Machine) { m.sbmax = n }
}

func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		sbmax: DefaultMaxSubnegotiation,
		opts:  newOptionMap(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOption returns the negotiation state for opt, creating it if this is
// the first time the option has been touched.
func (m *Machine) GetOption(opt byte) OptionState {
	return m.opts.get(opt)
}

// Feed consumes inbound bytes and returns the events they imply, in order,
// along with any negotiation replies to transmit. A feed boundary may fall
// anywhere, including mid-command or mid-subnegotiation; the machine
// resumes on the next call. Feed never blocks and never fails: malformed
// input becomes a ProtocolError event and the decoder resynchronizes.
func (m *Machine) Feed(p []byte) (events []Event, out []byte) {
	var data []byte
	flush := func() {
		if len(data) > 0 {
			events = append(events, Data(data))
			data = nil
		}
	}

	for _, b := range p {
		switch m.ds {
		case decodeByte:
			switch b {
			case IAC:
				m.ds = decodeIAC
			default:
				data = append(data, b)
			}

		case decodeIAC:
			m.cmd = b
			switch {
			case b == DO || b == DONT || b == WILL || b == WONT:
				m.ds = decodeNegotiation
			case b == SB:
				m.sbdata = nil
				m.ds = decodeSB
			case b == IAC:
				// escaped IAC
				data = append(data, IAC)
				m.ds = decodeByte
			case b >= EOR && b < SB:
				flush()
				events = append(events, Command{Cmd: b})
				m.ds = decodeByte
			default:
				flush()
				events = append(events, ProtocolError{Kind: KindCommandInvalid, Data: []byte{b}})
				m.ds = decodeByte
			}

		case decodeNegotiation:
			flush()
			events = append(events, Negotiation{Cmd: m.cmd, Opt: b})
			o := m.opts.get(b)
			reply, changedThem, changedUs := o.receive(m.cmd)
			out = append(out, reply...)
			if changedThem || changedUs {
				events = append(events, OptionChanged{
					OptionState: o,
					ChangedThem: changedThem,
					ChangedUs:   changedUs,
				})
			}
			m.ds = decodeByte

		case decodeSB:
			switch b {
			case IAC:
				m.ds = decodeSBIAC
			default:
				if ev := m.sbAppend(b); ev != nil {
					flush()
					events = append(events, ev)
				}
			}

		case decodeSBIAC:
			switch b {
			case IAC:
				// escaped IAC inside the payload
				m.ds = decodeSB
				if ev := m.sbAppend(IAC); ev != nil {
					flush()
					events = append(events, ev)
				}
			case SE:
				flush()
				events = append(events, m.sbFinish())
				m.ds = decodeByte
			default:
				flush()
				events = append(events, ProtocolError{Kind: KindSubnegInvalid, Data: []byte{b}})
				m.sbdata = nil
				m.ds = decodeByte
			}
		}
	}
	flush()
	return events, out
}

// sbAppend buffers one subnegotiation byte. The buffer holds the option
// byte followed by the payload; when the payload would exceed the cap the
// buffer is discarded, the decoder returns to data, and the overflow is
// reported so a peer that never terminates cannot hold the buffer hostage.
func (m *Machine) sbAppend(b byte) Event {
	if len(m.sbdata) > m.sbmax {
		m.sbdata = nil
		m.ds = decodeByte
		return ProtocolError{Kind: KindSubnegOverflow}
	}
	m.sbdata = append(m.sbdata, b)
	return nil
}

func (m *Machine) sbFinish() Event {
	buf := m.sbdata
	m.sbdata = nil
	switch {
	case len(buf) == 0:
		return ProtocolError{Kind: KindSubnegEmpty}
	case buf[0] == 0:
		return ProtocolError{Kind: KindSubnegNul}
	case len(buf) == 1:
		return ProtocolError{Kind: KindSubnegTooShort, Data: buf}
	}
	return Subnegotiation{Opt: buf[0], Data: buf[1:]}
}

// SendData escapes p for transmission as literal data, doubling every IAC.
func (m *Machine) SendData(p []byte) []byte {
	buf := make([]byte, 0, len(p))
	for _, b := range p {
		if b == IAC {
			buf = append(buf, IAC, IAC)
		} else {
			buf = append(buf, b)
		}
	}
	return buf
}

// SendCommand encodes a single-byte command.
func (m *Machine) SendCommand(cmd byte) []byte {
	return []byte{IAC, cmd}
}

// SendSubnegotiation frames a payload for opt between IAC SB and IAC SE,
// doubling any IACs inside it.
func (m *Machine) SendSubnegotiation(opt byte, p []byte) []byte {
	buf := make([]byte, 0, len(p)+5)
	buf = append(buf, IAC, SB, opt)
	for _, b := range p {
		if b == IAC {
			buf = append(buf, IAC, IAC)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, IAC, SE)
}

// EnableForThem asks the peer to enable opt, returning the bytes to
// transmit, or nil when negotiation state makes the request a no-op.
func (m *Machine) EnableForThem(opt byte) []byte {
	o := m.opts.get(opt)
	return o.enable(&o.them, DO)
}

// EnableForUs offers to enable opt on our side.
func (m *Machine) EnableForUs(opt byte) []byte {
	o := m.opts.get(opt)
	return o.enable(&o.us, WILL)
}

// DisableForThem asks the peer to disable opt.
func (m *Machine) DisableForThem(opt byte) []byte {
	o := m.opts.get(opt)
	return o.disable(&o.them, DONT)
}

// DisableForUs withdraws opt on our side.
func (m *Machine) DisableForUs(opt byte) []byte {
	o := m.opts.get(opt)
	return o.disable(&o.us, WONT)
}
