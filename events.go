package telnetio

// Event is one result of feeding bytes into a Machine. Events come back in
// the order implied by the byte stream.
type Event interface {
	event()
}

// Data is a run of literal bytes, with any escaped IACs already collapsed.
type Data []byte

func (Data) event() {}

// Command is a single-byte telnet command (NOP, GA, AYT, and friends).
type Command struct {
	Cmd byte
}

func (Command) event() {}

// Negotiation is an inbound IAC WILL/WONT/DO/DONT.
type Negotiation struct {
	Cmd byte
	Opt byte
}

func (Negotiation) event() {}

// Subnegotiation is a completed IAC SB ... IAC SE block. Data carries the
// payload with escaped IACs collapsed; interpreting it is the caller's job.
type Subnegotiation struct {
	Opt  byte
	Data []byte
}

func (Subnegotiation) event() {}

// OptionChanged reports that negotiation settled or toggled the effective
// state of an option in at least one direction.
type OptionChanged struct {
	OptionState
	ChangedThem bool
	ChangedUs   bool
}

func (OptionChanged) event() {}

// ProtocolError reports malformed input. The machine has already discarded
// the offending bytes and resynchronized; nothing is fatal.
type ProtocolError struct {
	Kind ErrorKind
	Data []byte
}

func (ProtocolError) event() {}

type ErrorKind int

const (
	// IAC followed by a byte that is not a command
	KindCommandInvalid ErrorKind = 0 + iota
	// IAC SE with nothing buffered
	KindSubnegEmpty
	// subnegotiation for the NUL option
	KindSubnegNul
	// subnegotiation with an option byte but no payload
	KindSubnegTooShort
	// IAC inside a subnegotiation followed by neither IAC nor SE
	KindSubnegInvalid
	// subnegotiation payload exceeded the configured maximum
	KindSubnegOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case KindCommandInvalid:
		return "command-invalid"
	case KindSubnegEmpty:
		return "subnegotiation-empty"
	case KindSubnegNul:
		return "subnegotiation-nul"
	case KindSubnegTooShort:
		return "subnegotiation-too-short"
	case KindSubnegInvalid:
		return "subnegotiation-invalid"
	case KindSubnegOverflow:
		return "subnegotiation-overflow"
	default:
		return "unknown"
	}
}
