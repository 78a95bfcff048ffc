package telnet

import (
	"github.com/uSpike/telnetio"
	"github.com/uSpike/telnetio/event"
	"golang.org/x/text/encoding"
)

const EventNegotiation event.Name = "telnet.negotiation"

type Negotiation struct {
	Cmd byte
	Opt byte
}

const EventOption event.Name = "telnet.option"

type OptionData struct {
	telnetio.OptionState
	ChangedThem bool
	ChangedUs   bool
}

const EventSubnegotiation event.Name = "telnet.subnegotiation"

type Subnegotiation struct {
	Opt  byte
	Data []byte
}

const EventError event.Name = "telnet.protocol-error"

const EventSend event.Name = "telnet.send-data"

const EventGoAhead event.Name = "telnet.go-ahead"

const EventEndOfRecord event.Name = "telnet.end-of-record"

const EventCharsetAccepted event.Name = "telnet.charset-accepted"
const EventCharsetRejected event.Name = "telnet.charset-rejected"

type CharsetData struct {
	Encoding encoding.Encoding
}
