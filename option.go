package telnetio

// OptionState tracks one option's negotiation state in both directions,
// using the Q method from RFC 1143. "Them" is the remote side's capability
// (DO/DONT), "us" is our own (WILL/WONT).
type OptionState interface {
	Allow(them, us bool) OptionState
	AllowThem(bool) OptionState
	AllowUs(bool) OptionState

	Enabled() (them, us bool)
	EnabledForThem() bool
	EnabledForUs() bool
	Option() byte
}

// Policy decides whether a peer-initiated request to enable an option is
// acceptable. It is consulted once per option, the first time the machine
// touches it.
type Policy func(opt byte) bool

type qState int

const (
	qNo qState = 0 + iota
	qYes
	qWantNoEmpty
	qWantNoOpposite
	qWantYesEmpty
	qWantYesOpposite
)

type optionState struct {
	opt       byte
	allowThem bool
	them      qState
	allowUs   bool
	us        qState
}

func (o *optionState) Allow(them, us bool) OptionState {
	o.AllowThem(them)
	o.AllowUs(us)
	return o
}

func (o *optionState) AllowThem(allow bool) OptionState {
	o.allowThem = allow
	return o
}

func (o *optionState) AllowUs(allow bool) OptionState {
	o.allowUs = allow
	return o
}

func (o *optionState) Enabled() (them, us bool) { return o.EnabledForThem(), o.EnabledForUs() }
func (o *optionState) EnabledForThem() bool     { return o.them == qYes }
func (o *optionState) EnabledForUs() bool       { return o.us == qYes }

func (o *optionState) Option() byte { return o.opt }

// enable requests that the option be switched on, returning the bytes to
// transmit, if any. A request already in flight is never repeated.
func (o *optionState) enable(state *qState, b byte) []byte {
	switch *state {
	case qNo:
		*state = qWantYesEmpty
		return o.sendCmd(b)
	case qYes:
		// ignore
	case qWantNoEmpty:
		*state = qWantNoOpposite
	case qWantNoOpposite:
		// ignore
	case qWantYesEmpty:
		// ignore
	case qWantYesOpposite:
		*state = qWantYesEmpty
	}
	return nil
}

func (o *optionState) disable(state *qState, b byte) []byte {
	switch *state {
	case qNo:
		// ignore
	case qYes:
		*state = qWantNoEmpty
		return o.sendCmd(b)
	case qWantNoEmpty:
		// ignore
	case qWantNoOpposite:
		*state = qWantNoEmpty
	case qWantYesEmpty:
		*state = qWantYesOpposite
	case qWantYesOpposite:
		// ignore
	}
	return nil
}

// receive applies an inbound negotiation verb, returning any reply bytes
// and whether the effective state changed in either direction. Replies are
// emitted only on transitions that change effective state, which is what
// keeps two compliant peers from looping.
func (o *optionState) receive(b byte) (out []byte, changedThem, changedUs bool) {
	themBefore, usBefore := o.them, o.us
	var allow *bool
	var state *qState
	var accept byte
	var reject byte
	switch b {
	case DO, DONT:
		allow = &o.allowUs
		state = &o.us
		accept = WILL
		reject = WONT
	case WILL, WONT:
		allow = &o.allowThem
		state = &o.them
		accept = DO
		reject = DONT
	}
	switch b {
	case DO, WILL:
		switch *state {
		case qNo:
			if *allow {
				*state = qYes
				out = o.sendCmd(accept)
			} else {
				out = o.sendCmd(reject)
			}
		case qYes:
			// ignore
		case qWantNoEmpty:
			*state = qNo
		case qWantNoOpposite:
			*state = qYes
		case qWantYesEmpty:
			*state = qYes
		case qWantYesOpposite:
			*state = qWantNoEmpty
			out = o.sendCmd(reject)
		}
	case DONT, WONT:
		switch *state {
		case qNo:
			// ignore
		case qYes:
			*state = qNo
			out = o.sendCmd(reject)
		case qWantNoEmpty:
			*state = qNo
		case qWantNoOpposite:
			*state = qWantYesEmpty
			out = o.sendCmd(accept)
		case qWantYesEmpty:
			*state = qNo
		case qWantYesOpposite:
			*state = qNo
		}
	}
	return out, themBefore != o.them, usBefore != o.us
}

func (o *optionState) sendCmd(b byte) []byte {
	return []byte{IAC, b, o.opt}
}

type optionMap struct {
	m      map[byte]*optionState
	policy Policy
}

func newOptionMap(policy Policy) *optionMap {
	return &optionMap{
		m:      make(map[byte]*optionState),
		policy: policy,
	}
}

func (m *optionMap) get(opt byte) *optionState {
	o, ok := m.m[opt]
	if !ok {
		o = &optionState{opt: opt}
		if m.policy != nil {
			allow := m.policy(opt)
			o.allowThem = allow
			o.allowUs = allow
		}
		m.m[opt] = o
	}
	return o
}
