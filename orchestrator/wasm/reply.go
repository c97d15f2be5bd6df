package wasm

// ReplyOn controls when the host calls back into the emitting contract.
type ReplyOn int

const (
	ReplyNever ReplyOn = iota
	ReplyAlways
	ReplyOnSuccess
	ReplyOnError
)

func (r ReplyOn) String() string {
	switch r {
	case ReplyAlways:
		return "always"
	case ReplyOnSuccess:
		return "success"
	case ReplyOnError:
		return "error"
	default:
		return "never"
	}
}

// Wants reports whether an outcome should be delivered as a reply.
func (r ReplyOn) Wants(failed bool) bool {
	switch r {
	case ReplyAlways:
		return true
	case ReplyOnSuccess:
		return !failed
	case ReplyOnError:
		return failed
	default:
		return false
	}
}

// SubMsg is a message with reply routing. Payload is opaque to the host and
// handed back unchanged in the Reply.
type SubMsg struct {
	Msg     Msg     `json:"msg"`
	ReplyOn ReplyOn `json:"reply_on"`
	Payload []byte  `json:"payload,omitempty"`
}

// SubMsgResult is either an error string or the successful result data.
type SubMsgResult struct {
	Err    string  `json:"error,omitempty"`
	Data   []byte  `json:"data,omitempty"`
	Events []Event `json:"events,omitempty"`
}

func (r SubMsgResult) IsErr() bool {
	return r.Err != ""
}

// Reply is delivered to the contract after a SubMsg finished.
type Reply struct {
	Payload []byte       `json:"payload,omitempty"`
	Result  SubMsgResult `json:"result"`
}
