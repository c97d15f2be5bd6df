package wasm

// RequestPacket identifies the packet a transfer notification refers to.
// Fields are optional on the wire, so handlers must check them.
type RequestPacket struct {
	Sequence           *uint64 `json:"sequence,omitempty"`
	SourcePort         *string `json:"source_port,omitempty"`
	SourceChannel      *string `json:"source_channel,omitempty"`
	DestinationPort    *string `json:"destination_port,omitempty"`
	DestinationChannel *string `json:"destination_channel,omitempty"`
	Data               []byte  `json:"data,omitempty"`
	TimeoutHeight      Height  `json:"timeout_height"`
	TimeoutTimestamp   uint64  `json:"timeout_timestamp,omitempty"`
}

// SudoMsg is one of SudoResponse, SudoError or SudoTimeout.
type SudoMsg interface {
	Packet() RequestPacket
	sudoKind() string
}

// SudoResponse reports a successful acknowledgement.
type SudoResponse struct {
	Request RequestPacket `json:"request"`
	Data    []byte        `json:"data,omitempty"`
}

// SudoError reports an error acknowledgement.
type SudoError struct {
	Request RequestPacket `json:"request"`
	Details string        `json:"details"`
}

// SudoTimeout reports that the packet timed out.
type SudoTimeout struct {
	Request RequestPacket `json:"request"`
}

func (m SudoResponse) Packet() RequestPacket { return m.Request }
func (m SudoError) Packet() RequestPacket    { return m.Request }
func (m SudoTimeout) Packet() RequestPacket  { return m.Request }

func (SudoResponse) sudoKind() string { return "response" }
func (SudoError) sudoKind() string    { return "error" }
func (SudoTimeout) sudoKind() string  { return "timeout" }

// SudoKind names the notification, used in events and logs.
func SudoKind(m SudoMsg) string {
	return m.sudoKind()
}
