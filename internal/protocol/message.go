// Package protocol defines the discovery and command messages exchanged
// with field units over UDP and the codecs that put them on the wire.
//
// Every datagram is a single document whose first key is "type":
//
//	{"type":"drone_announce","drone_id":"drone-1",...}
//	{"type":"command","command":"takeoff","target_drone":"drone-1","params":{"altitude":15}}
//	{"type":"command_response","drone_id":"drone-1","command":"takeoff","result":{"success":true}}
package protocol

// Kind is the wire discriminator carried in the "type" key.
type Kind string

const (
	KindAnnounce        Kind = "drone_announce"
	KindCommand         Kind = "command"
	KindCommandResponse Kind = "command_response"

	// kindAnnouncement is the spelling used by older field agents.
	kindAnnouncement Kind = "drone_announcement"
)

// DefaultDronePort is the command port assumed when an announce omits it.
const DefaultDronePort = 14550

// Message is one of *Announce, *Command or *CommandResponse.
type Message interface {
	Kind() Kind
}

// Announce is sent periodically by a field unit to advertise itself.
type Announce struct {
	DroneID         string  `json:"drone_id"`
	Name            string  `json:"name,omitempty"`
	Port            int     `json:"port,omitempty"`
	PixhawkStatus   string  `json:"pixhawk_status,omitempty"`
	BatteryVoltage  float64 `json:"battery_voltage"`
	GPSFix          bool    `json:"gps_fix"`
	FlightMode      string  `json:"flight_mode,omitempty"`
	Armed           bool    `json:"armed"`
	SignalStrength  int     `json:"signal_strength"`
	FirmwareVersion string  `json:"firmware_version,omitempty"`
}

func (*Announce) Kind() Kind { return KindAnnounce }

// Command asks a field unit (or the controller, when relayed) to act.
type Command struct {
	Command     string    `json:"command"`
	TargetDrone string    `json:"target_drone"`
	Params      Params    `json:"params"`
	Timestamp   Timestamp `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

func (*Command) Kind() Kind { return KindCommand }

// CommandResponse answers a Command. A nil Result means the unit
// acknowledged without details, which counts as success.
type CommandResponse struct {
	DroneID   string         `json:"drone_id"`
	Command   string         `json:"command"`
	Result    *CommandResult `json:"result,omitempty"`
	Timestamp Timestamp      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

func (*CommandResponse) Kind() Kind { return KindCommandResponse }

// Outcome returns the response result, treating a missing one as success.
func (r *CommandResponse) Outcome() CommandResult {
	if r.Result == nil {
		return CommandResult{Success: true}
	}
	return *r.Result
}

// framed wrappers put the discriminator ahead of the message fields.
type announceFrame struct {
	Type Kind `json:"type"`
	*Announce
}

type commandFrame struct {
	Type Kind `json:"type"`
	*Command
}

type responseFrame struct {
	Type Kind `json:"type"`
	*CommandResponse
}

type header struct {
	Type Kind `json:"type"`
}

func frame(m Message) (any, error) {
	canonicalize(m)
	switch v := m.(type) {
	case *Announce:
		return announceFrame{Type: KindAnnounce, Announce: v}, nil
	case *Command:
		return commandFrame{Type: KindCommand, Command: v}, nil
	case *CommandResponse:
		return responseFrame{Type: KindCommandResponse, CommandResponse: v}, nil
	default:
		return nil, &EncodeError{Reason: "unsupported message type"}
	}
}

// canonicalize turns every number in params and payloads into float64 so
// both codecs yield the same values.
func canonicalize(m Message) {
	switch v := m.(type) {
	case *Command:
		v.Params.Canonicalize()
	case *CommandResponse:
		if v.Result != nil {
			canonicalMap(v.Result.Payload)
		}
	}
}

// target allocates the concrete message for a kind read from the header.
func target(k Kind) (Message, error) {
	switch k {
	case KindAnnounce, kindAnnouncement:
		return &Announce{}, nil
	case KindCommand:
		return &Command{}, nil
	case KindCommandResponse:
		return &CommandResponse{}, nil
	case "":
		return nil, &DecodeError{Reason: "missing type"}
	default:
		return nil, &DecodeError{Kind: string(k), Reason: "unknown type", Err: ErrUnknownKind}
	}
}

// validate rejects messages missing the fields the controller relies on.
func validate(m Message) error {
	switch v := m.(type) {
	case *Announce:
		if v.DroneID == "" {
			return &DecodeError{Kind: string(KindAnnounce), Reason: "missing drone_id"}
		}
		if v.Port < 0 || v.Port > 65535 {
			return &DecodeError{Kind: string(KindAnnounce), Reason: "port out of range"}
		}
	case *Command:
		if v.Command == "" {
			return &DecodeError{Kind: string(KindCommand), Reason: "missing command"}
		}
	case *CommandResponse:
		if v.Command == "" {
			return &DecodeError{Kind: string(KindCommandResponse), Reason: "missing command"}
		}
	}
	return nil
}
