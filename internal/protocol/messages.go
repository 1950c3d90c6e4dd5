package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ViewerName      string            `json:"viewer_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	EntityID        int32       `json:"entity_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	WorldID      string `json:"world_id"`
	TickRateHz   int    `json:"tick_rate_hz"`
	BlockSize    int    `json:"block_size"`
	Depth        int    `json:"depth"`
	FOV          int    `json:"fov"`
	Padding      int    `json:"padding"`
	WindowBlocks int    `json:"window_blocks"`
	TilePixels   int    `json:"tile_pixels"`
}

// Command kinds carried by COMMAND messages.
const (
	CmdMove       = "MOVE"
	CmdMoveZ      = "MOVE_Z"
	CmdClick      = "CLICK"
	CmdBuild      = "BUILD"
	CmdDrop       = "DROP"
	CmdGhost      = "GHOST"
	CmdResync     = "RESYNC"
	CmdDisconnect = "DISCONNECT"
)

var knownCommands = map[string]struct{}{
	CmdMove:       {},
	CmdMoveZ:      {},
	CmdClick:      {},
	CmdBuild:      {},
	CmdDrop:       {},
	CmdGhost:      {},
	CmdResync:     {},
	CmdDisconnect: {},
}

func IsKnownCommand(cmd string) bool {
	_, ok := knownCommands[cmd]
	return ok
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Command         string `json:"command"`
	Direction       string `json:"direction,omitempty"`
	Target          int32  `json:"target,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
