// Package events defines event types and payloads for the server event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session events
	EventPlayerJoin   EventType = "player_join"
	EventPlayerLeave  EventType = "player_leave"
	EventPlayerMove   EventType = "player_move"
	EventChatMessage  EventType = "chat_message"
	EventSessionError EventType = "session_error"

	// Control events
	EventKickPlayer EventType = "cmd_kick_player"

	// System events
	EventServerStatus  EventType = "server_status"
	EventConfigChanged EventType = "config_changed"
	EventHealthAlert   EventType = "health_alert"
	EventShutdown      EventType = "shutdown"
)

// SessionState is the protocol state of a single connection.
type SessionState int

const (
	SessionUnauthenticated SessionState = iota
	SessionAuthenticated
	SessionTerminated
)

var sessionStateStrings = map[SessionState]string{
	SessionUnauthenticated: "unauthenticated",
	SessionAuthenticated:   "authenticated",
	SessionTerminated:      "terminated",
}

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	if str, ok := sessionStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes SessionState as a JSON string (e.g. "authenticated").
func (s SessionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerJoinPayload is emitted once the login burst has been sent.
type PlayerJoinPayload struct {
	SessionID string
	Username  string
	UUID      string
	EntityID  int32
	Remote    string
	JoinedAt  time.Time
}

// PlayerLeavePayload is emitted when a logged-in player's session ends.
type PlayerLeavePayload struct {
	SessionID string
	Username  string
	EntityID  int32
	Reason    string
	X, Y, Z   float64
	LeftAt    time.Time
}

// PlayerMovePayload carries a pose update.
type PlayerMovePayload struct {
	Username string
	X, Y, Z  float64
	Stance   float64
	Yaw      float32
	Pitch    float32
	OnGround bool
}

// ChatMessagePayload carries a chat line sent by a client.
type ChatMessagePayload struct {
	Username string
	Message  string
}

// SessionErrorPayload is emitted when a session terminates abnormally.
type SessionErrorPayload struct {
	SessionID string
	Remote    string
	Username  string
	Error     string
}

// KickPlayerPayload requests that a player be disconnected.
type KickPlayerPayload struct {
	Username string
	Reason   string
}

// ServerStatusPayload is a periodic snapshot of the server.
type ServerStatusPayload struct {
	Name        string
	Players     int
	MaxPlayers  int
	Connections int
	EntityIDs   int32
	Uptime      time.Duration
	CPUPercent  float64
	MemPercent  float64
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}

// HealthAlertPayload is emitted when a health check changes level.
type HealthAlertPayload struct {
	Check    string
	Level    string
	Previous string
	Message  string
}
