// Package player holds the shared player registry and the entity id
// allocator used by every session.
package player

import (
	"crypto/md5"
	"time"

	"github.com/google/uuid"
)

// Default spawn pose given to every player at login.
const (
	SpawnX      = 0.0
	SpawnY      = 80.0
	SpawnZ      = 0.0
	SpawnStance = 81.6
)

// Player is the server-side record of a logged-in client.
type Player struct {
	Username string    `json:"username"`
	UUID     uuid.UUID `json:"uuid"`
	EntityID int32     `json:"entity_id"`
	LoggedIn bool      `json:"logged_in"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Stance float64 `json:"stance"`
	Yaw    float32 `json:"yaw"`
	Pitch  float32 `json:"pitch"`

	OnGround bool `json:"on_ground"`

	Remote    string    `json:"remote"`
	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a player at the default spawn pose. LoggedIn stays false until
// the login burst has been sent.
func New(username string, entityID int32) *Player {
	now := time.Now()
	return &Player{
		Username:  username,
		UUID:      OfflineUUID(username),
		EntityID:  entityID,
		X:         SpawnX,
		Y:         SpawnY,
		Z:         SpawnZ,
		Stance:    SpawnStance,
		OnGround:  true,
		JoinedAt:  now,
		UpdatedAt: now,
	}
}

// OfflineUUID derives the name-based (version 3) UUID used for players that
// are not verified against an account service.
func OfflineUUID(username string) uuid.UUID {
	hash := md5.Sum([]byte("OfflinePlayer:" + username))
	hash[6] = (hash[6] & 0x0f) | 0x30 // version 3
	hash[8] = (hash[8] & 0x3f) | 0x80 // variant 10
	return uuid.UUID(hash)
}

// SetPosition updates the position and stance.
func (p *Player) SetPosition(x, y, z, stance float64) {
	p.X, p.Y, p.Z, p.Stance = x, y, z, stance
	p.UpdatedAt = time.Now()
}

// SetLook updates the orientation.
func (p *Player) SetLook(yaw, pitch float32) {
	p.Yaw, p.Pitch = yaw, pitch
	p.UpdatedAt = time.Now()
}

// SetOnGround updates the on-ground flag.
func (p *Player) SetOnGround(onGround bool) {
	p.OnGround = onGround
	p.UpdatedAt = time.Now()
}
