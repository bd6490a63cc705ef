// Package protocol implements the wire primitives for the alpha-era game
// protocol spoken on port 25565. Every packet starts with a one-byte packet
// ID followed by a fixed layout of big-endian fields; strings carry a
// 2-byte big-endian byte-length prefix followed by UTF-8 bytes.
package protocol

import "fmt"

// Version is the only protocol version accepted at login.
const Version uint32 = 3

// Packet ID bytes. Only a subset is handled by the server; the rest is
// reserved so that new handlers can be registered without touching framing.
const (
	PktKeepAlive                 byte = 0x00
	PktLogin                     byte = 0x01
	PktHandshake                 byte = 0x02
	PktChatMessage               byte = 0x03
	PktTimeUpdate                byte = 0x04
	PktPlayerInventory           byte = 0x05
	PktSpawnPosition             byte = 0x06
	PktUseEntity                 byte = 0x07
	PktUpdateHealth              byte = 0x08
	PktRespawn                   byte = 0x09
	PktPlayer                    byte = 0x0A
	PktPlayerPosition            byte = 0x0B
	PktPlayerLook                byte = 0x0C
	PktPlayerPositionAndLook     byte = 0x0D
	PktPlayerDigging             byte = 0x0E
	PktPlayerBlockPlacement      byte = 0x0F
	PktHoldingChange             byte = 0x10
	PktAddToInventory            byte = 0x11
	PktAnimation                 byte = 0x12
	PktNamedEntitySpawn          byte = 0x14
	PktPickupSpawn               byte = 0x15
	PktCollectItem               byte = 0x16
	PktAddObjectOrVehicle        byte = 0x17
	PktMobSpawn                  byte = 0x18
	PktEntityVelocity            byte = 0x1C
	PktDestroyEntity             byte = 0x1D
	PktEntity                    byte = 0x1E
	PktEntityRelativeMove        byte = 0x1F
	PktEntityLook                byte = 0x20
	PktEntityLookAndRelativeMove byte = 0x21
	PktEntityTeleport            byte = 0x22
	PktEntityStatus              byte = 0x26
	PktPreChunk                  byte = 0x32
	PktMapChunk                  byte = 0x33
	PktMultiBlockChange          byte = 0x34
	PktBlockChange               byte = 0x35
	PktComplexEntity             byte = 0x3B
	PktExplosion                 byte = 0x3C
	PktKickOrDisconnect          byte = 0xFF
)

// MaxStringLength is the largest string payload a u16 prefix can describe.
const MaxStringLength = 65535

// HandshakeAccept is the raw handshake reply: packet 0x02 carrying the
// string "-" (offline mode, no name verification).
var HandshakeAccept = []byte{PktHandshake, 0x00, 0x01, '-'}

var packetNames = map[byte]string{
	PktKeepAlive:                 "keep_alive",
	PktLogin:                     "login",
	PktHandshake:                 "handshake",
	PktChatMessage:               "chat_message",
	PktTimeUpdate:                "time_update",
	PktPlayerInventory:           "player_inventory",
	PktSpawnPosition:             "spawn_position",
	PktUseEntity:                 "use_entity",
	PktUpdateHealth:              "update_health",
	PktRespawn:                   "respawn",
	PktPlayer:                    "player",
	PktPlayerPosition:            "player_position",
	PktPlayerLook:                "player_look",
	PktPlayerPositionAndLook:     "player_position_and_look",
	PktPlayerDigging:             "player_digging",
	PktPlayerBlockPlacement:      "player_block_placement",
	PktHoldingChange:             "holding_change",
	PktAddToInventory:            "add_to_inventory",
	PktAnimation:                 "animation",
	PktNamedEntitySpawn:          "named_entity_spawn",
	PktPickupSpawn:               "pickup_spawn",
	PktCollectItem:               "collect_item",
	PktAddObjectOrVehicle:        "add_object_or_vehicle",
	PktMobSpawn:                  "mob_spawn",
	PktEntityVelocity:            "entity_velocity",
	PktDestroyEntity:             "destroy_entity",
	PktEntity:                    "entity",
	PktEntityRelativeMove:        "entity_relative_move",
	PktEntityLook:                "entity_look",
	PktEntityLookAndRelativeMove: "entity_look_and_relative_move",
	PktEntityTeleport:            "entity_teleport",
	PktEntityStatus:              "entity_status",
	PktPreChunk:                  "pre_chunk",
	PktMapChunk:                  "map_chunk",
	PktMultiBlockChange:          "multi_block_change",
	PktBlockChange:               "block_change",
	PktComplexEntity:             "complex_entity",
	PktExplosion:                 "explosion",
	PktKickOrDisconnect:          "kick_or_disconnect",
}

// PacketName returns a readable name for a packet ID, for logging.
func PacketName(id byte) string {
	if name, ok := packetNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", id)
}

// IsReserved reports whether id belongs to the protocol's packet table.
func IsReserved(id byte) bool {
	_, ok := packetNames[id]
	return ok
}
