// Package header implements the fixed binary framing used on every
// connection the daemon accepts or dials. A frame is a MessagingHeader
// immediately followed by payload_size bytes of opaque payload.
package header

import (
	"encoding/binary"
	"errors"
)

// Size is the wire size of MessagingHeader in bytes. Layout (always
// little-endian, whatever the host byte order):
//
//	offset 0  msg_id          uint32
//	offset 4  priority        uint8
//	offset 5  transaction_id  uint32
//	offset 9  payload_size    uint32
//	offset 13 source_id       int32
//	offset 17 destination_id  int32
const Size = 21

// Priority levels a publisher may stamp on a message.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMid
	PriorityHigh
)

// reservedMask marks the high-nibble range reserved for daemon-internal
// control messages (e.g. ServActive).
const reservedMask = 0xF0000000

// ServActive is sent by a service immediately after it opens its inbound
// channel so the daemon can bind the connection to a configured service.
const ServActive uint32 = 0xF0000001

// ErrIncomplete means the buffer does not yet hold a full frame.
var ErrIncomplete = errors.New("header: incomplete data")

// Header is the decoded, in-memory form of MessagingHeader.
type Header struct {
	MsgID         uint32
	Priority      Priority
	TransactionID uint32
	PayloadSize   uint32
	SourceID      int32
	DestinationID int32
}

// Init writes a fresh header at the start of buf. buf must be at least
// Size+payloadSize bytes. SourceID is stamped with the caller's pid.
func Init(buf []byte, msgID uint32, priority Priority, payloadSize uint32, sourceID int32) {
	binary.LittleEndian.PutUint32(buf[0:4], msgID)
	buf[4] = byte(priority)
	binary.LittleEndian.PutUint32(buf[5:9], 0)
	binary.LittleEndian.PutUint32(buf[9:13], payloadSize)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(sourceID))
	binary.LittleEndian.PutUint32(buf[17:21], 0)
}

// Decode reads a Header from the first Size bytes of buf.
func Decode(buf []byte) Header {
	return Header{
		MsgID:         binary.LittleEndian.Uint32(buf[0:4]),
		Priority:      Priority(buf[4]),
		TransactionID: binary.LittleEndian.Uint32(buf[5:9]),
		PayloadSize:   binary.LittleEndian.Uint32(buf[9:13]),
		SourceID:      int32(binary.LittleEndian.Uint32(buf[13:17])),
		DestinationID: int32(binary.LittleEndian.Uint32(buf[17:21])),
	}
}

// Encode writes h back into the first Size bytes of buf.
func Encode(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.MsgID)
	buf[4] = byte(h.Priority)
	binary.LittleEndian.PutUint32(buf[5:9], h.TransactionID)
	binary.LittleEndian.PutUint32(buf[9:13], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(h.SourceID))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(h.DestinationID))
}

// GetMsgID reads msg_id without a full decode.
func GetMsgID(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf[0:4]) }

// SetMsgID overwrites msg_id in place.
func SetMsgID(buf []byte, id uint32) { binary.LittleEndian.PutUint32(buf[0:4], id) }

// GetSourceID reads source_id without a full decode.
func GetSourceID(buf []byte) int32 { return int32(binary.LittleEndian.Uint32(buf[13:17])) }

// SetSourceID overwrites source_id in place.
func SetSourceID(buf []byte, id int32) { binary.LittleEndian.PutUint32(buf[13:17], uint32(id)) }

// GetDestinationID reads destination_id without a full decode.
func GetDestinationID(buf []byte) int32 { return int32(binary.LittleEndian.Uint32(buf[17:21])) }

// SetDestinationID overwrites destination_id in place.
func SetDestinationID(buf []byte, id int32) {
	binary.LittleEndian.PutUint32(buf[17:21], uint32(id))
}

// GetTransactionID reads transaction_id without a full decode.
func GetTransactionID(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf[5:9]) }

// SetTransactionID overwrites transaction_id in place.
func SetTransactionID(buf []byte, id uint32) { binary.LittleEndian.PutUint32(buf[5:9], id) }

// SetPayloadSize overwrites payload_size in place.
func SetPayloadSize(buf []byte, size uint32) { binary.LittleEndian.PutUint32(buf[9:13], size) }

// MsgSize returns header_size + payload_size for the frame starting at buf.
// buf must hold at least Size bytes.
func MsgSize(buf []byte) int {
	return Size + int(binary.LittleEndian.Uint32(buf[9:13]))
}

// IsFullMsg reports whether available bytes hold a complete frame.
func IsFullMsg(buf []byte, available int) error {
	if available < Size {
		return ErrIncomplete
	}
	if available < MsgSize(buf) {
		return ErrIncomplete
	}
	return nil
}

// IsReservedID reports whether id falls in the daemon-internal control range.
func IsReservedID(id uint32) bool {
	return id&reservedMask == reservedMask
}

// ServActivePayload is the payload carried by a ServActive control frame.
type ServActivePayload struct {
	ServiceID int32
}

// EncodeServActivePayload writes a ServActivePayload into buf (must be >= 4 bytes).
func EncodeServActivePayload(buf []byte, p ServActivePayload) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.ServiceID))
}

// DecodeServActivePayload reads a ServActivePayload from buf (must be >= 4 bytes).
func DecodeServActivePayload(buf []byte) ServActivePayload {
	return ServActivePayload{ServiceID: int32(binary.LittleEndian.Uint32(buf[0:4]))}
}
