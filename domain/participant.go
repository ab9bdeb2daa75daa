// Package domain contains core concepts of the whiteboard hub.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

type ParticipantID uuid.UUID

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New())
}

func (id ParticipantID) String() string {
	return uuid.UUID(id).String()
}

// Participant is a registered, identified connection on the reliable channel.
// Name is not unique and is never checked.
type Participant struct {
	ID           ParticipantID
	Name         string
	RemoteAddr   netip.AddrPort
	DatagramAddr netip.AddrPort // zero until a datagram from the same host is seen
	JoinedAt     time.Time
}

// HasDatagramAddr reports whether a best-effort address is associated.
func (p Participant) HasDatagramAddr() bool {
	return p.DatagramAddr.IsValid()
}

// FallbackName is used when a hello carries no username.
func FallbackName(remote netip.AddrPort) string {
	return fmt.Sprintf("user_%d", remote.Port())
}

func JoinedNotice(name string) string {
	return fmt.Sprintf("%s joined.", name)
}

func LeftNotice(name string) string {
	return fmt.Sprintf("%s left.", name)
}
