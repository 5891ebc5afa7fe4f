package models

import "time"

// RelationshipKind labels one direction of a relationship. The kind stored on
// an edge describes who the peer is to the owner ("Parent" on an edge in a
// child's graph points at the parent).
type RelationshipKind string

const (
	KindParent      RelationshipKind = "Parent"
	KindChild       RelationshipKind = "Child"
	KindSpouse      RelationshipKind = "Spouse"
	KindSibling     RelationshipKind = "Sibling"
	KindGrandparent RelationshipKind = "Grandparent"
	KindGrandchild  RelationshipKind = "Grandchild"
	KindUncleAunt   RelationshipKind = "Uncle/Aunt"
	KindNieceNephew RelationshipKind = "Niece/Nephew"
	KindFriend      RelationshipKind = "Friend"
	KindCaregiver   RelationshipKind = "Caregiver"
	KindPatient     RelationshipKind = "Patient"
	KindDoctor      RelationshipKind = "Doctor"

	// KindConnected is the documented fallback for kinds the inverse table
	// does not know about. Mirror synthesis must never fail on an exotic
	// kind, so unmapped kinds invert to this generic label.
	KindConnected RelationshipKind = "Connected"
)

// inverseKinds maps each kind to the kind expected on the mirror edge.
// Pure lookup table; mirror synthesis never fetches the peer's own data.
// Patient is many-to-one: both Caregiver and Doctor invert to Patient, and a
// Patient edge inverts to Caregiver. A mirror resynthesized from a surviving
// Patient edge therefore comes back labeled Caregiver even when the lost
// edge said Doctor; doctor-side edges are authored by the request path, not
// recovered from the patient's graph.
var inverseKinds = map[RelationshipKind]RelationshipKind{
	KindParent:      KindChild,
	KindChild:       KindParent,
	KindSpouse:      KindSpouse,
	KindSibling:     KindSibling,
	KindGrandparent: KindGrandchild,
	KindGrandchild:  KindGrandparent,
	KindUncleAunt:   KindNieceNephew,
	KindNieceNephew: KindUncleAunt,
	KindFriend:      KindFriend,
	KindCaregiver:   KindPatient,
	KindPatient:     KindCaregiver,
	KindDoctor:      KindPatient,
	KindConnected:   KindConnected,
}

// Inverse returns the relationship kind of the mirror edge.
func (k RelationshipKind) Inverse() RelationshipKind {
	if inv, ok := inverseKinds[k]; ok {
		return inv
	}
	return KindConnected
}

// AccessLevel controls how much of the owner's data the peer may see.
type AccessLevel string

const (
	AccessFull      AccessLevel = "full"
	AccessLimited   AccessLevel = "limited"
	AccessEmergency AccessLevel = "emergency"
)

// EdgeStatus is the lifecycle state of an edge. Disabled edges are kept for
// audit and never hard-deleted through the normal flow.
type EdgeStatus string

const (
	EdgeStatusActive   EdgeStatus = "active"
	EdgeStatusDisabled EdgeStatus = "disabled"
)

// RelationshipEdge is one directional relationship record in an owner's
// graph, pointing at a peer. The peer may be identified by ID, by email, or
// both; within one owner's graph at most one active edge may exist per
// distinct peer identity.
type RelationshipEdge struct {
	BaseModel
	OwnerID   uint             `gorm:"not null;index:idx_edge_owner_status" json:"ownerId"`
	PeerID    uint             `gorm:"index" json:"peerId,omitempty"`
	PeerEmail string           `gorm:"type:varchar(100);index" json:"peerEmail,omitempty"`
	PeerName  string           `gorm:"type:varchar(100)" json:"peerName,omitempty"`
	PeerPhone string           `gorm:"type:varchar(30)" json:"peerPhone,omitempty"`
	Kind      RelationshipKind `gorm:"type:varchar(30)" json:"relationshipKind"`

	AccessLevel        AccessLevel `gorm:"type:varchar(20)" json:"accessLevel"`
	IsEmergencyContact *bool       `json:"isEmergencyContact,omitempty"` // nil = never explicitly set
	GrantedBy          uint        `json:"grantedBy,omitempty"`

	Status     EdgeStatus `gorm:"type:varchar(20);not null;default:'active';index:idx_edge_owner_status" json:"status"`
	AddedAt    time.Time  `json:"addedAt"`
	DisabledAt *time.Time `json:"disabledAt,omitempty"`
	DisabledBy uint       `json:"disabledBy,omitempty"`
}

// TableName specifies the table name for the RelationshipEdge model.
func (RelationshipEdge) TableName() string {
	return "relationship_edges"
}

// IsActive reports whether the edge is part of the owner's active view.
func (e *RelationshipEdge) IsActive() bool {
	return e.Status == EdgeStatusActive
}

// MatchesPeer reports whether the edge points at the given peer identity.
// Identity matches on peer ID or, failing that, on peer email.
func (e *RelationshipEdge) MatchesPeer(peerID uint, peerEmail string) bool {
	if peerID != 0 && e.PeerID == peerID {
		return true
	}
	if peerEmail != "" && e.PeerEmail != "" && e.PeerEmail == peerEmail {
		return true
	}
	return false
}

// SamePeer reports whether two edges of one owner point at the same peer.
func (e *RelationshipEdge) SamePeer(other *RelationshipEdge) bool {
	return e.MatchesPeer(other.PeerID, other.PeerEmail)
}

// BoolPtr is a small helper for the tri-state IsEmergencyContact field.
func BoolPtr(b bool) *bool { return &b }
