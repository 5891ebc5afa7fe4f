package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInverseKinds(t *testing.T) {
	cases := map[RelationshipKind]RelationshipKind{
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
		KindDoctor:      KindPatient,
		// Patient is many-to-one; resynthesis from a surviving patient edge
		// labels the mirror Caregiver.
		KindPatient:   KindCaregiver,
		KindConnected: KindConnected,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Inverse(), "inverse of %s", kind)
	}

	// Unknown kinds never break mirror synthesis.
	assert.Equal(t, KindConnected, RelationshipKind("Godparent").Inverse())
}

func TestMatchesPeer(t *testing.T) {
	edge := RelationshipEdge{OwnerID: 1, PeerID: 2, PeerEmail: "peer@example.com"}

	assert.True(t, edge.MatchesPeer(2, ""))
	assert.True(t, edge.MatchesPeer(0, "peer@example.com"))
	assert.True(t, edge.MatchesPeer(2, "other@example.com"), "ID match wins over email mismatch")
	assert.False(t, edge.MatchesPeer(3, ""))
	assert.False(t, edge.MatchesPeer(0, "other@example.com"))
	assert.False(t, edge.MatchesPeer(0, ""))

	// Email-only edges never match on a zero peer ID.
	invited := RelationshipEdge{OwnerID: 1, PeerEmail: "invitee@example.com"}
	assert.False(t, invited.MatchesPeer(5, ""))
	assert.True(t, invited.MatchesPeer(0, "invitee@example.com"))
}
