package models

import "time"

// RequestStatus is the lifecycle state of a relationship request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusExpired  RequestStatus = "expired"
	// RequestStatusCancelled marks a request superseded by a newer one for
	// the same pair.
	RequestStatusCancelled RequestStatus = "cancelled"
)

// ConnectionMethod records how the recipient was addressed when the request
// was created.
type ConnectionMethod string

const (
	ConnectByID    ConnectionMethod = "id"
	ConnectByEmail ConnectionMethod = "email"
	ConnectByPhone ConnectionMethod = "phone"
)

// RelationshipRequest represents one connection request between two
// principals, from creation through its terminal state. At most one pending
// request may exist per (from, to) pair; creating a newer one cancels the
// older.
type RelationshipRequest struct {
	BaseModel
	RequestID string `gorm:"type:varchar(36);uniqueIndex" json:"requestId"`

	FromID  uint             `gorm:"not null;index:idx_request_pair" json:"fromId"`
	ToID    uint             `gorm:"not null;index:idx_request_pair" json:"toId"`
	ToEmail string           `gorm:"type:varchar(100)" json:"toEmail,omitempty"`
	ToPhone string           `gorm:"type:varchar(30)" json:"toPhone,omitempty"`
	Method  ConnectionMethod `gorm:"type:varchar(10)" json:"connectionMethod,omitempty"`

	Kind    RelationshipKind `gorm:"type:varchar(30)" json:"relationshipKind"`
	Message string           `gorm:"type:text" json:"message,omitempty"`

	// Code is a short-lived display/confirmation value, not a credential.
	Code       string    `gorm:"type:varchar(12)" json:"-"`
	CodeExpiry time.Time `json:"codeExpiry"`

	Status RequestStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
}

// TableName specifies the table name for the RelationshipRequest model.
func (RelationshipRequest) TableName() string {
	return "relationship_requests"
}

// IsPending reports whether the request can still be acted on, ignoring
// code expiry (expiry is evaluated lazily at the call sites that care).
func (r *RelationshipRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// CodeExpired reports whether the verification code window has passed.
func (r *RelationshipRequest) CodeExpired(now time.Time) bool {
	return now.After(r.CodeExpiry)
}

// RequestWithRequester is a DTO that includes request details along with
// basic information about the principal who sent it. Used by the pending
// requests API.
type RequestWithRequester struct {
	RelationshipRequest
	Requester *UserBasicInfo `json:"requester,omitempty"`
}
