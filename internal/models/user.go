package models

// UserRole classifies a principal. Every role may hold relationship edges.
type UserRole string

const (
	RolePatient      UserRole = "patient"
	RoleDoctor       UserRole = "doctor"
	RoleFamilyMember UserRole = "family_member"
	RoleAdmin        UserRole = "admin"
)

// User represents a principal in the system: a patient, doctor or family
// member account. Email and phone double as secondary matching keys when a
// connection request is addressed to someone without a known ID.
type User struct {
	BaseModel
	Name         string   `gorm:"type:varchar(100);not null" json:"name"`
	Email        string   `gorm:"type:varchar(100);uniqueIndex" json:"email,omitempty"`
	Phone        string   `gorm:"type:varchar(30);index" json:"phone,omitempty"`
	Role         UserRole `gorm:"type:varchar(20);not null;default:'patient'" json:"role"`
	PasswordHash string   `gorm:"type:varchar(255);not null" json:"-"`
	IsActive     bool     `gorm:"default:true" json:"isActive"`
}

// TableName specifies the table name for the User model.
func (User) TableName() string {
	return "users"
}

// UserBasicInfo holds minimal public information about a user.
// Used for scenarios like displaying the requester on a pending request.
type UserBasicInfo struct {
	ID    uint     `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Role  UserRole `json:"role"`
}

// BasicInfo strips a user down to its public fields.
func (u *User) BasicInfo() *UserBasicInfo {
	return &UserBasicInfo{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}
