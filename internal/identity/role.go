package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Role int

const (
	RoleUnknown Role = iota
	RoleDoctor
	RolePatient
	RoleAdmin
	RoleSupport
)

var ErrUnknownRole = errors.New("unknown role")

// roleAliases maps every spelling the account subsystem has issued over time.
var roleAliases = map[string]Role{
	"doctor":    RoleDoctor,
	"bacsi":     RoleDoctor,
	"bác sĩ":    RoleDoctor,
	"patient":   RolePatient,
	"benhnhan":  RolePatient,
	"bệnh nhân": RolePatient,
	"khachhang": RolePatient,
	"admin":     RoleAdmin,
	"quantri":   RoleAdmin,
	"support":   RoleSupport,
	"cskh":      RoleSupport,
}

// ParseRole converts a raw role string into a Role. It never returns
// RoleUnknown without an error.
func ParseRole(raw string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

func (r Role) String() string {
	switch r {
	case RoleDoctor:
		return "Doctor"
	case RolePatient:
		return "Patient"
	case RoleAdmin:
		return "Admin"
	case RoleSupport:
		return "Support"
	default:
		return "Unknown"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Principal is the acting identity. ID is the user account id, shared by
// every role; a patient's record id is its account id, a doctor's account is
// Doctor.UserID.
type Principal struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// GroupKey is the realtime group that reaches every session of this principal.
func (p Principal) GroupKey() string {
	return UserGroup(p.ID)
}

func UserGroup(id int64) string {
	return "User_" + strconv.FormatInt(id, 10)
}
