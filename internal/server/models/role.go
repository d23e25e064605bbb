// Package models defines server-side data models persisted in the database.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
)

// Role is a user's position in the archive hierarchy. Roles are totally
// ordered; the zero value is not a valid role.
type Role uint8

const (
	RoleVisitor Role = iota + 1
	RoleUser
	RoleOwner
	RoleReviewer
	RoleAdmin
)

var roleNames = [...]string{
	RoleVisitor:  "VISITOR",
	RoleUser:     "USER",
	RoleOwner:    "OWNER",
	RoleReviewer: "REVIEWER",
	RoleAdmin:    "ADMIN",
}

// ParseRole converts the persisted/wire name into a Role.
func ParseRole(s string) (Role, error) {
	for r := RoleVisitor; r <= RoleAdmin; r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", common.ErrValidation, s)
}

func (r Role) Valid() bool { return r >= RoleVisitor && r <= RoleAdmin }

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool { return r.Valid() && r >= min }

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: invalid role %d", common.ErrValidation, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: invalid role %d", common.ErrValidation, uint8(r))
	}
	return r.String(), nil
}

func (r *Role) Scan(src any) error {
	return scanText(src, r.UnmarshalText)
}

// AccessLevel is a capability tier on a manuscript. Levels are totally
// ordered; the zero value means no access.
type AccessLevel uint8

const (
	LevelNone AccessLevel = iota
	LevelViewMetadata
	LevelViewContent
	LevelDownload
	LevelFullAccess
)

var levelNames = [...]string{
	LevelViewMetadata: "VIEW_METADATA",
	LevelViewContent:  "VIEW_CONTENT",
	LevelDownload:     "DOWNLOAD",
	LevelFullAccess:   "FULL_ACCESS",
}

// ParseAccessLevel converts the persisted/wire name into an AccessLevel.
// LevelNone has no name and is never parsed.
func ParseAccessLevel(s string) (AccessLevel, error) {
	for l := LevelViewMetadata; l <= LevelFullAccess; l++ {
		if levelNames[l] == s {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("%w: unknown access level %q", common.ErrValidation, s)
}

// Valid reports whether l is a grantable level.
func (l AccessLevel) Valid() bool { return l >= LevelViewMetadata && l <= LevelFullAccess }

func (l AccessLevel) String() string {
	if l == LevelNone {
		return "NONE"
	}
	if !l.Valid() {
		return fmt.Sprintf("AccessLevel(%d)", uint8(l))
	}
	return levelNames[l]
}

// AtLeast reports whether l satisfies the required level.
func (l AccessLevel) AtLeast(required AccessLevel) bool { return l.Valid() && l >= required }

func (l AccessLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: invalid access level %d", common.ErrValidation, uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *AccessLevel) UnmarshalText(b []byte) error {
	v, err := ParseAccessLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func (l AccessLevel) Value() (driver.Value, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: invalid access level %d", common.ErrValidation, uint8(l))
	}
	return l.String(), nil
}

func (l *AccessLevel) Scan(src any) error {
	return scanText(src, l.UnmarshalText)
}

func scanText(src any, fn func([]byte) error) error {
	switch v := src.(type) {
	case string:
		return fn([]byte(v))
	case []byte:
		return fn(v)
	default:
		return fmt.Errorf("cannot scan %T into enum", src)
	}
}
