package identity

import (
	"encoding/json"
	"maps"
	"sort"
	"strings"
)

// DefaultIDType is the identifier type used for bucketing when a rule does not
// request a specific custom ID.
const DefaultIDType = "userID"

// User describes the identity a flag or experiment is evaluated for.
//
// Only UserID and CustomIDs participate in cache keys and bucketing hashes.
// Attributes such as Email or IP feed condition evaluation but never the
// persisted cache identity, so changing them does not orphan cached values.
type User struct {
	UserID            string            `json:"userID,omitempty"`
	Email             string            `json:"email,omitempty"`
	IP                string            `json:"ip,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	Country           string            `json:"country,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	AppVersion        string            `json:"appVersion,omitempty"`
	Custom            map[string]any    `json:"custom,omitempty"`
	PrivateAttributes map[string]any    `json:"privateAttributes,omitempty"`
	CustomIDs         map[string]string `json:"customIDs,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
}

// Copy returns a deep copy of the user. Core packages copy identities on
// entry so caller-owned data is never mutated and cached state can never be
// corrupted through a retained reference.
func (u *User) Copy() *User {
	if u == nil {
		return &User{}
	}
	c := *u
	if u.Custom != nil {
		c.Custom = maps.Clone(u.Custom)
	}
	if u.PrivateAttributes != nil {
		c.PrivateAttributes = maps.Clone(u.PrivateAttributes)
	}
	if u.CustomIDs != nil {
		c.CustomIDs = maps.Clone(u.CustomIDs)
	}
	if u.Environment != nil {
		c.Environment = maps.Clone(u.Environment)
	}
	return &c
}

// UnitID resolves the identifier a rule should bucket on. Custom ID types
// match case-insensitively; the zero or default type falls back to UserID.
func (u *User) UnitID(idType string) string {
	if u == nil {
		return ""
	}
	if idType == "" || strings.EqualFold(idType, DefaultIDType) {
		return u.UserID
	}
	if v, ok := u.CustomIDs[idType]; ok {
		return v
	}
	lower := strings.ToLower(idType)
	for k, v := range u.CustomIDs {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

// Field returns a user attribute by name using exact-case lookup first, then
// lower-case, then the Custom map, then PrivateAttributes. The boolean
// reports whether a value was found at all.
func (u *User) Field(name string) (any, bool) {
	if u == nil || name == "" {
		return nil, false
	}
	if v, ok := u.topLevel(name); ok {
		return v, true
	}
	if v, ok := u.topLevel(strings.ToLower(name)); ok {
		return v, true
	}
	if v, ok := lookupMap(u.Custom, name); ok {
		return v, true
	}
	if v, ok := lookupMap(u.PrivateAttributes, name); ok {
		return v, true
	}
	return nil, false
}

func (u *User) topLevel(name string) (any, bool) {
	switch name {
	case "userid", "userID", "user_id":
		return nonEmpty(u.UserID)
	case "email":
		return nonEmpty(u.Email)
	case "ip", "ipaddress", "ip_address":
		return nonEmpty(u.IP)
	case "useragent", "userAgent", "user_agent":
		return nonEmpty(u.UserAgent)
	case "country":
		return nonEmpty(u.Country)
	case "locale":
		return nonEmpty(u.Locale)
	case "appversion", "appVersion", "app_version":
		return nonEmpty(u.AppVersion)
	}
	return nil, false
}

func lookupMap(m map[string]any, name string) (any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	if v, ok := m[name]; ok {
		return v, true
	}
	if v, ok := m[strings.ToLower(name)]; ok {
		return v, true
	}
	return nil, false
}

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

// CanonicalIdentity serializes the hash-relevant subset of the user in a
// deterministic order. Map iteration order is random in Go, so custom IDs are
// sorted by key before serialization; otherwise two serializations of the
// same identity would produce different cache keys.
func (u *User) CanonicalIdentity() string {
	if u == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("uid:")
	b.WriteString(u.UserID)
	if len(u.CustomIDs) > 0 {
		keys := make([]string, 0, len(u.CustomIDs))
		for k := range u.CustomIDs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(";cids:")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(u.CustomIDs[k])
		}
	}
	return b.String()
}

// ForLogging returns a copy of the user without private attributes, safe to
// attach to exposure events that leave the process.
func (u *User) ForLogging() *User {
	c := u.Copy()
	c.PrivateAttributes = nil
	return c
}

// MarshalJSON keeps the zero user serializable as an empty object rather
// than null so wire payloads always carry a user field.
func (u *User) MarshalJSON() ([]byte, error) {
	type alias User
	if u == nil {
		return []byte("{}"), nil
	}
	return json.Marshal((*alias)(u))
}
