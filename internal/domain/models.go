// Package domain defines the persistence models for applicant profiles and
// chat transcripts. These types are mapped with GORM and serialized to JSON
// for the cache tier, and form the core data layer of the admissions
// assistant.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Message roles accepted in a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Profile is an applicant record keyed by phone number. Each phone owns at
// most one profile; the durable store enforces this with a unique index.
//
// Fields:
//   - ID: server-assigned identifier, stable across upserts.
//   - Phone: the natural key (mainland mobile number).
//   - ExamType / UserType / Province / Ethnicity: form attributes.
//   - Score: optional; when present it is a non-negative number kept verbatim
//     as the applicant typed it.
//   - Extra: open extension fields. On the wire they sit at the top level of
//     the JSON object next to the core fields.
//   - CreatedAt: set once on insert. UpdatedAt: set on every durable write.
type Profile struct {
	ID        string            `json:"_id"        gorm:"type:varchar(36);primaryKey"`
	Phone     string            `json:"phone"      gorm:"type:varchar(20);not null;uniqueIndex:ux_users_phone"`
	ExamType  string            `json:"examType"   gorm:"type:varchar(64)"`
	UserType  string            `json:"userType"   gorm:"type:varchar(64)"`
	Province  string            `json:"province"   gorm:"type:varchar(64)"`
	Ethnicity string            `json:"ethnicity"  gorm:"type:varchar(64)"`
	Score     string            `json:"score"      gorm:"type:varchar(16)"`
	Extra     datatypes.JSONMap `json:"-"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "users" }

// coreProfileKeys are the JSON keys owned by typed Profile fields. Anything
// else is an extension field.
var coreProfileKeys = map[string]struct{}{
	"_id": {}, "phone": {}, "examType": {}, "userType": {}, "province": {},
	"ethnicity": {}, "score": {}, "createdAt": {}, "updatedAt": {},
}

// IsCoreProfileKey reports whether key is owned by a typed Profile field.
func IsCoreProfileKey(key string) bool {
	_, ok := coreProfileKeys[key]
	return ok
}

// MarshalJSON flattens Extra into the top-level object. Typed fields win on
// key collisions. Empty ID, score and zero timestamps are omitted.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+9)
	for k, v := range p.Extra {
		if !IsCoreProfileKey(k) {
			out[k] = v
		}
	}
	if p.ID != "" {
		out["_id"] = p.ID
	}
	out["phone"] = p.Phone
	setIfNotEmpty(out, "examType", p.ExamType)
	setIfNotEmpty(out, "userType", p.UserType)
	setIfNotEmpty(out, "province", p.Province)
	setIfNotEmpty(out, "ethnicity", p.Ethnicity)
	setIfNotEmpty(out, "score", p.Score)
	if !p.CreatedAt.IsZero() {
		out["createdAt"] = p.CreatedAt
	}
	if !p.UpdatedAt.IsZero() {
		out["updatedAt"] = p.UpdatedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat object: known keys fill typed fields and every
// other key is preserved in Extra. Score may be sent as a JSON string or a
// JSON number; numbers are kept in their literal form.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Profile{}
	for k, v := range raw {
		var err error
		switch k {
		case "_id":
			err = decodeString(v, &p.ID)
		case "phone":
			err = decodeString(v, &p.Phone)
		case "examType":
			err = decodeString(v, &p.ExamType)
		case "userType":
			err = decodeString(v, &p.UserType)
		case "province":
			err = decodeString(v, &p.Province)
		case "ethnicity":
			err = decodeString(v, &p.Ethnicity)
		case "score":
			err = decodeScore(v, &p.Score)
		case "createdAt":
			err = decodeTime(v, &p.CreatedAt)
		case "updatedAt":
			err = decodeTime(v, &p.UpdatedAt)
		default:
			var val any
			if err = json.Unmarshal(v, &val); err == nil {
				if p.Extra == nil {
					p.Extra = datatypes.JSONMap{}
				}
				p.Extra[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("profile field %q: %w", k, err)
		}
	}
	return nil
}

func setIfNotEmpty(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func decodeString(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func decodeScore(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	if t := bytes.TrimSpace(raw); len(t) > 0 && t[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(t, &n); err != nil {
			return err
		}
		*dst = n.String()
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func decodeTime(raw json.RawMessage, dst *time.Time) error {
	if isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Message is a single utterance in a transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript holds the full conversation for a phone. Each save replaces the
// whole message sequence; ordering is conversation order.
type Transcript struct {
	ID        string                       `json:"_id"       gorm:"type:varchar(36);primaryKey"`
	Phone     string                       `json:"phone"     gorm:"type:varchar(20);not null;uniqueIndex:ux_transcripts_phone"`
	Messages  datatypes.JSONSlice[Message] `json:"messages"`
	CreatedAt time.Time                    `json:"createdAt"`
	UpdatedAt time.Time                    `json:"updatedAt"`
}

// TableName returns the database table name for Transcript.
func (Transcript) TableName() string { return "transcripts" }
