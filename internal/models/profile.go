package models

import "encoding/json"

// ProfileData holds the profile attributes the subsystem reasons about.
// Anything else a client sends is kept in Extra and written back flat.
type ProfileData struct {
	DisplayName     string `json:"displayName,omitempty"`
	Bio             string `json:"bio,omitempty"`
	Followers       int64  `json:"followers,omitempty"`
	Following       int64  `json:"following,omitempty"`
	PostCount       int64  `json:"postCount,omitempty"`
	AccountAgeDays  int64  `json:"accountAgeDays,omitempty"`
	Verified        bool   `json:"verified,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

var profileKnownKeys = map[string]struct{}{
	"displayName":     {},
	"bio":             {},
	"followers":       {},
	"following":       {},
	"postCount":       {},
	"accountAgeDays":  {},
	"verified":        {},
	"profileImageUrl": {},
}

type profileFields ProfileData

func (p ProfileData) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(profileFields(p))
	if err != nil || len(p.Extra) == 0 {
		return base, err
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+len(profileKnownKeys))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.Extra {
		if _, known := profileKnownKeys[key]; known {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[key] = raw
	}
	return json.Marshal(merged)
}

func (p *ProfileData) UnmarshalJSON(data []byte) error {
	var fields profileFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key := range profileKnownKeys {
		delete(all, key)
	}

	*p = ProfileData(fields)
	p.Extra = nil
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}
