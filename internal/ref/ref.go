// Package ref models references to users and other entities that may arrive
// either as a bare id or as an embedded profile summary.
package ref

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Summary is the populated form of a user reference.
type Summary struct {
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
	Location     string `json:"location"`
}

// Ref is either a raw id or an id with a populated Summary. The zero value is
// an empty reference.
type Ref struct {
	id      string
	summary *Summary
}

func New(id string) Ref {
	return Ref{id: strings.TrimSpace(id)}
}

func Populated(id string, summary Summary) Ref {
	return Ref{id: strings.TrimSpace(id), summary: &summary}
}

func (r Ref) ID() string     { return r.id }
func (r Ref) String() string { return r.id }
func (r Ref) IsZero() bool   { return r.id == "" }

func (r Ref) Summary() (Summary, bool) {
	if r.summary == nil {
		return Summary{}, false
	}
	return *r.summary, true
}

// WithSummary returns a populated copy of r.
func (r Ref) WithSummary(summary Summary) Ref {
	return Populated(r.id, summary)
}

type populatedJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
	Location     string `json:"location"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.summary == nil {
		return json.Marshal(r.id)
	}
	return json.Marshal(populatedJSON{
		ID:           r.id,
		Name:         r.summary.Name,
		ProfileImage: r.summary.ProfileImage,
		Location:     r.summary.Location,
	})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = Ref{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*r = New(id)
		return nil
	case '{':
		var raw map[string]any
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		id := ExtractID(raw)
		if id == "" {
			return fmt.Errorf("reference object has no _id or id")
		}
		summary := Summary{
			Name:         stringField(raw, "name"),
			ProfileImage: stringField(raw, "profileImage"),
			Location:     stringField(raw, "location"),
		}
		if summary == (Summary{}) {
			*r = New(id)
			return nil
		}
		*r = Populated(id, summary)
		return nil
	default:
		return fmt.Errorf("reference must be a string or object")
	}
}

func (r Ref) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.id, nil
}

func (r *Ref) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*r = Ref{}
	case string:
		*r = New(v)
	case []byte:
		*r = New(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ref.Ref", value)
	}
	return nil
}

// ExtractID normalises any reference shape to its id string. It accepts raw
// strings, Ref values and decoded documents carrying "_id" or "id". Unknown
// shapes yield "".
func ExtractID(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case Ref:
		return v.id
	case *Ref:
		if v == nil {
			return ""
		}
		return v.id
	case map[string]any:
		if id := ExtractID(v["_id"]); id != "" {
			return id
		}
		return ExtractID(v["id"])
	case map[string]string:
		if id := strings.TrimSpace(v["_id"]); id != "" {
			return id
		}
		return strings.TrimSpace(v["id"])
	case json.RawMessage:
		var parsed Ref
		if err := json.Unmarshal(v, &parsed); err != nil {
			return ""
		}
		return parsed.id
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// Same reports whether both references resolve to the same non-empty id.
func Same(a, b any) bool {
	left := ExtractID(a)
	return left != "" && left == ExtractID(b)
}

func stringField(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return value
}
