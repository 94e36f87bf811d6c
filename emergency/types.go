package emergency

import "fmt"

// Type is the category of an emergency or of the help a service offers.
type Type string

const (
	TypeMedical         Type = "medical"
	TypeFire            Type = "fire"
	TypePolice          Type = "police"
	TypeAccident        Type = "accident"
	TypeNaturalDisaster Type = "natural_disaster"
	TypePersonalSafety  Type = "personal_safety"
	TypeOther           Type = "other"
)

// Types lists every emergency category.
var Types = []Type{
	TypeMedical, TypeFire, TypePolice, TypeAccident,
	TypeNaturalDisaster, TypePersonalSafety, TypeOther,
}

var typeDisplayNames = map[Type]string{
	TypeMedical:         "Medical Emergency",
	TypeFire:            "Fire Emergency",
	TypePolice:          "Police Emergency",
	TypeAccident:        "Accident",
	TypeNaturalDisaster: "Natural Disaster",
	TypePersonalSafety:  "Personal Safety",
	TypeOther:           "Other Emergency",
}

// Valid reports whether t is a known category.
func (t Type) Valid() bool {
	_, ok := typeDisplayNames[t]
	return ok
}

// DisplayName returns the human-readable category name.
func (t Type) DisplayName() string {
	if name, ok := typeDisplayNames[t]; ok {
		return name
	}
	return string(t)
}

// Urgency ranks how time-critical an emergency is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

type urgencyPolicy struct {
	ttl      uint8
	priority int
	display  string
}

var urgencyPolicies = map[Urgency]urgencyPolicy{
	UrgencyCritical: {ttl: 10, priority: 1000, display: "Critical"},
	UrgencyHigh:     {ttl: 8, priority: 800, display: "High"},
	UrgencyMedium:   {ttl: 6, priority: 600, display: "Medium"},
	UrgencyLow:      {ttl: 4, priority: 400, display: "Low"},
}

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	_, ok := urgencyPolicies[u]
	return ok
}

// DisplayName returns the human-readable urgency.
func (u Urgency) DisplayName() string {
	if p, ok := urgencyPolicies[u]; ok {
		return p.display
	}
	return string(u)
}

// TTLFor returns the relay hop budget for an urgency. Higher urgency buys
// more hops. Unknown values get the low budget.
func TTLFor(u Urgency) uint8 {
	if p, ok := urgencyPolicies[u]; ok {
		return p.ttl
	}
	return urgencyPolicies[UrgencyLow].ttl
}

// PriorityOf returns the triage rank of an urgency, used only for sorting
// and display. Unknown values rank as low.
func PriorityOf(u Urgency) int {
	if p, ok := urgencyPolicies[u]; ok {
		return p.priority
	}
	return urgencyPolicies[UrgencyLow].priority
}

// ShouldPrioritize reports whether an urgency warrants immediate attention.
func ShouldPrioritize(u Urgency) bool {
	return u == UrgencyCritical || u == UrgencyHigh
}

// ResponseType is how a responder answered an SOS.
type ResponseType string

const (
	ResponseAcknowledged ResponseType = "acknowledged"
	ResponseEnRoute      ResponseType = "enroute"
	ResponseOnSite       ResponseType = "onsite"
	ResponseReferral     ResponseType = "referral"
	ResponseUnable       ResponseType = "unable"
)

var responseDisplayNames = map[ResponseType]string{
	ResponseAcknowledged: "Acknowledged",
	ResponseEnRoute:      "En Route",
	ResponseOnSite:       "On Site",
	ResponseReferral:     "Referring to Others",
	ResponseUnable:       "Unable to Help",
}

// Valid reports whether r is a known response type.
func (r ResponseType) Valid() bool {
	_, ok := responseDisplayNames[r]
	return ok
}

// DisplayName returns the human-readable response type.
func (r ResponseType) DisplayName() string {
	if name, ok := responseDisplayNames[r]; ok {
		return name
	}
	return string(r)
}

// ParseType parses a category name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: type %q", ErrInvalidRecord, s)
	}
	return t, nil
}

// ParseUrgency parses an urgency name.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	if !u.Valid() {
		return "", fmt.Errorf("%w: urgency %q", ErrInvalidRecord, s)
	}
	return u, nil
}
