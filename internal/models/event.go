package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventTripCompleted   EventType = "trip_completed"
	EventFishCaught      EventType = "fish_caught"
	EventTechniqueUsed   EventType = "technique_used"
	EventReviewLeft      EventType = "review_left"
	EventEventCreated    EventType = "event_created"
	EventUserHelped      EventType = "user_helped"
	EventLocationVisited EventType = "location_visited"
)

// KnownEventTypes lists every event type the classifier has rules for.
var KnownEventTypes = []EventType{
	EventTripCompleted,
	EventFishCaught,
	EventTechniqueUsed,
	EventReviewLeft,
	EventEventCreated,
	EventUserHelped,
	EventLocationVisited,
}

// Event is a domain event payload. Each variant has its own shape.
type Event interface {
	Type() EventType
}

type TripCompleted struct {
	TripID       string `json:"tripId"`
	LocationType string `json:"locationType"` // deep_sea, coastal, inshore, ...
	IsReliable   bool   `json:"isReliable"`   // captain completed the trip on schedule
}

type FishCaught struct {
	FishSpecies  string  `json:"fishSpecies"`
	IsNewSpecies bool    `json:"isNewSpecies"`
	WeightKg     float64 `json:"weightKg"`
}

type TechniqueUsed struct {
	Technique string `json:"technique"`
}

type ReviewLeft struct {
	TripID    string `json:"tripId"`
	Rating    int    `json:"rating"`
	HasPhotos bool   `json:"hasPhotos"`
}

type EventCreated struct {
	EventID          string `json:"eventId"`
	ParticipantCount int    `json:"participantCount"`
}

type UserHelped struct {
	HelpedUserID string `json:"helpedUserId"`
	HelpType     string `json:"helpType"` // mentoring, rescue, advice
}

type LocationVisited struct {
	LocationID    string `json:"locationId"`
	IsNewLocation bool   `json:"isNewLocation"`
}

// UnknownEvent carries an event type the classifier has no rules for.
type UnknownEvent struct {
	Name string          `json:"-"`
	Data json.RawMessage `json:"-"`
}

func (TripCompleted) Type() EventType   { return EventTripCompleted }
func (FishCaught) Type() EventType      { return EventFishCaught }
func (TechniqueUsed) Type() EventType   { return EventTechniqueUsed }
func (ReviewLeft) Type() EventType      { return EventReviewLeft }
func (EventCreated) Type() EventType    { return EventEventCreated }
func (UserHelped) Type() EventType      { return EventUserHelped }
func (LocationVisited) Type() EventType { return EventLocationVisited }
func (e UnknownEvent) Type() EventType  { return EventType(e.Name) }

// DecodeEvent turns a wire event name and its raw payload into a typed Event.
// Missing or null payloads decode to the zero value of the variant. Unknown
// names are returned as UnknownEvent, not as an error.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	var ev Event
	switch EventType(name) {
	case EventTripCompleted:
		ev = &TripCompleted{}
	case EventFishCaught:
		ev = &FishCaught{}
	case EventTechniqueUsed:
		ev = &TechniqueUsed{}
	case EventReviewLeft:
		ev = &ReviewLeft{}
	case EventEventCreated:
		ev = &EventCreated{}
	case EventUserHelped:
		ev = &UserHelped{}
	case EventLocationVisited:
		ev = &LocationVisited{}
	default:
		return UnknownEvent{Name: name, Data: data}, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, ev); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", name, err)
		}
	}

	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *TripCompleted:
		return *e
	case *FishCaught:
		return *e
	case *TechniqueUsed:
		return *e
	case *ReviewLeft:
		return *e
	case *EventCreated:
		return *e
	case *UserHelped:
		return *e
	case *LocationVisited:
		return *e
	}
	return ev
}
