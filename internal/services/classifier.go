package services

import (
	"strings"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

// Increment is one unit of work produced by the classifier.
type Increment struct {
	AchievementType string `json:"achievementType"`
	Amount          int    `json:"amount"`
}

var speciesAchievements = map[string]string{
	"tuna":    "TUNA_MASTER",
	"dorado":  "DORADO_HUNTER",
	"seabass": "SEABASS_SPECIALIST",
	"marlin":  "MARLIN_LEGEND",
}

var techniqueAchievements = map[string]string{
	"fly_fishing":    "FLY_FISHING_EXPERT",
	"trolling":       "TROLLING_PRO",
	"jigging":        "JIGGING_MASTER",
	"bottom_fishing": "BOTTOM_FISHING_ACE",
}

var tripLocationAchievements = map[string]string{
	"deep_sea": "DEEP_SEA_EXPLORER",
	"coastal":  "COASTAL_NAVIGATOR",
}

var helpAchievements = map[string]string{
	"mentoring": "MENTOR",
	"rescue":    "LIFESAVER",
	"advice":    "HELPFUL_ANGLER",
}

var fixedLocationAchievements = map[string]string{
	"cabo_san_lucas": "CABO_REGULAR",
	"la_paz":         "LA_PAZ_LOCAL",
}

const communityBuilderMinParticipants = 10

// Classify maps an event to the increments it earns. It never fails: unknown
// events and empty payloads produce no increments.
func Classify(ev models.Event) []Increment {
	out := []Increment{}
	one := func(achievementType string) {
		out = append(out, Increment{AchievementType: achievementType, Amount: 1})
	}
	lookup := func(table map[string]string, key string) {
		if t, ok := table[normalizeKey(key)]; ok {
			one(t)
		}
	}

	switch e := ev.(type) {
	case models.FishCaught:
		lookup(speciesAchievements, e.FishSpecies)
		if e.IsNewSpecies {
			one("SPECIES_COLLECTOR")
		}
	case models.TechniqueUsed:
		lookup(techniqueAchievements, e.Technique)
	case models.TripCompleted:
		one("TRIP_VETERAN")
		lookup(tripLocationAchievements, e.LocationType)
		if e.IsReliable {
			one("RELIABLE_CAPTAIN")
		}
	case models.ReviewLeft:
		one("REVIEW_WRITER")
		if e.HasPhotos {
			one("PHOTO_REVIEWER")
		}
	case models.EventCreated:
		one("EVENT_ORGANIZER")
		if e.ParticipantCount >= communityBuilderMinParticipants {
			one("COMMUNITY_BUILDER")
		}
	case models.UserHelped:
		lookup(helpAchievements, e.HelpType)
	case models.LocationVisited:
		if e.IsNewLocation {
			one("LOCATION_EXPLORER")
		}
		lookup(fixedLocationAchievements, e.LocationID)
	}
	return out
}

// normalizeKey lowercases and folds spaces/dashes so "Sea Bass" and "deep-sea" match.
func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if s == "sea_bass" {
		return "seabass"
	}
	return s
}
