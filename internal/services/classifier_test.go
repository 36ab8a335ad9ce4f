package services

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

func TestClassifyFishCaughtNewMarlin(t *testing.T) {
	got := Classify(models.FishCaught{FishSpecies: "marlin", IsNewSpecies: true})
	want := []Increment{
		{AchievementType: "MARLIN_LEGEND", Amount: 1},
		{AchievementType: "SPECIES_COLLECTOR", Amount: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Classify = %+v, want %+v", got, want)
	}
}

func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name string
		ev   models.Event
		want []string
	}{
		{"unlisted species", models.FishCaught{FishSpecies: "snapper"}, nil},
		{"sea bass spelling", models.FishCaught{FishSpecies: "Sea Bass"}, []string{"SEABASS_SPECIALIST"}},
		{"new unlisted species", models.FishCaught{FishSpecies: "snapper", IsNewSpecies: true}, []string{"SPECIES_COLLECTOR"}},
		{"technique", models.TechniqueUsed{Technique: "trolling"}, []string{"TROLLING_PRO"}},
		{"unknown technique", models.TechniqueUsed{Technique: "noodling"}, nil},
		{"deep sea reliable trip", models.TripCompleted{LocationType: "deep-sea", IsReliable: true}, []string{"TRIP_VETERAN", "DEEP_SEA_EXPLORER", "RELIABLE_CAPTAIN"}},
		{"plain trip", models.TripCompleted{}, []string{"TRIP_VETERAN"}},
		{"review with photos", models.ReviewLeft{HasPhotos: true}, []string{"REVIEW_WRITER", "PHOTO_REVIEWER"}},
		{"small event", models.EventCreated{ParticipantCount: 9}, []string{"EVENT_ORGANIZER"}},
		{"big event", models.EventCreated{ParticipantCount: 10}, []string{"EVENT_ORGANIZER", "COMMUNITY_BUILDER"}},
		{"rescue", models.UserHelped{HelpType: "rescue"}, []string{"LIFESAVER"}},
		{"other help", models.UserHelped{HelpType: "lift"}, nil},
		{"new cabo visit", models.LocationVisited{LocationID: "cabo_san_lucas", IsNewLocation: true}, []string{"LOCATION_EXPLORER", "CABO_REGULAR"}},
		{"repeat visit elsewhere", models.LocationVisited{LocationID: "ensenada"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.ev)
			var types []string
			for _, inc := range got {
				if inc.Amount != 1 {
					t.Fatalf("expected unit increments, got %+v", inc)
				}
				types = append(types, inc.AchievementType)
			}
			if !reflect.DeepEqual(types, tc.want) {
				t.Fatalf("Classify(%+v) = %v, want %v", tc.ev, types, tc.want)
			}
		})
	}
}

func TestClassifyUnknownEventIsEmpty(t *testing.T) {
	ev, err := models.DecodeEvent("foo", json.RawMessage(`{"anything":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := Classify(ev)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestClassifyIsTotalOverKnownEventsAndPayloadShapes(t *testing.T) {
	payloads := []string{``, `null`, `{}`, `{"unexpected":"field"}`}
	for _, name := range models.KnownEventTypes {
		for _, p := range payloads {
			ev, err := models.DecodeEvent(string(name), json.RawMessage(p))
			if err != nil {
				t.Fatalf("decode %s %q: %v", name, p, err)
			}
			if got := Classify(ev); got == nil {
				t.Fatalf("Classify(%s, %q) returned nil", name, p)
			}
		}
	}
}

func TestClassifierTargetsExistInDefaultCatalog(t *testing.T) {
	catalog, err := NewCatalog(DefaultAchievements())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	tables := []map[string]string{speciesAchievements, techniqueAchievements, tripLocationAchievements, helpAchievements, fixedLocationAchievements}
	for _, table := range tables {
		for _, typ := range table {
			if _, ok := catalog.Lookup(typ); !ok {
				t.Fatalf("classifier target %s missing from catalog", typ)
			}
		}
	}
	for _, typ := range []string{"SPECIES_COLLECTOR", "TRIP_VETERAN", "RELIABLE_CAPTAIN", "REVIEW_WRITER", "PHOTO_REVIEWER", "EVENT_ORGANIZER", "COMMUNITY_BUILDER", "LOCATION_EXPLORER"} {
		if _, ok := catalog.Lookup(typ); !ok {
			t.Fatalf("classifier target %s missing from catalog", typ)
		}
	}
}
