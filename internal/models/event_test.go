package models

import (
	"encoding/json"
	"testing"
)

func TestDecodeEventVariants(t *testing.T) {
	ev, err := DecodeEvent("fish_caught", json.RawMessage(`{"fishSpecies":"marlin","isNewSpecies":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fc, ok := ev.(FishCaught)
	if !ok {
		t.Fatalf("expected FishCaught, got %T", ev)
	}
	if fc.FishSpecies != "marlin" || !fc.IsNewSpecies {
		t.Fatalf("unexpected payload %+v", fc)
	}
	if fc.Type() != EventFishCaught {
		t.Fatalf("unexpected type %q", fc.Type())
	}
}

func TestDecodeEventMissingPayloadIsZeroValue(t *testing.T) {
	for _, name := range KnownEventTypes {
		for _, raw := range []json.RawMessage{nil, json.RawMessage(`null`), json.RawMessage(`{}`)} {
			ev, err := DecodeEvent(string(name), raw)
			if err != nil {
				t.Fatalf("decode %s with %q: %v", name, raw, err)
			}
			if ev.Type() != name {
				t.Fatalf("expected type %s, got %s", name, ev.Type())
			}
		}
	}
}

func TestDecodeEventUnknownIsNotAnError(t *testing.T) {
	ev, err := DecodeEvent("foo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ev.(UnknownEvent); !ok {
		t.Fatalf("expected UnknownEvent, got %T", ev)
	}
	if ev.Type() != "foo" {
		t.Fatalf("expected type foo, got %q", ev.Type())
	}
}

func TestDecodeEventRejectsWrongFieldTypes(t *testing.T) {
	if _, err := DecodeEvent("event_created", json.RawMessage(`{"participantCount":"many"}`)); err == nil {
		t.Fatal("expected error for string participantCount")
	}
}

func TestPercentAndRarity(t *testing.T) {
	if got := Percent(1, 3); got != 33.3 {
		t.Fatalf("Percent(1,3) = %v", got)
	}
	if got := Percent(5, 3); got != 100 {
		t.Fatalf("Percent(5,3) = %v", got)
	}
	if got := Percent(1, 0); got != 0 {
		t.Fatalf("Percent(1,0) = %v", got)
	}
	if r, err := ParseRarity("legendary"); err != nil || r != RarityLegendary {
		t.Fatalf("ParseRarity legendary = %q, %v", r, err)
	}
	if _, err := ParseRarity("shiny"); err == nil {
		t.Fatal("expected unknown rarity error")
	}
}
