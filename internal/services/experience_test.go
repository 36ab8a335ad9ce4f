package services

import (
	"context"
	"testing"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

func TestLevelFor(t *testing.T) {
	cases := map[int]int{0: 1, 99: 1, 100: 2, 399: 2, 400: 3, 900: 4, 1600: 5}
	for points, want := range cases {
		if got := LevelFor(points); got != want {
			t.Fatalf("LevelFor(%d) = %d, want %d", points, got, want)
		}
	}
}

func TestAwardExperienceOncePerAchievement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	got, err := env.ledger.AwardExperience(ctx, env.userID, "MARLIN_LEGEND", models.RarityLegendary)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if got != 800 {
		t.Fatalf("expected 800 points, got %d", got)
	}

	again, err := env.ledger.AwardExperience(ctx, env.userID, "MARLIN_LEGEND", models.RarityLegendary)
	if err != nil {
		t.Fatalf("repeat award: %v", err)
	}
	if again != 0 {
		t.Fatalf("repeat award granted %d points", again)
	}

	if _, err := env.ledger.AwardExperience(ctx, env.userID, "REVIEW_WRITER", models.RarityCommon); err != nil {
		t.Fatalf("second award: %v", err)
	}

	profile, err := env.ledger.GetProfile(ctx, env.userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.ExperiencePoints != 850 || profile.Level != 3 {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestGetProfileDefaults(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.ledger.GetProfile(context.Background(), "fresh-user")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Level != 1 || p.ExperiencePoints != 0 {
		t.Fatalf("unexpected default profile %+v", p)
	}
}
