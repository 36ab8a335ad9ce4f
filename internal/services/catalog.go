package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/schollz/closestmatch"

	"github.com/tahcohcat/fishtrip-achievements/internal/database"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

// Catalog is the read-only achievement table, keyed by type.
type Catalog struct {
	byType  map[string]models.Achievement
	ordered []models.Achievement
	matcher *closestmatch.ClosestMatch
}

func NewCatalog(entries []models.Achievement) (*Catalog, error) {
	c := &Catalog{byType: make(map[string]models.Achievement, len(entries))}
	names := make([]string, 0, len(entries))

	for _, a := range entries {
		if a.Type == "" {
			return nil, fmt.Errorf("achievement with empty type")
		}
		if a.MaxProgress <= 0 {
			return nil, fmt.Errorf("achievement %s: max progress must be positive, got %d", a.Type, a.MaxProgress)
		}
		if _, err := models.ParseRarity(string(a.Rarity)); err != nil {
			return nil, fmt.Errorf("achievement %s: %w", a.Type, err)
		}
		if _, dup := c.byType[a.Type]; dup {
			return nil, fmt.Errorf("duplicate achievement type %s", a.Type)
		}
		c.byType[a.Type] = a
		c.ordered = append(c.ordered, a)
		names = append(names, a.Type)
	}

	sort.SliceStable(c.ordered, func(i, j int) bool {
		if c.ordered[i].Category != c.ordered[j].Category {
			return c.ordered[i].Category < c.ordered[j].Category
		}
		return c.ordered[i].Type < c.ordered[j].Type
	})
	if len(names) > 0 {
		c.matcher = closestmatch.New(names, []int{2, 3})
	}
	return c, nil
}

func (c *Catalog) Lookup(achievementType string) (models.Achievement, bool) {
	a, ok := c.byType[achievementType]
	return a, ok
}

// All returns the catalog ordered by category then type.
func (c *Catalog) All() []models.Achievement {
	out := make([]models.Achievement, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.ordered))
	for _, a := range c.ordered {
		out = append(out, a.Type)
	}
	return out
}

// Suggest returns the closest known type to an unknown one, or "".
func (c *Catalog) Suggest(achievementType string) string {
	if c.matcher == nil {
		return ""
	}
	// closestmatch indexes candidates lower-cased but matches the query as given.
	return c.matcher.Closest(strings.ToLower(strings.TrimSpace(achievementType)))
}

// SeedCatalog inserts every catalog entry that is not in the database yet.
func SeedCatalog(ctx context.Context, db *database.DB, c *Catalog) error {
	query := db.Rebind(`
		INSERT INTO achievements (type, name, description, icon, category, rarity, max_progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type) DO NOTHING
	`)
	now := time.Now().UTC()
	for _, a := range c.ordered {
		_, err := db.ExecContext(ctx, query, a.Type, a.Name, a.Description, a.Icon, a.Category, a.Rarity, a.MaxProgress, now)
		if err != nil {
			return fmt.Errorf("failed to seed achievement %s: %w", a.Type, err)
		}
	}
	return nil
}

// LoadCatalog reads the deployed catalog back from the database.
func LoadCatalog(ctx context.Context, db *database.DB) (*Catalog, error) {
	var entries []models.Achievement
	err := db.SelectContext(ctx, &entries,
		`SELECT type, name, description, icon, category, rarity, max_progress, created_at FROM achievements`)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	return NewCatalog(entries)
}

// DefaultAchievements is the catalog seeded at deploy time.
func DefaultAchievements() []models.Achievement {
	return []models.Achievement{
		// species
		{Type: "TUNA_MASTER", Icon: "🐟", Name: "Tuna Master", Description: "Land 3 tuna", Category: "species", Rarity: models.RarityUncommon, MaxProgress: 3},
		{Type: "DORADO_HUNTER", Icon: "🐠", Name: "Dorado Hunter", Description: "Land 5 dorado", Category: "species", Rarity: models.RarityUncommon, MaxProgress: 5},
		{Type: "SEABASS_SPECIALIST", Icon: "🎣", Name: "Seabass Specialist", Description: "Land 10 seabass", Category: "species", Rarity: models.RarityRare, MaxProgress: 10},
		{Type: "MARLIN_LEGEND", Icon: "🗡️", Name: "Marlin Legend", Description: "Land a marlin", Category: "species", Rarity: models.RarityLegendary, MaxProgress: 1},
		{Type: "SPECIES_COLLECTOR", Icon: "📚", Name: "Species Collector", Description: "Catch 10 different species", Category: "species", Rarity: models.RarityEpic, MaxProgress: 10},

		// technique
		{Type: "FLY_FISHING_EXPERT", Icon: "🪰", Name: "Fly Fishing Expert", Description: "Fish with a fly rod on 5 trips", Category: "technique", Rarity: models.RarityRare, MaxProgress: 5},
		{Type: "TROLLING_PRO", Icon: "🚤", Name: "Trolling Pro", Description: "Troll on 5 trips", Category: "technique", Rarity: models.RarityUncommon, MaxProgress: 5},
		{Type: "JIGGING_MASTER", Icon: "🪝", Name: "Jigging Master", Description: "Jig on 5 trips", Category: "technique", Rarity: models.RarityUncommon, MaxProgress: 5},
		{Type: "BOTTOM_FISHING_ACE", Icon: "⚓", Name: "Bottom Fishing Ace", Description: "Bottom fish on 5 trips", Category: "technique", Rarity: models.RarityCommon, MaxProgress: 5},

		// trips
		{Type: "TRIP_VETERAN", Icon: "🧭", Name: "Trip Veteran", Description: "Complete 25 trips", Category: "trips", Rarity: models.RarityEpic, MaxProgress: 25},
		{Type: "DEEP_SEA_EXPLORER", Icon: "🌊", Name: "Deep Sea Explorer", Description: "Complete 3 deep sea trips", Category: "trips", Rarity: models.RarityRare, MaxProgress: 3},
		{Type: "COASTAL_NAVIGATOR", Icon: "🏝️", Name: "Coastal Navigator", Description: "Complete 5 coastal trips", Category: "trips", Rarity: models.RarityCommon, MaxProgress: 5},
		{Type: "RELIABLE_CAPTAIN", Icon: "⏱️", Name: "Reliable Captain", Description: "Run 20 trips on schedule", Category: "trips", Rarity: models.RarityMythic, MaxProgress: 20},

		// reviews
		{Type: "REVIEW_WRITER", Icon: "✍️", Name: "Review Writer", Description: "Leave 5 reviews", Category: "reviews", Rarity: models.RarityCommon, MaxProgress: 5},
		{Type: "PHOTO_REVIEWER", Icon: "📸", Name: "Photo Reviewer", Description: "Leave 3 reviews with photos", Category: "reviews", Rarity: models.RarityUncommon, MaxProgress: 3},

		// community
		{Type: "EVENT_ORGANIZER", Icon: "📅", Name: "Event Organizer", Description: "Create 3 events", Category: "community", Rarity: models.RarityUncommon, MaxProgress: 3},
		{Type: "COMMUNITY_BUILDER", Icon: "🤝", Name: "Community Builder", Description: "Host an event with 10 or more anglers", Category: "community", Rarity: models.RarityRare, MaxProgress: 1},
		{Type: "MENTOR", Icon: "🧑‍🏫", Name: "Mentor", Description: "Mentor 5 anglers", Category: "community", Rarity: models.RarityEpic, MaxProgress: 5},
		{Type: "LIFESAVER", Icon: "🛟", Name: "Lifesaver", Description: "Help in a rescue", Category: "community", Rarity: models.RarityLegendary, MaxProgress: 1},
		{Type: "HELPFUL_ANGLER", Icon: "💬", Name: "Helpful Angler", Description: "Give advice 10 times", Category: "community", Rarity: models.RarityCommon, MaxProgress: 10},

		// exploration
		{Type: "LOCATION_EXPLORER", Icon: "🗺️", Name: "Location Explorer", Description: "Visit 5 new fishing spots", Category: "exploration", Rarity: models.RarityRare, MaxProgress: 5},
		{Type: "CABO_REGULAR", Icon: "🌅", Name: "Cabo Regular", Description: "Fish Cabo San Lucas 5 times", Category: "exploration", Rarity: models.RarityUncommon, MaxProgress: 5},
		{Type: "LA_PAZ_LOCAL", Icon: "🏖️", Name: "La Paz Local", Description: "Fish La Paz 5 times", Category: "exploration", Rarity: models.RarityUncommon, MaxProgress: 5},
	}
}
