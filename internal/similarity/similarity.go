// Package similarity scores pairwise complaint similarity from text edit
// distance, geographic proximity and submission time proximity, each
// component on a 0-100 scale.
package similarity

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
)

// earthRadiusKm is the Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Reason readability thresholds: a sub-score only contributes to the
// human-readable reason when it clears these.
const (
	reasonTitleThreshold       = 70.0
	reasonDescriptionThreshold = 60.0
	reasonLocationThreshold    = 70.0
)

// TextSimilarity scores two strings on a 0-100 scale. Comparison is
// case-insensitive and trimmed; identical strings score 100, otherwise the
// score is derived from Levenshtein edit distance relative to the longer
// string. Either string blank scores 0.
func TextSimilarity(text1, text2 string) float64 {
	text1 = strings.ToLower(strings.TrimSpace(text1))
	text2 = strings.ToLower(strings.TrimSpace(text2))

	if text1 == "" || text2 == "" {
		return 0
	}

	if text1 == text2 {
		return 100
	}

	distance := levenshtein.ComputeDistance(text1, text2)
	maxLength := len([]rune(text1))
	if l := len([]rune(text2)); l > maxLength {
		maxLength = l
	}

	score := (1.0 - float64(distance)/float64(maxLength)) * 100
	return math.Max(0, score)
}

// TimeProximity scores two submission timestamps in stepped bands: under a
// day apart scores 100, decreasing to 0 beyond two weeks.
func TimeProximity(t1, t2 time.Time) float64 {
	diff := math.Abs(t1.Sub(t2).Hours() / 24)

	switch {
	case diff < 1:
		return 100
	case diff < 3:
		return 75
	case diff < 7:
		return 50
	case diff < 14:
		return 25
	default:
		return 0
	}
}

// HaversineKm returns the great-circle distance in kilometers between two
// coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// LocationSimilarity scores the locations of two complaints. Free-text
// locations are compared with TextSimilarity; when both complaints also
// carry GPS coordinates the text score is averaged with a distance-derived
// score that reaches zero at roughly one kilometer. Either location blank
// scores 0.
func LocationSimilarity(c1, c2 *database.Complaint) float64 {
	if strings.TrimSpace(c1.Location) == "" || strings.TrimSpace(c2.Location) == "" {
		return 0
	}

	textScore := TextSimilarity(c1.Location, c2.Location)

	if c1.Latitude != nil && c1.Longitude != nil && c2.Latitude != nil && c2.Longitude != nil {
		distanceKm := HaversineKm(*c1.Latitude, *c1.Longitude, *c2.Latitude, *c2.Longitude)
		gpsScore := math.Max(0, 100-distanceKm*100)
		return (textScore + gpsScore) / 2
	}

	return textScore
}

// Scorer combines the component similarities into a weighted overall score.
type Scorer struct {
	weights config.SimilarityConfig
}

// NewScorer creates a scorer with the configured component weights
func NewScorer(cfg config.SimilarityConfig) Scorer {
	return Scorer{weights: cfg}
}

// Score computes the weighted similarity between two complaints on a 0-100
// scale.
func (s Scorer) Score(c1, c2 *database.Complaint) float64 {
	titleScore := TextSimilarity(c1.Title, c2.Title)
	descriptionScore := TextSimilarity(c1.Description, c2.Description)
	locationScore := LocationSimilarity(c1, c2)
	timeScore := TimeProximity(c1.SubmittedAt, c2.SubmittedAt)

	return titleScore*s.weights.TitleWeight +
		descriptionScore*s.weights.DescriptionWeight +
		locationScore*s.weights.LocationWeight +
		timeScore*s.weights.TimeWeight
}

// BuildReason produces the human-readable explanation for a candidate match
// from whichever sub-scores individually clear their readability thresholds.
func (s Scorer) BuildReason(c1, c2 *database.Complaint) string {
	var reasons []string

	if titleSim := TextSimilarity(c1.Title, c2.Title); titleSim > reasonTitleThreshold {
		reasons = append(reasons, fmt.Sprintf("Similar titles (%.0f%%)", titleSim))
	}

	if descSim := TextSimilarity(c1.Description, c2.Description); descSim > reasonDescriptionThreshold {
		reasons = append(reasons, fmt.Sprintf("Similar descriptions (%.0f%%)", descSim))
	}

	if strings.TrimSpace(c1.Location) != "" && strings.TrimSpace(c2.Location) != "" {
		if locSim := TextSimilarity(c1.Location, c2.Location); locSim > reasonLocationThreshold {
			reasons = append(reasons, fmt.Sprintf("Same location (%.0f%%)", locSim))
		}
	}

	timeDiff := math.Abs(c1.SubmittedAt.Sub(c2.SubmittedAt).Hours() / 24)
	if timeDiff < 1 {
		reasons = append(reasons, "Submitted same day")
	} else if timeDiff < 3 {
		reasons = append(reasons, fmt.Sprintf("Submitted %.0f days apart", timeDiff))
	}

	if len(reasons) == 0 {
		return "Multiple similarities detected"
	}

	return strings.Join(reasons, ", ")
}

// Round2 rounds a similarity score to two decimals for presentation and
// link audit records.
func Round2(score float64) float64 {
	return math.Round(score*100) / 100
}
