package triage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/metrics"
)

// Shared across tests; the collector registers with the default Prometheus
// registry and must only be built once per test binary.
var testMetrics = metrics.NewCollector()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTriageConfig() config.TriageConfig {
	return config.TriageConfig{
		OverloadThreshold: 50,
		RedirectLoadRatio: 0.7,
	}
}

type mockStore struct {
	complaints      map[int]*database.Complaint
	categories      map[int]*database.Category
	citizens        map[int]*database.Citizen
	departments     map[int]*database.Department
	unresolved      map[int]int
	departmentLoads map[int]int
	leastLoaded     *database.DepartmentLoad
}

func newMockStore() *mockStore {
	return &mockStore{
		complaints:      make(map[int]*database.Complaint),
		categories:      make(map[int]*database.Category),
		citizens:        make(map[int]*database.Citizen),
		departments:     make(map[int]*database.Department),
		unresolved:      make(map[int]int),
		departmentLoads: make(map[int]int),
	}
}

func (m *mockStore) GetComplaint(_ context.Context, id int) (*database.Complaint, error) {
	if c, ok := m.complaints[id]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) GetCategory(_ context.Context, id int) (*database.Category, error) {
	if c, ok := m.categories[id]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) GetCitizen(_ context.Context, id int) (*database.Citizen, error) {
	if c, ok := m.citizens[id]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) GetDepartment(_ context.Context, id int) (*database.Department, error) {
	if d, ok := m.departments[id]; ok {
		return d, nil
	}
	return nil, database.ErrNotFound
}

func (m *mockStore) CountUnresolvedByCitizen(_ context.Context, citizenID int) (int, error) {
	return m.unresolved[citizenID], nil
}

func (m *mockStore) CountOpenByDepartment(_ context.Context, departmentID int) (int, error) {
	return m.departmentLoads[departmentID], nil
}

func (m *mockStore) LeastLoadedActiveDepartment(_ context.Context) (*database.DepartmentLoad, error) {
	return m.leastLoaded, nil
}

func intPtr(v int) *int { return &v }

func TestCalculateSeverityScore(t *testing.T) {
	store := newMockStore()
	store.categories[1] = &database.Category{ID: 1, Name: "Roads", RiskLevel: database.RiskMedium}
	store.categories[2] = &database.Category{ID: 2, Name: "Public Safety", RiskLevel: database.RiskHigh}
	store.categories[3] = &database.Category{ID: 3, Name: "Parks", RiskLevel: database.RiskLow}
	store.citizens[10] = &database.Citizen{ID: 10}

	engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())
	ctx := context.Background()

	t.Run("Base Score Without Keywords", func(t *testing.T) {
		// base 30 + medium category 5
		score, err := engine.CalculateSeverityScore(ctx, "Quiet street", "Nothing notable", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 35, score)
	})

	t.Run("Each Keyword Tier Contributes Once", func(t *testing.T) {
		// base 30 + urgent 20 (two urgent keywords count once) + medium category 5
		score, err := engine.CalculateSeverityScore(ctx, "Emergency fire", "This is an emergency", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 55, score)
	})

	t.Run("Tiers Stack Independently", func(t *testing.T) {
		// base 30 + urgent 20 + high 10 + moderate 5 + medium category 5
		score, err := engine.CalculateSeverityScore(ctx,
			"Urgent broken pipe", "Needs repair immediately", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 70, score)
	})

	t.Run("High Risk Category Bonus", func(t *testing.T) {
		// base 30 + high-risk category 15
		score, err := engine.CalculateSeverityScore(ctx, "Quiet street", "Nothing notable", 2, 10)
		require.NoError(t, err)
		assert.Equal(t, 45, score)
	})

	t.Run("Low Risk Category No Bonus", func(t *testing.T) {
		score, err := engine.CalculateSeverityScore(ctx, "Quiet street", "Nothing notable", 3, 10)
		require.NoError(t, err)
		assert.Equal(t, 30, score)
	})

	t.Run("Missing Category Treated As Medium", func(t *testing.T) {
		score, err := engine.CalculateSeverityScore(ctx, "Quiet street", "Nothing notable", 999, 10)
		require.NoError(t, err)
		assert.Equal(t, 30, score)
	})

	t.Run("Repeat Complainant Bonus", func(t *testing.T) {
		store.citizens[11] = &database.Citizen{ID: 11}
		store.unresolved[11] = 4

		score, err := engine.CalculateSeverityScore(ctx, "Quiet street", "Nothing notable", 1, 11)
		require.NoError(t, err)
		assert.Equal(t, 45, score)
	})

	t.Run("Three Unresolved Is Not Enough For Bonus", func(t *testing.T) {
		store.citizens[12] = &database.Citizen{ID: 12}
		store.unresolved[12] = 3

		score, err := engine.CalculateSeverityScore(ctx, "Quiet street", "Nothing notable", 1, 12)
		require.NoError(t, err)
		assert.Equal(t, 35, score)
	})

	t.Run("All Bonuses Stack And Stay Bounded", func(t *testing.T) {
		store.citizens[13] = &database.Citizen{ID: 13}
		store.unresolved[13] = 10

		// base 30 + urgent 20 + high 10 + moderate 5 + high-risk category 15
		// + repeat complainant 10
		score, err := engine.CalculateSeverityScore(ctx,
			"Emergency broken gas leak", "Urgent repair of damaged and faulty main", 2, 13)
		require.NoError(t, err)
		assert.Equal(t, 90, score)
		assert.LessOrEqual(t, score, 100)
	})
}

// The keyword matchers live on one shared Engine that serves HTTP requests
// and the consumer goroutine at the same time, so scoring must stay correct
// under concurrency. Run with -race.
func TestCalculateSeverityScoreConcurrent(t *testing.T) {
	store := newMockStore()
	store.categories[1] = &database.Category{ID: 1, Name: "Roads", RiskLevel: database.RiskMedium}
	store.citizens[10] = &database.Citizen{ID: 10}

	engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())
	ctx := context.Background()

	// base 30 + urgent 20 + high 10 + moderate 5 + medium category 5
	const want = 70

	var wg sync.WaitGroup
	scores := make([]int, 64)
	errs := make([]error, 64)
	for i := range scores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scores[i], errs[i] = engine.CalculateSeverityScore(ctx,
				"Urgent broken pipe", "Needs repair immediately", 1, 10)
		}(i)
	}
	wg.Wait()

	for i := range scores {
		require.NoError(t, errs[i])
		assert.Equal(t, want, scores[i])
	}
}

func TestDetermineAutoPriority(t *testing.T) {
	engine := NewEngine(newMockStore(), testTriageConfig(), testMetrics, testLogger())

	tests := []struct {
		name       string
		score      int
		vulnerable bool
		expected   string
	}{
		{"Standard High", 70, false, database.PriorityHigh},
		{"Standard Medium", 40, false, database.PriorityMedium},
		{"Standard Low", 39, false, database.PriorityLow},
		{"Vulnerable High At 50", 50, true, database.PriorityHigh},
		{"Vulnerable Medium Below 50", 49, true, database.PriorityMedium},
		{"Vulnerable Never Low", 0, true, database.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, engine.DetermineAutoPriority(tt.score, tt.vulnerable))
		})
	}

	t.Run("Vulnerable Priority Never Below Standard", func(t *testing.T) {
		rank := map[string]int{
			database.PriorityLow:    0,
			database.PriorityMedium: 1,
			database.PriorityHigh:   2,
		}
		for score := 0; score <= 100; score += 5 {
			standard := engine.DetermineAutoPriority(score, false)
			vulnerable := engine.DetermineAutoPriority(score, true)
			assert.GreaterOrEqual(t, rank[vulnerable], rank[standard],
				"vulnerable priority dropped below standard at score %d", score)
		}
	})
}

func TestCheckVulnerableReporter(t *testing.T) {
	store := newMockStore()
	engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())
	ctx := context.Background()

	t.Run("Flagged Vulnerable", func(t *testing.T) {
		store.citizens[1] = &database.Citizen{ID: 1, IsVulnerable: true}
		vulnerable, err := engine.CheckVulnerableReporter(ctx, 1)
		require.NoError(t, err)
		assert.True(t, vulnerable)
	})

	t.Run("Has Disability", func(t *testing.T) {
		store.citizens[2] = &database.Citizen{ID: 2, HasDisability: true}
		vulnerable, err := engine.CheckVulnerableReporter(ctx, 2)
		require.NoError(t, err)
		assert.True(t, vulnerable)
	})

	t.Run("Elderly By Calendar Year", func(t *testing.T) {
		dob := time.Date(time.Now().Year()-65, 12, 31, 0, 0, 0, 0, time.UTC)
		store.citizens[3] = &database.Citizen{ID: 3, DateOfBirth: &dob}
		vulnerable, err := engine.CheckVulnerableReporter(ctx, 3)
		require.NoError(t, err)
		assert.True(t, vulnerable, "calendar-year age of 65 counts even before the birthday")
	})

	t.Run("Not Vulnerable", func(t *testing.T) {
		dob := time.Date(time.Now().Year()-30, 6, 1, 0, 0, 0, 0, time.UTC)
		store.citizens[4] = &database.Citizen{ID: 4, DateOfBirth: &dob}
		vulnerable, err := engine.CheckVulnerableReporter(ctx, 4)
		require.NoError(t, err)
		assert.False(t, vulnerable)
	})

	t.Run("Missing Citizen Is Not Vulnerable", func(t *testing.T) {
		vulnerable, err := engine.CheckVulnerableReporter(ctx, 999)
		require.NoError(t, err)
		assert.False(t, vulnerable)
	})
}

func TestRouteToMostSuitableDepartment(t *testing.T) {
	ctx := context.Background()

	t.Run("Existing Assignment Is Kept", func(t *testing.T) {
		engine := NewEngine(newMockStore(), testTriageConfig(), testMetrics, testLogger())
		current := intPtr(7)

		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 1, current)
		require.NoError(t, err)
		require.NotNil(t, departmentID)
		assert.Equal(t, 7, *departmentID)
	})

	t.Run("Default Department Under Load", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, DefaultDepartmentID: intPtr(3)}
		store.departmentLoads[3] = 10
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 1, nil)
		require.NoError(t, err)
		require.NotNil(t, departmentID)
		assert.Equal(t, 3, *departmentID)
	})

	t.Run("No Default Department Leaves Unrouted", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1}
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 1, nil)
		require.NoError(t, err)
		assert.Nil(t, departmentID)
	})

	t.Run("Missing Category Leaves Unrouted", func(t *testing.T) {
		engine := NewEngine(newMockStore(), testTriageConfig(), testMetrics, testLogger())

		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 999, nil)
		require.NoError(t, err)
		assert.Nil(t, departmentID)
	})

	t.Run("Overloaded Default Redirects To Least Loaded", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, DefaultDepartmentID: intPtr(3)}
		store.departmentLoads[3] = 80
		store.leastLoaded = &database.DepartmentLoad{DepartmentID: 5, OpenCount: 40}
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		// 40 < 80 * 0.7 so the redirect is a material gain
		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 1, nil)
		require.NoError(t, err)
		require.NotNil(t, departmentID)
		assert.Equal(t, 5, *departmentID)
	})

	t.Run("Marginal Gain Keeps Default", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, DefaultDepartmentID: intPtr(3)}
		store.departmentLoads[3] = 60
		store.leastLoaded = &database.DepartmentLoad{DepartmentID: 5, OpenCount: 50}
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		// 50 >= 60 * 0.7 so the default is kept despite being overloaded
		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 1, nil)
		require.NoError(t, err)
		require.NotNil(t, departmentID)
		assert.Equal(t, 3, *departmentID)
	})

	t.Run("No Active Alternate Keeps Default", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, DefaultDepartmentID: intPtr(3)}
		store.departmentLoads[3] = 80
		store.leastLoaded = nil
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		departmentID, err := engine.RouteToMostSuitableDepartment(ctx, 1, nil)
		require.NoError(t, err)
		require.NotNil(t, departmentID)
		assert.Equal(t, 3, *departmentID)
	})
}

func TestAssessComplaint(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing Complaint Fails", func(t *testing.T) {
		engine := NewEngine(newMockStore(), testTriageConfig(), testMetrics, testLogger())

		_, err := engine.AssessComplaint(ctx, 999)
		require.Error(t, err)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("Standard Reporter Medium Priority", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, Name: "Roads", RiskLevel: database.RiskMedium, DefaultDepartmentID: intPtr(3)}
		store.citizens[10] = &database.Citizen{ID: 10}
		store.departments[3] = &database.Department{ID: 3, Name: "Highways", IsActive: true}
		store.complaints[1] = &database.Complaint{
			ID: 1, Title: "Broken streetlight", Description: "The light needs repair",
			CategoryID: 1, CitizenID: 10,
		}
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		result, err := engine.AssessComplaint(ctx, 1)
		require.NoError(t, err)

		// base 30 + high tier 10 + moderate tier 5 + medium category 5
		assert.Equal(t, 50, result.SeverityScore)
		assert.Equal(t, database.PriorityMedium, result.Priority)
		assert.False(t, result.IsVulnerable)
		require.NotNil(t, result.DepartmentID)
		assert.Equal(t, 3, *result.DepartmentID)
		assert.Contains(t, result.TriageNotes, "Auto-triaged with severity score: 50/100.")
		assert.Contains(t, result.TriageNotes, "Priority set to: Medium.")
		assert.Contains(t, result.TriageNotes, "Routed to: Highways.")
	})

	t.Run("Vulnerable Reporter Elevated To High", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, Name: "Roads", RiskLevel: database.RiskMedium, DefaultDepartmentID: intPtr(3)}
		store.citizens[10] = &database.Citizen{ID: 10, IsVulnerable: true}
		store.departments[3] = &database.Department{ID: 3, Name: "Highways", IsActive: true}
		store.complaints[1] = &database.Complaint{
			ID: 1, Title: "Broken streetlight", Description: "The light needs repair",
			CategoryID: 1, CitizenID: 10,
		}
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		result, err := engine.AssessComplaint(ctx, 1)
		require.NoError(t, err)

		assert.Equal(t, 50, result.SeverityScore)
		assert.Equal(t, database.PriorityHigh, result.Priority, "vulnerable reporter at 50 is elevated to High")
		assert.True(t, result.IsVulnerable)
		assert.Contains(t, result.TriageNotes, "Reporter flagged as vulnerable - priority elevated.")
	})

	t.Run("Unrouted Complaint Notes It", func(t *testing.T) {
		store := newMockStore()
		store.categories[1] = &database.Category{ID: 1, Name: "Misc", RiskLevel: database.RiskLow}
		store.citizens[10] = &database.Citizen{ID: 10}
		store.complaints[1] = &database.Complaint{
			ID: 1, Title: "General feedback", Description: "Observations about the town square",
			CategoryID: 1, CitizenID: 10,
		}
		engine := NewEngine(store, testTriageConfig(), testMetrics, testLogger())

		result, err := engine.AssessComplaint(ctx, 1)
		require.NoError(t, err)

		assert.Nil(t, result.DepartmentID)
		assert.Contains(t, result.TriageNotes, "No department routing configured.")
	})
}
