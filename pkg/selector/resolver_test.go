package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// fakeLLM returns canned responses in order.
type fakeLLM struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) Call(_ context.Context, _, _ string, _ float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, nil
}

func snapshotAt(url string) *models.DomSnapshot {
	return &models.DomSnapshot{Content: "button \"Add to cart\"", URL: url, Title: "Shop"}
}

func TestResolve_ExplicitSelectorWins(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"selector": "#model"}`}}
	r := NewResolver(NewSmartDriver(), llm)

	step := models.ActionStep{ID: "s1", Action: models.ActionClick,
		Target: "add to cart", Selector: "#explicit"}
	sel, err := r.Resolve(context.Background(), "t1", step, snapshotAt("https://shop.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "#explicit", sel)
	assert.Zero(t, llm.calls)
}

func TestResolve_ModelResolutionAndCache(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"selector": "[data-testid='add-to-cart']"}`}}
	r := NewResolver(NewSmartDriver(), llm)
	snap := snapshotAt("https://shop.example.com/p/1")

	step := models.ActionStep{ID: "s1", Action: models.ActionClick, Target: "add to cart button"}
	sel, err := r.Resolve(context.Background(), "t1", step, snap)
	require.NoError(t, err)
	assert.Equal(t, "[data-testid='add-to-cart']", sel)
	assert.Equal(t, 1, llm.calls)

	// Second resolution on the same host hits the cache.
	sel2, err := r.Resolve(context.Background(), "t1", step, snap)
	require.NoError(t, err)
	assert.Equal(t, sel, sel2)
	assert.Equal(t, 1, llm.calls)

	// A different tenant misses the cache.
	_, err = r.Resolve(context.Background(), "t2", step, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
}

func TestResolve_FencedModelOutput(t *testing.T) {
	llm := &fakeLLM{responses: []string{"```json\n{\"selector\": \"#buy\"}\n```"}}
	r := NewResolver(NewSmartDriver(), llm)

	step := models.ActionStep{ID: "s1", Action: models.ActionClick, Target: "buy now"}
	sel, err := r.Resolve(context.Background(), "t1", step, snapshotAt("https://shop.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "#buy", sel)
}

func TestResolve_ConsentSentinel(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"selector": "#never-called"}`}}
	r := NewResolver(NewSmartDriver(), llm)

	for _, target := range []string{
		"Accept cookies button",
		"the GDPR consent dialog accept",
		"privacy agree control",
	} {
		step := models.ActionStep{ID: "s1", Action: models.ActionClick, Target: target}
		sel, err := r.Resolve(context.Background(), "t1", step, snapshotAt("https://shop.example.com"))
		require.NoError(t, err)
		assert.Equal(t, ConsentFallbackPrefix+target, sel)
	}
	assert.Zero(t, llm.calls)
}

func TestResolve_NoTargetNoSelector(t *testing.T) {
	r := NewResolver(NewSmartDriver(), &fakeLLM{responses: []string{"{}"}})
	step := models.ActionStep{ID: "s1", Action: models.ActionClick}
	_, err := r.Resolve(context.Background(), "t1", step, nil)
	assert.Error(t, err)
}

func TestResolve_ModelErrors(t *testing.T) {
	r := NewResolver(NewSmartDriver(), &fakeLLM{err: errors.New("model down")})
	step := models.ActionStep{ID: "s1", Action: models.ActionClick, Target: "buy"}
	_, err := r.Resolve(context.Background(), "t1", step, snapshotAt("https://shop.example.com"))
	assert.Error(t, err)

	r = NewResolver(NewSmartDriver(), &fakeLLM{responses: []string{`{"selector": ""}`}})
	_, err = r.Resolve(context.Background(), "t1", step, snapshotAt("https://shop.example.com"))
	assert.Error(t, err)
}

func TestRecordOutcome_EvictsFailingEntry(t *testing.T) {
	cache := NewSmartDriver()
	llm := &fakeLLM{responses: []string{`{"selector": "#stale"}`, `{"selector": "#fresh"}`}}
	r := NewResolver(cache, llm)
	snap := snapshotAt("https://shop.example.com")
	step := models.ActionStep{ID: "s1", Action: models.ActionClick, Target: "buy box"}

	sel, err := r.Resolve(context.Background(), "t1", step, snap)
	require.NoError(t, err)
	require.Equal(t, "#stale", sel)

	// Two failures with no successes evict the entry.
	r.RecordOutcome("t1", step, snap, sel, false)
	r.RecordOutcome("t1", step, snap, sel, false)

	sel, err = r.Resolve(context.Background(), "t1", step, snap)
	require.NoError(t, err)
	assert.Equal(t, "#fresh", sel)
}

func TestRecordOutcome_SuccessesKeepEntryAlive(t *testing.T) {
	cache := NewSmartDriver()
	cache.Store("t1", "buy box", "shop.example.com", "#good")

	// A success followed by a failure stays below the eviction margin.
	cache.RecordOutcome("t1", "buy box", "shop.example.com", true)
	cache.RecordOutcome("t1", "buy box", "shop.example.com", false)
	_, ok := cache.Lookup("t1", "buy box", "shop.example.com")
	assert.True(t, ok)

	cache.RecordOutcome("t1", "buy box", "shop.example.com", false)
	cache.RecordOutcome("t1", "buy box", "shop.example.com", false)
	_, ok = cache.Lookup("t1", "buy box", "shop.example.com")
	assert.False(t, ok)
}

func TestRecordOutcome_SentinelIgnored(t *testing.T) {
	cache := NewSmartDriver()
	r := NewResolver(cache, &fakeLLM{responses: []string{"{}"}})
	step := models.ActionStep{ID: "s1", Target: "accept cookies"}

	r.RecordOutcome("t1", step, snapshotAt("https://shop.example.com"),
		ConsentFallbackPrefix+"accept cookies", false)
	assert.Zero(t, cache.Len())
}

func TestIsConsentTarget(t *testing.T) {
	assert.True(t, IsConsentTarget("Accept Cookies"))
	assert.True(t, IsConsentTarget("gdpr banner"))
	assert.False(t, IsConsentTarget("add to cart"))
}
