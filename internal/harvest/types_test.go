package harvest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBBoxContains(t *testing.T) {
	t.Parallel()

	box := BBox{West: 4, South: 57, East: 32, North: 72}
	require.True(t, box.Contains(59.9, 10.7))
	require.False(t, box.Contains(56.9, 10.7))
	require.False(t, box.Contains(60, 33))

	wrap := BBox{West: 170, South: -50, East: -170, North: -30}
	require.True(t, wrap.Contains(-40, 175))
	require.True(t, wrap.Contains(-40, -175))
	require.False(t, wrap.Contains(-40, 0))
}

func TestCragCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	orig := Crag{
		SourceName:     "thecrag",
		SourceID:       "1",
		Lat:            Float(59),
		ClimbingStyles: []string{"sport"},
		BBox:           &BBox{West: 1},
	}
	cp := orig.Clone()
	*cp.Lat = 1
	cp.ClimbingStyles[0] = "trad"
	cp.BBox.West = 9

	require.InDelta(t, 59.0, *orig.Lat, 0)
	require.Equal(t, "sport", orig.ClimbingStyles[0])
	require.InDelta(t, 1.0, orig.BBox.West, 0)
}

func TestCragProvenance(t *testing.T) {
	t.Parallel()

	c := Crag{SourceName: "27crags", SourceID: "abc"}
	require.Equal(t, []string{"27crags:abc"}, c.Provenance())
	c.MergedFrom = []string{"27crags:abc", "thecrag:9"}
	require.Equal(t, []string{"27crags:abc", "thecrag:9"}, c.Provenance())
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()

	root := errors.New("boom")
	fe := &FetchError{Source: "s", URL: "https://x", StatusCode: 503, Attempts: 3, Kind: FetchExhausted, Err: root}
	se := &SourceError{Source: "s", Err: fmt.Errorf("list crags: %w", fe)}

	require.ErrorIs(t, se, root)
	var target *FetchError
	require.ErrorAs(t, se, &target)
	require.Equal(t, 503, target.StatusCode)
	require.Contains(t, fe.Error(), "last status 503")

	require.True(t, IsParseError(fmt.Errorf("wrapped: %w", &ParseError{Source: "s", Err: root})))
	require.False(t, IsParseError(root))
}

func TestRunSummaryHelpers(t *testing.T) {
	t.Parallel()

	s := RunSummary{Sources: []SourceSummary{
		{Name: "a", Status: SourceSucceeded, ParseErrors: 2},
		{Name: "b", Status: SourceFailed, ParseErrors: 1},
		{Name: "c", Status: SourceTimedOut},
	}}
	require.Equal(t, []string{"b", "c"}, s.FailedSources())
	require.Equal(t, 3, s.ParseErrors())
	require.Equal(t, "partial", s.Status())

	ok := RunSummary{RunID: "r1", PassedFilters: 7, Sources: []SourceSummary{{Name: "a", Status: SourceSucceeded}}}
	require.Equal(t, "succeeded", ok.Status())
	require.Equal(t, map[string]string{"run_id": "r1", "status": "succeeded", "passed_filters": "7"}, ok.MessageAttributes())
}
