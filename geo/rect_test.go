package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func r(minX, minY, maxX, maxY float64) Rect[float64] {
	return NewRect([]float64{minX, minY}, []float64{maxX, maxY})
}

func TestNewRectSwapsOutOfOrderAxes(t *testing.T) {
	got := NewRect([]float64{0, 0}, []float64{-0.01, 0})
	require.Equal(t, []float64{-0.01, 0}, got.Min)
	require.Equal(t, []float64{0, 0}, got.Max)
}

var rectCases = []struct {
	rect           Rect[float64]
	expectedArea   float64
	expectedMargin float64
	expectedCenter []float64
}{
	{r(0, 0, 0, 0), 0, 0, []float64{0, 0}},
	{r(0, 0, 1, 1), 1, 4, []float64{0.5, 0.5}},
	{r(-1, -1, 0, 0), 1, 4, []float64{-0.5, -0.5}},
	{r(0, 0, 10, 0), 0, 20, []float64{5, 0}},
	{r(0, 0, 10, 10), 100, 40, []float64{5, 5}},
}

func TestAreaMarginCenter(t *testing.T) {
	for _, c := range rectCases {
		require.Equal(t, c.expectedArea, c.rect.Area())
		require.Equal(t, c.expectedMargin, c.rect.Margin())
		require.Equal(t, c.expectedCenter, c.rect.Center())
	}
}

func TestContains(t *testing.T) {
	rect := r(-10, -10, 10, 10)
	cases := []struct {
		p        Rect[float64]
		expected bool
	}{
		{Point([]float64{0, 0}), true},
		{Point([]float64{10, 10}), true},
		{Point([]float64{-10, -10}), true},
		{Point([]float64{10, -10}), true},
		{Point([]float64{-10, 10}), true},
		{Point([]float64{10.000001, 0}), false},
		{Point([]float64{10, 10.000001}), false},
		{Point([]float64{900000, 900000}), false},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, rect.Contains(c.p))
	}
}

var pairCases = []struct {
	r                      Rect[float64]
	other                  Rect[float64]
	expectedContains       bool
	expectedIntersects     bool
	expectedOverlapArea    float64
	expectedAreaDifference float64
}{
	{r(0, 0, 0, 0), r(0, 0, 0, 0), true, true, 0, 0},
	{r(-5, -5, 5, 5), r(10, -5, 20, 5), false, false, 0, 0},
	{r(0, 0, 1, 1), r(1, 0, 2, 1), false, true, 0, 0},
	{r(0, 0, 1, 5), r(-1, 2, 2, 3), false, true, 1, 2},
	{r(-2, -2, 0, 0), r(-1, -1, 1, 1), false, true, 1, 0},
	{r(0, 0, 50, 50), r(0, 0, 50, 50), true, true, 2500, 0},
	{r(-50, -50, 0, 0), r(-30, -30, -20, -20), true, true, 100, 2400},
	{r(0, 0, 1, 1), r(0, 2, 1, 3), false, false, 0, 0},
	{r(0, 0, 4, 4), r(3, 1, 5, 3), false, true, 2, 12},
}

func TestContainsIntersectsOverlap(t *testing.T) {
	for _, c := range pairCases {
		require.Equal(t, c.expectedContains, c.r.Contains(c.other), "contains %v %v", c.r, c.other)
		require.Equal(t, c.expectedIntersects, c.r.Intersects(c.other), "intersects %v %v", c.r, c.other)
		require.Equal(t, c.expectedOverlapArea, c.r.OverlapArea(c.other), "overlap %v %v", c.r, c.other)
		require.Equal(t, c.expectedAreaDifference, absDiff(c.r.Area(), c.other.Area()), "area diff %v %v", c.r, c.other)
	}
}

func absDiff(a, b float64) float64 {
	if a < b {
		return b - a
	}
	return a - b
}

func TestUnion(t *testing.T) {
	cases := []struct {
		a, b     Rect[float64]
		expected Rect[float64]
	}{
		{r(0, 0, 1, 1), r(1, 0, 2, 1), r(0, 0, 2, 1)},
		{r(0, 0, 0, 0), r(0, 0, 0, 0), r(0, 0, 0, 0)},
		{r(-50, -50, 0, 0), r(-20, -20, 0, 0), r(-50, -50, 0, 0)},
	}
	for _, c := range cases {
		got := Union(c.a, c.b)
		require.Equal(t, c.expected.Min, got.Min)
		require.Equal(t, c.expected.Max, got.Max)
		got2 := Union(c.b, c.a)
		require.Equal(t, c.expected.Min, got2.Min)
		require.Equal(t, c.expected.Max, got2.Max)
	}
}

func TestOnEdge(t *testing.T) {
	outer := r(0, 0, 10, 10)
	require.True(t, outer.OnEdge(r(0, 0, 1, 1)))  // touches min edge
	require.True(t, outer.OnEdge(r(9, 9, 10, 10))) // touches max edge
	require.False(t, outer.OnEdge(r(4, 4, 6, 6)))  // strictly interior
}

func TestRectDist(t *testing.T) {
	a := r(0, 0, 1, 1)
	b := r(2, 0, 3, 1)
	require.Equal(t, 1.0, a.RectDist(b))
	require.Equal(t, 0.0, a.RectDist(r(0.5, 0.5, 0.5, 0.5)))
}
