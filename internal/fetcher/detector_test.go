package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShellDetectorEmptyBody(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(100)
	require.True(t, d.ShouldPromote(Page{StatusCode: 200, HTML: "  "}))
}

func TestShellDetectorSPAMarkers(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(100)
	require.True(t, d.ShouldPromote(Page{StatusCode: 200, HTML: `<div id="__next"></div>`}))
}

func TestShellDetectorScriptDensity(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(1000)
	require.True(t, d.ShouldPromote(Page{StatusCode: 200, HTML: `<html><script>var a=1;</script><p>t</p></html>`}))
}

func TestShellDetectorKeepsContentPages(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(100)
	text := strings.Repeat("Alta receives more than 500 inches of snow every season. ", 10)
	page := Page{StatusCode: 200, HTML: `<html><body><div id="root"><p>` + text + `</p></div></body></html>`}
	require.False(t, d.ShouldPromote(page))
}

func TestShellDetectorDisabledForNon200(t *testing.T) {
	t.Parallel()

	d := NewShellDetector(100)
	require.False(t, d.ShouldPromote(Page{StatusCode: 404, HTML: "not found"}))
}
