package offlineshell

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	settings := testSettings("v1")
	require.NoError(t, settings.Validate())
	c := NewClassifier(settings.OriginURL(), settings)

	tests := []struct {
		url      string
		navigate bool
		want     Class
	}{
		{testOrigin + "/", false, ClassNavigation},
		{testOrigin + "/index.html", false, ClassNavigation},
		{testOrigin + "/src/scripts/index.js", false, ClassNavigation},
		{testOrigin + "/src/scripts/app.js", false, ClassNavigation},
		{testOrigin + "/stories/123", true, ClassNavigation},
		{testOrigin + "/src/scripts/app.js.map", false, ClassStatic},
		{testOrigin + "/index.html/", false, ClassStatic},
		{testOrigin + "/src/styles/main.css", false, ClassStatic},
		{testOrigin + "/manifest.json", false, ClassStatic},
		{"https://story.localhost/", false, ClassBypass},
		{"http://story.localhost:8080/", false, ClassBypass},
		{"https://unpkg.com/leaflet.js", false, ClassBypass},
		{"https://tile.openstreetmap.org/1/2/3.png", true, ClassBypass},
		{"chrome-extension://abcdef/script.js", false, ClassBypass},
		{"data:text/plain,hello", false, ClassBypass},
		// exclusions are checked before navigation
		{testOrigin + "/sockjs-node/info", true, ClassBypass},
		{testOrigin + "/0.abc.hot-update.js", false, ClassBypass},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		require.NoError(t, err, tt.url)
		got := c.Classify(Descriptor{Method: http.MethodGet, URL: u, Navigate: tt.navigate})
		assert.Equal(t, tt.want, got, "%s navigate=%v", tt.url, tt.navigate)
	}
}

func TestClassifyExcludedHostOfOwnOrigin(t *testing.T) {
	settings := testSettings("v1")
	settings.Origin = "https://app.story-app.dicoding.dev"
	require.NoError(t, settings.Validate())
	c := NewClassifier(settings.OriginURL(), settings)

	u, _ := url.Parse("https://app.story-app.dicoding.dev/")
	assert.Equal(t, ClassBypass, c.Classify(Descriptor{Method: http.MethodGet, URL: u, Navigate: true}))
}

func TestClassifyConfiguredNavigationPaths(t *testing.T) {
	settings := testSettings("v1")
	settings.NavigationPaths = []string{"/app"}
	require.NoError(t, settings.Validate())
	c := NewClassifier(settings.OriginURL(), settings)

	app, _ := url.Parse(testOrigin + "/app")
	root, _ := url.Parse(testOrigin + "/")
	assert.Equal(t, ClassNavigation, c.Classify(Descriptor{Method: http.MethodGet, URL: app}))
	assert.Equal(t, ClassStatic, c.Classify(Descriptor{Method: http.MethodGet, URL: root}))
}

func TestDescribeRequest(t *testing.T) {
	origin := mustOrigin(t)

	r := httptest.NewRequest(http.MethodGet, "/stories?page=2#top", nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	d := DescribeRequest(r, origin)
	assert.Equal(t, http.MethodGet, d.Method)
	assert.Equal(t, testOrigin+"/stories?page=2#top", d.URL.String())
	assert.True(t, d.Navigate)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Sec-Fetch-Dest", "document")
	assert.True(t, DescribeRequest(r, origin).Navigate)

	r = httptest.NewRequest(http.MethodPost, "https://unpkg.com/x.js", nil)
	d = DescribeRequest(r, origin)
	assert.Equal(t, "https://unpkg.com/x.js", d.URL.String())
	assert.False(t, d.Navigate)
	assert.Equal(t, "https://unpkg.com/x.js", r.URL.String())

	r = httptest.NewRequest(http.MethodGet, "/manifest.json", nil)
	DescribeRequest(r, origin)
	assert.False(t, r.URL.IsAbs(), "the request itself is left untouched")
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "static", ClassStatic.String())
	assert.Equal(t, "navigation", ClassNavigation.String())
	assert.Equal(t, "bypass", ClassBypass.String())
}
