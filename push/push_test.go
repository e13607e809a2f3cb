package push

import (
	"context"
	"net/url"
	"testing"

	"github.com/always-cache/offline-shell/clients"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyClients struct {
	*clients.Registry
	focusCalls int
	openCalls  int
}

func (s *spyClients) Focus(ctx context.Context, id string) (clients.Client, error) {
	s.focusCalls++
	return s.Registry.Focus(ctx, id)
}

func (s *spyClients) OpenWindow(ctx context.Context, u string) (clients.Client, error) {
	s.openCalls++
	return s.Registry.OpenWindow(ctx, u)
}

func newTestRouter(t *testing.T) (*Router, *Center, *spyClients) {
	t.Helper()
	origin, err := url.Parse("http://story.localhost")
	require.NoError(t, err)
	center := NewCenter(zerolog.Nop())
	spy := &spyClients{Registry: clients.NewRegistry(zerolog.Nop())}
	return NewRouter(center, spy, Config{Origin: origin}), center, spy
}

func TestDecodeEmptyObjectUsesDefaults(t *testing.T) {
	n, err := Decode([]byte(`{}`), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "New Notification", n.Title)
	assert.Equal(t, "You have a new message!", n.Body)
	assert.Equal(t, "/", n.Data.URL)
	assert.Equal(t, "default-notification", n.Tag)
	assert.Equal(t, "/icons/icon-192x192.png", n.Icon)
	assert.Equal(t, "/icons/icon-32x32.png", n.Badge)
}

func TestDecodeMergesPerField(t *testing.T) {
	n, err := Decode([]byte(`{"title":"Story added","data":{"id":"s-1"}}`), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "Story added", n.Title)
	assert.Equal(t, "You have a new message!", n.Body)
	// data without url keeps the default target
	assert.Equal(t, "/", n.Data.URL)

	n, err = Decode([]byte(`{"body":"Read it","data":{"url":"/#/stories/s-1"}}`), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "New Notification", n.Title)
	assert.Equal(t, "Read it", n.Body)
	assert.Equal(t, "/#/stories/s-1", n.Data.URL)
}

func TestDecodeMalformedPayload(t *testing.T) {
	for _, payload := range []string{`not json`, `[1,2]`, `"text"`} {
		n, err := Decode([]byte(payload), DefaultDefaults())
		assert.Error(t, err, payload)
		assert.Equal(t, "New Notification", n.Title, payload)
		assert.Equal(t, "/", n.Data.URL, payload)
	}

	n, err := Decode(nil, DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "New Notification", n.Title)

	// wrong field types and empty strings keep their defaults
	n, err = Decode([]byte(`{"title":5,"body":"","tag":null}`), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "New Notification", n.Title)
	assert.Equal(t, "You have a new message!", n.Body)
	assert.Equal(t, "default-notification", n.Tag)
}

func TestDecodeKeepsTextLiterally(t *testing.T) {
	n, err := Decode([]byte(`{"title":"Use <b> for bold","body":"x<y and y>z"}`), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "Use <b> for bold", n.Title)
	assert.Equal(t, "x<y and y>z", n.Body)

	n, err = Decode([]byte(`{"title":"Tom &amp; Jerry","body":"  "}`), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, "Tom &amp; Jerry", n.Title)
	assert.Equal(t, "You have a new message!", n.Body)
}

func TestDecodeActions(t *testing.T) {
	n, _ := Decode(nil, DefaultDefaults())
	require.Len(t, n.Actions, 2)
	assert.Equal(t, ActionOpen, n.Actions[0].Action)
	assert.Equal(t, "Open App", n.Actions[0].Title)
	assert.Equal(t, "/icons/icon-32x32.png", n.Actions[0].Icon)
	assert.Equal(t, ActionClose, n.Actions[1].Action)
	assert.False(t, n.RequireInteraction)
	assert.False(t, n.Silent)
}

func TestHandlePushShowsNotification(t *testing.T) {
	router, center, _ := newTestRouter(t)

	shown, err := router.HandlePush(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, shown.ID)

	displayed := center.Displayed()
	require.Len(t, displayed, 1)
	assert.Equal(t, "New Notification", displayed[0].Title)

	// same tag replaces the displayed notification
	_, err = router.HandlePush(context.Background(), []byte(`{"title":"Second"}`))
	require.NoError(t, err)
	displayed = center.Displayed()
	require.Len(t, displayed, 1)
	assert.Equal(t, "Second", displayed[0].Title)
}

func TestClickCloseHasNoSideEffect(t *testing.T) {
	router, center, spy := newTestRouter(t)
	ctx := context.Background()
	n, err := router.HandlePush(ctx, nil)
	require.NoError(t, err)

	outcome, err := router.HandleClick(ctx, Click{Action: ActionClose, Notification: n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, outcome)
	assert.Equal(t, 0, spy.focusCalls)
	assert.Equal(t, 0, spy.openCalls)
	assert.Empty(t, center.Displayed())
}

func TestClickFocusesExistingWindow(t *testing.T) {
	router, center, spy := newTestRouter(t)
	ctx := context.Background()
	existing, _ := spy.Registry.OpenWindow(ctx, "http://story.localhost/#/stories/s-1")
	spy.Registry.OpenWindow(ctx, "http://story.localhost/")

	n, err := router.HandlePush(ctx, []byte(`{"data":{"url":"/#/stories/s-1"}}`))
	require.NoError(t, err)

	outcome, err := router.HandleClick(ctx, Click{Action: ActionOpen, Notification: n})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFocused, outcome)
	assert.Equal(t, 1, spy.focusCalls)
	assert.Equal(t, 0, spy.openCalls)
	assert.Empty(t, center.Displayed())

	windows, _ := spy.MatchAll(ctx, clients.MatchOptions{IncludeUncontrolled: true})
	for _, w := range windows {
		assert.Equal(t, w.ID == existing.ID, w.Focused)
	}
}

func TestClickOpensWindowWhenNoneMatches(t *testing.T) {
	router, _, spy := newTestRouter(t)
	ctx := context.Background()
	spy.Registry.OpenWindow(ctx, "http://story.localhost/#/about")

	// a click on the body carries no action and a notification without data
	outcome, err := router.HandleClick(ctx, Click{Notification: Notification{ID: "gone"}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, outcome)
	assert.Equal(t, 0, spy.focusCalls)
	assert.Equal(t, 1, spy.openCalls)

	windows, _ := spy.MatchAll(ctx, clients.MatchOptions{IncludeUncontrolled: true})
	require.Len(t, windows, 2)
	assert.Equal(t, "http://story.localhost/", windows[1].URL)
}

func TestHandlePushWithoutNotifier(t *testing.T) {
	router := NewRouter(nil, nil, Config{})
	_, err := router.HandlePush(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoNotifier)
}
