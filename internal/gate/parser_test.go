package gate

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlocker/internal/domain"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

const validPage = `<!doctype html>
<html>
<head>
	<title>Almost there</title>
	<script type="application/json"   id="gate-config">
	{
		"token":     "abc123",
		"minWaitSeconds": 5,
		"unlockUrl": "/api/social-unlocks/abc123/unlock",
		"steps": [
			{"kind": "timer"},
			{"kind":"subscribe","endpoint":"/api/social-unlocks/abc123/subscribe","params":{"channel":"news"}},
			{"kind": "visit", "endpoint": "https://cdn.gate.example/visit", "params": {"target": "promo"}}
		]
	}
	</script>
</head>
<body>Complete the steps</body>
</html>`

func TestParseValidGatePage(t *testing.T) {
	base := mustParseURL(t, "https://gate.example/l/abc123")

	ch, err := Parse(base, validPage)
	require.NoError(t, err)

	assert.Equal(t, "abc123", ch.Token)
	assert.Equal(t, 5*time.Second, ch.MinWait)
	assert.Equal(t, "https://gate.example/api/social-unlocks/abc123/unlock", ch.UnlockURL)

	require.Len(t, ch.Steps, 3)
	assert.Equal(t, domain.StepTimer, ch.Steps[0].Kind)
	assert.Equal(t, domain.StepSubscribe, ch.Steps[1].Kind)
	assert.Equal(t, "https://gate.example/api/social-unlocks/abc123/subscribe", ch.Steps[1].Endpoint)
	assert.Equal(t, "news", ch.Steps[1].Params["channel"])
	assert.Equal(t, domain.StepVisit, ch.Steps[2].Kind)
	assert.Equal(t, "https://cdn.gate.example/visit", ch.Steps[2].Endpoint)
}

func TestParseInlineGlobalFallback(t *testing.T) {
	page := `<html><head><script>
		var x = 1;
		window.__GATE_CONFIG__ = {"token":"t1","minWaitSeconds":0,"unlockUrl":"/unlock","steps":[{"kind":"timer"}]};
		initGate();
	</script></head><body></body></html>`

	ch, err := Parse(mustParseURL(t, "https://gate.example/x"), page)
	require.NoError(t, err)
	assert.Equal(t, "t1", ch.Token)
	assert.Equal(t, "https://gate.example/unlock", ch.UnlockURL)
}

func TestParseInlineGlobalWithBracesInStrings(t *testing.T) {
	// A "};" inside a string value must not cut the object short, and escaped
	// quotes must not confuse the string tracking.
	page := `<html><head><script>
		window.__GATE_CONFIG__ = {"token":"t2","minWaitSeconds":0,"unlockUrl":"/unlock","steps":[{"kind":"subscribe","endpoint":"/sub","params":{"note":"ends weird };","quoted":"she said \"hi\" {ok}"}}]};
		initGate();
	</script></head><body></body></html>`

	ch, err := Parse(mustParseURL(t, "https://gate.example/x"), page)
	require.NoError(t, err)
	assert.Equal(t, "t2", ch.Token)
	require.Len(t, ch.Steps, 1)
	assert.Equal(t, `ends weird };`, ch.Steps[0].Params["note"])
	assert.Equal(t, `she said "hi" {ok}`, ch.Steps[0].Params["quoted"])
}

func TestParseMissingMarker(t *testing.T) {
	page := `<html><head><script>console.log("hi")</script></head><body>no gate here</body></html>`

	_, err := Parse(mustParseURL(t, "https://gate.example/x"), page)
	require.Error(t, err)
	assert.Equal(t, domain.KindChallengeUnsupported, domain.KindOf(err))
}

func TestParseRejectsMalformedConfig(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{token: abc}`,
		"empty token":      `{"token":"","minWaitSeconds":1,"unlockUrl":"/u","steps":[{"kind":"timer"}]}`,
		"no unlock url":    `{"token":"t","minWaitSeconds":1,"steps":[{"kind":"timer"}]}`,
		"no steps":         `{"token":"t","minWaitSeconds":1,"unlockUrl":"/u","steps":[]}`,
		"negative wait":    `{"token":"t","minWaitSeconds":-3,"unlockUrl":"/u","steps":[{"kind":"timer"}]}`,
		"unknown kind":     `{"token":"t","minWaitSeconds":1,"unlockUrl":"/u","steps":[{"kind":"captcha"}]}`,
		"missing endpoint": `{"token":"t","minWaitSeconds":1,"unlockUrl":"/u","steps":[{"kind":"subscribe"}]}`,
	}

	base := mustParseURL(t, "https://gate.example/x")
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			page := `<html><script id="gate-config" type="application/json">` + cfg + `</script></html>`
			_, err := Parse(base, page)
			require.Error(t, err)
			assert.Equal(t, domain.KindChallengeUnsupported, domain.KindOf(err))
		})
	}
}

func TestParseNeverExecutesScripts(t *testing.T) {
	// A page whose scripts would rewrite the config if executed still parses
	// to the static island's content.
	page := `<html>
	<script id="gate-config" type="application/json">{"token":"static","minWaitSeconds":0,"unlockUrl":"/u","steps":[{"kind":"timer"}]}</script>
	<script>document.getElementById("gate-config").textContent = '{"token":"dynamic"}';</script>
	</html>`

	ch, err := Parse(mustParseURL(t, "https://gate.example/x"), page)
	require.NoError(t, err)
	assert.Equal(t, "static", ch.Token)
}
