package gate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"unlocker/internal/domain"
)

// configScriptID marks the JSON island gate pages embed their unlock
// configuration in. Older gate revisions assign the same object to a global
// instead, so an inline-script fallback is kept around.
const configScriptID = "gate-config"

var inlineConfigRe = regexp.MustCompile(`window\.__GATE_CONFIG__\s*=\s*\{`)

// rawChallenge mirrors the gate's embedded JSON before validation.
type rawChallenge struct {
	Token          string    `json:"token"`
	MinWaitSeconds int       `json:"minWaitSeconds"`
	UnlockURL      string    `json:"unlockUrl"`
	Steps          []rawStep `json:"steps"`
}

type rawStep struct {
	Kind     string            `json:"kind"`
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
}

// Parse extracts the gate's challenge configuration from a locked page.
// Only passive text extraction is performed; scripts are never executed.
// A page without the expected configuration markers, or with a config that
// does not match the known shape, fails with ChallengeUnsupported: it means
// the gate changed formats and silently guessing would do more harm.
func Parse(base *url.URL, pageContent string) (*domain.GateChallenge, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageContent))
	if err != nil {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "parse page: %w", err)
	}

	payload := strings.TrimSpace(doc.Find("script#" + configScriptID).First().Text())
	if payload == "" {
		payload = inlineConfig(doc)
	}
	if payload == "" {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "no gate configuration marker on page")
	}

	var raw rawChallenge
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "malformed gate configuration: %w", err)
	}

	return validate(base, raw)
}

// inlineConfig scans inline scripts for the legacy global-assignment form.
// The object is extracted by brace counting rather than a regex so that
// braces inside string values don't cut the config short.
func inlineConfig(doc *goquery.Document) string {
	var payload string
	doc.Find("script").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := s.Text()
		loc := inlineConfigRe.FindStringIndex(text)
		if loc == nil {
			return true
		}
		if obj := balancedObject(text[loc[1]-1:]); obj != "" {
			payload = obj
			return false
		}
		return true
	})
	return payload
}

// balancedObject returns the JSON object opening at s[0], tracking string
// literals and escapes so a '}' inside a value doesn't end the scan early.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// validate converts the loose JSON into a strongly typed challenge,
// rejecting anything outside the known step vocabulary.
func validate(base *url.URL, raw rawChallenge) (*domain.GateChallenge, error) {
	if raw.Token == "" {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "gate configuration missing challenge token")
	}
	if raw.UnlockURL == "" {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "gate configuration missing unlock endpoint")
	}
	if len(raw.Steps) == 0 {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "gate configuration lists no steps")
	}
	if raw.MinWaitSeconds < 0 {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "negative minimum wait")
	}

	unlockURL, err := absolute(base, raw.UnlockURL)
	if err != nil {
		return nil, domain.Errorf(domain.KindChallengeUnsupported, "unlock endpoint: %w", err)
	}

	steps := make([]domain.StepSpec, 0, len(raw.Steps))
	for i, rs := range raw.Steps {
		step := domain.StepSpec{Params: rs.Params}
		switch domain.StepKind(rs.Kind) {
		case domain.StepTimer:
			step.Kind = domain.StepTimer
		case domain.StepSubscribe, domain.StepVisit:
			step.Kind = domain.StepKind(rs.Kind)
			if rs.Endpoint == "" {
				return nil, domain.Errorf(domain.KindChallengeUnsupported, "step %d (%s) has no endpoint", i, rs.Kind)
			}
			step.Endpoint, err = absolute(base, rs.Endpoint)
			if err != nil {
				return nil, domain.Errorf(domain.KindChallengeUnsupported, "step %d endpoint: %w", i, err)
			}
		default:
			return nil, domain.Errorf(domain.KindChallengeUnsupported, "unknown step kind %q", rs.Kind)
		}
		steps = append(steps, step)
	}

	return &domain.GateChallenge{
		Token:     raw.Token,
		MinWait:   time.Duration(raw.MinWaitSeconds) * time.Second,
		UnlockURL: unlockURL,
		Steps:     steps,
	}, nil
}

func absolute(base *url.URL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == nil {
		if !refURL.IsAbs() {
			return "", fmt.Errorf("relative url %q without a base", ref)
		}
		return refURL.String(), nil
	}
	return base.ResolveReference(refURL).String(), nil
}
