package identity

import (
	"math/rand"
	"sync"
)

// Manager hands out browser identities (User-Agent strings and, when
// configured, proxies) to new sessions. Gate hosts are quicker to throttle
// callers that present a single static identity.
type Manager struct {
	proxies    []string
	userAgents []string
	mu         sync.Mutex
	proxyIndex int
}

func NewManager(proxies []string) *Manager {
	return &Manager{
		proxies: proxies,
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
	}
}

// Proxy returns a proxy URL from the list, rotating sequentially.
func (m *Manager) Proxy() string {
	if len(m.proxies) == 0 {
		return "" // No proxy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	proxy := m.proxies[m.proxyIndex]
	m.proxyIndex = (m.proxyIndex + 1) % len(m.proxies)
	return proxy
}

// UserAgent returns a random user agent string.
func (m *Manager) UserAgent() string {
	if len(m.userAgents) == 0 {
		return ""
	}
	return m.userAgents[rand.Intn(len(m.userAgents))]
}

// Headers builds the base header set a fresh session starts with.
func (m *Manager) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      m.UserAgent(),
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.8",
	}
}
