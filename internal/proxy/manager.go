package proxy

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
)

// Manager handles the rotation of proxies and user agents.
type Manager struct {
	proxies    []*url.URL
	userAgents []string
	mu         sync.Mutex
	proxyIndex int
}

// NewManager builds a manager from configured proxy URLs and user agents.
// With no user agents configured, fallbackAgent is always used.
func NewManager(proxyURLs, userAgents []string, fallbackAgent string) (*Manager, error) {
	m := &Manager{}
	for _, raw := range proxyURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", raw)
		}
		m.proxies = append(m.proxies, u)
	}
	m.userAgents = append(m.userAgents, userAgents...)
	if len(m.userAgents) == 0 && fallbackAgent != "" {
		m.userAgents = []string{fallbackAgent}
	}
	return m, nil
}

// GetProxy returns the next proxy, rotating sequentially, or nil when none
// are configured.
func (m *Manager) GetProxy() *url.URL {
	if len(m.proxies) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.proxies[m.proxyIndex]
	m.proxyIndex = (m.proxyIndex + 1) % len(m.proxies)
	return p
}

// ProxyFunc adapts the rotation to http.Transport.Proxy.
func (m *Manager) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return m.GetProxy(), nil
	}
}

// GetUserAgent returns a random configured user agent.
func (m *Manager) GetUserAgent() string {
	switch len(m.userAgents) {
	case 0:
		return ""
	case 1:
		return m.userAgents[0]
	}
	return m.userAgents[rand.IntN(len(m.userAgents))]
}
