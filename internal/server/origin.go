package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a websocket. Origins
// compare as lowercase scheme://host[:port]; "*" admits any well-formed one.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func newOriginPolicy(origins []string, log *slog.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins)), log: log}

	for _, raw := range origins {
		switch entry := strings.TrimSpace(raw); entry {
		case "":
		case "*":
			p.allowAll = true
		default:
			origin, ok := canonicalOrigin(entry)
			if !ok {
				log.Warn("ignoring invalid origin in configuration", "origin", raw)
				continue
			}
			p.allowed[origin] = struct{}{}
		}
	}
	return p
}

// canonicalOrigin reduces origin to its lowercase scheme and host. It fails
// for anything without both.
func canonicalOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (p *originPolicy) allows(origin string) bool {
	canonical, ok := canonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, found := p.allowed[canonical]
	return found
}

// checkOrigin is the websocket upgrader hook. Requests without an Origin
// header are refused.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allows(origin) {
		return true
	}
	p.log.Warn("blocked websocket connection from disallowed origin", "origin", origin, "remote", r.RemoteAddr)
	return false
}
