package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
)

// iceCache makes ICE server resolution a one-time parse: every consumer (the
// /api/ice endpoint and the in-process client) sees the same cached slice.
type iceCache struct {
	once    sync.Once
	servers []webrtc.ICEServer
	err     error
}

// ICEServers resolves the configured ICE servers once and caches the result.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	c.ice.once.Do(func() {
		c.ice.servers, c.ice.err = parseICEServers(c)
	})
	return c.ice.servers, c.ice.err
}

func parseICEServers(c *Config) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ICEServersJSON); raw != "" {
		return ParseICEServersJSON(raw)
	}
	return parseConvenienceKeys(c.STUNURLs, c.TURNURLs, c.TURNUsername, c.TURNCredential)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a JSON array in the shape browsers accept for
// RTCPeerConnection iceServers.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}

		pcServer := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}

		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

func parseConvenienceKeys(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	stunList := splitCommaSeparated(stunURLs)
	turnList := splitCommaSeparated(turnURLs)

	var servers []webrtc.ICEServer
	if len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("stun_urls: %w", err)
		}
		servers = append(servers, server)
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("turn_username/turn_credential: both must be set when turn_urls is set")
		}
		server := webrtc.ICEServer{URLs: turnList, Username: turnUsername}
		server.Credential = turnCredential
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("turn_urls: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func validateICEServer(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return fmt.Errorf("ice server entry has no urls")
	}
	for _, u := range s.URLs {
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"),
			strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
		default:
			return fmt.Errorf("unsupported ice url %q", u)
		}
	}
	return nil
}

func splitCommaSeparated(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
