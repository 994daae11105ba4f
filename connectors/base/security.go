// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// EndpointPolicy restricts which upstream endpoints a connector may be
// pointed at through configuration (e.g. a self-hosted API base URL).
type EndpointPolicy struct {
	// AllowPrivateIPs permits loopback and private ranges (test servers, on-prem hosts)
	AllowPrivateIPs bool
	// AllowedSchemes defaults to https and http
	AllowedSchemes []string
	// AllowedHostSuffixes, when set, restricts hosts to these domains
	AllowedHostSuffixes []string
}

// DefaultEndpointPolicy returns the restrictive defaults
func DefaultEndpointPolicy() EndpointPolicy {
	return EndpointPolicy{
		AllowedSchemes: []string{"https", "http"},
	}
}

// ValidateEndpoint checks a configured upstream URL against the policy.
func ValidateEndpoint(rawURL string, policy EndpointPolicy) error {
	if rawURL == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}

	schemes := policy.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"https", "http"}
	}
	if !containsFold(schemes, u.Scheme) {
		return fmt.Errorf("endpoint scheme %q is not allowed; permitted schemes: %v", u.Scheme, schemes)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("endpoint must contain a hostname")
	}

	if len(policy.AllowedHostSuffixes) > 0 && !hasSuffixFold(host, policy.AllowedHostSuffixes) {
		return fmt.Errorf("hostname %q is not in the allowed list", host)
	}

	if policy.AllowPrivateIPs {
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("failed to resolve hostname %q: %w", host, err)
	}
	for _, ip := range ips {
		if isInternalIP(ip) {
			return fmt.Errorf("endpoint resolves to internal address %s (hostname: %s)", ip, host)
		}
	}
	return nil
}

func isInternalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		// 100.64.0.0/10 carrier-grade NAT
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return true
		}
		// 0.0.0.0/8, multicast and reserved
		if ip4[0] == 0 || ip4[0] >= 224 {
			return true
		}
	}
	return false
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func hasSuffixFold(host string, suffixes []string) bool {
	host = strings.ToLower(host)
	for _, suffix := range suffixes {
		if strings.HasSuffix(host, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// SanitizeLogString escapes line breaks, strips ANSI sequences and truncates
// caller supplied values before they reach a log line.
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiEscape.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}

// ResolveWithinRoot joins a caller supplied relative path onto root and
// rejects any result that escapes root, lexically or through a symlink. A
// path that does not exist yet is only checked lexically.
func ResolveWithinRoot(root, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("null bytes not allowed in path")
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root: %w", err)
	}
	joined := filepath.Join(cleanRoot, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if !within(cleanRoot, joined) {
		return "", fmt.Errorf("path escapes root: %q", rel)
	}

	realPath, err := filepath.EvalSymlinks(joined)
	if errors.Is(err, fs.ErrNotExist) {
		return joined, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	realRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		return "", fmt.Errorf("invalid root: %w", err)
	}
	if !within(realRoot, realPath) {
		return "", fmt.Errorf("path escapes root through a symlink: %q", rel)
	}
	return joined, nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
