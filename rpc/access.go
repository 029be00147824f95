package rpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/imagvfx/jobq/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// AddressMatcher matches to a range of client addresses.
type AddressMatcher interface {
	Match(ip string) bool
}

// IPMatcher matches to an IPv4 address or more.
//
//	10.0.1.7
//	10.0.[1-3].*
type IPMatcher [4]ipPartMatcher

type ipPartMatcher struct {
	start, end int
}

func (m ipPartMatcher) match(n int) bool {
	return m.start <= n && n <= m.end
}

// Match implements AddressMatcher.
func (m IPMatcher) Match(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n >= 256 {
			return false
		}
		if !m[i].match(n) {
			return false
		}
	}
	return true
}

// ParseIPMatcher parses an IPv4 pattern. Each of the four parts is a number,
// a range like [1-3], or * for any.
func ParseIPMatcher(s string) (IPMatcher, error) {
	var m IPMatcher
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return m, fmt.Errorf("ip does not consist of 4 parts: %v", s)
	}
	for i, p := range parts {
		pm, err := parseIPPart(p)
		if err != nil {
			return m, fmt.Errorf("%v: %v", s, err)
		}
		m[i] = pm
	}
	return m, nil
}

func parseIPPart(p string) (ipPartMatcher, error) {
	if p == "*" {
		return ipPartMatcher{0, 255}, nil
	}
	num := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n >= 256 {
			return -1, fmt.Errorf("ip part should be 0-255, got %v", s)
		}
		return n, nil
	}
	if !strings.HasPrefix(p, "[") {
		n, err := num(p)
		return ipPartMatcher{n, n}, err
	}
	if !strings.HasSuffix(p, "]") {
		return ipPartMatcher{}, fmt.Errorf("unclosed range: %v", p)
	}
	rng := strings.Split(p[1:len(p)-1], "-")
	if len(rng) != 2 {
		return ipPartMatcher{}, fmt.Errorf("invalid range: %v", p)
	}
	start, err := num(rng[0])
	if err != nil {
		return ipPartMatcher{}, err
	}
	end, err := num(rng[1])
	if err != nil {
		return ipPartMatcher{}, err
	}
	if start > end {
		return ipPartMatcher{}, fmt.Errorf("range start is bigger than end: %v", p)
	}
	return ipPartMatcher{start, end}, nil
}

// ParseAllowList parses comma separated ip patterns.
func ParseAllowList(s string) ([]AddressMatcher, error) {
	ms := make([]AddressMatcher, 0)
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m, err := ParseIPMatcher(p)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// allowFrom rejects calls from clients not matched by any of ms.
func allowFrom(ms []AddressMatcher, log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		p, ok := peer.FromContext(ctx)
		if !ok || p.Addr == nil {
			return nil, status.Error(codes.PermissionDenied, "unknown client")
		}
		ip := p.Addr.String()
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		for _, m := range ms {
			if m.Match(ip) {
				return handler(ctx, req)
			}
		}
		log.Warn("rpc: %s from %s is denied", info.FullMethod, ip)
		return nil, status.Errorf(codes.PermissionDenied, "%s is not allowed", ip)
	}
}
