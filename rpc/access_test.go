package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/imagvfx/jobq/logger"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestIPMatcher(t *testing.T) {
	cases := []struct {
		matcher   string
		matches   []string
		unmatches []string
	}{
		{
			matcher:   "127.0.0.1",
			matches:   []string{"127.0.0.1"},
			unmatches: []string{"127.0.0.2", "localhost"},
		},
		{
			matcher:   "10.0.[1-3].*",
			matches:   []string{"10.0.1.0", "10.0.3.255"},
			unmatches: []string{"10.0.4.1", "10.0.1.256", "10.0.1.-1"},
		},
		{
			matcher:   "*.*.*.*",
			matches:   []string{"0.0.0.0", "255.255.255.255"},
			unmatches: []string{"::1"},
		},
	}
	for _, c := range cases {
		m, err := ParseIPMatcher(c.matcher)
		require.NoError(t, err, c.matcher)
		for _, ip := range c.matches {
			require.True(t, m.Match(ip), "%v should match %v", c.matcher, ip)
		}
		for _, ip := range c.unmatches {
			require.False(t, m.Match(ip), "%v shouldn't match %v", c.matcher, ip)
		}
	}
}

func TestParseIPMatcherInvalid(t *testing.T) {
	for _, s := range []string{"10.0.1", "10.0.1.256", "10.0.[3-1].*", "10.0.[1-3.*", "10.0.[a-b].*"} {
		_, err := ParseIPMatcher(s)
		require.Error(t, err, s)
	}
}

func TestAllowFrom(t *testing.T) {
	ms, err := ParseAllowList("127.0.0.1, 10.0.[1-3].*")
	require.NoError(t, err)
	require.Len(t, ms, 2)

	intercept := allowFrom(ms, logger.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/jobq.Queue/Submit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	from := func(ip string) context.Context {
		return peer.NewContext(context.Background(), &peer.Peer{
			Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50000},
		})
	}

	resp, err := intercept(from("10.0.2.7"), nil, info, handler)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	_, err = intercept(from("10.0.4.7"), nil, info, handler)
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = intercept(context.Background(), nil, info, handler)
	require.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestParseAllowListEmpty(t *testing.T) {
	ms, err := ParseAllowList("")
	require.NoError(t, err)
	require.Empty(t, ms)
}
