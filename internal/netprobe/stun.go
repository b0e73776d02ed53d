// Package netprobe verifies connectivity to the configured ICE servers
// before sessions are created, so obvious network problems surface at
// startup rather than as opaque negotiation failures.
package netprobe

import (
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// ProbeResult is the outcome for one server.
type ProbeResult struct {
	Server     string
	MappedAddr string
	Err        error
}

// Probe sends a binding request to every stun: URL in the list and returns
// the per-server outcomes. It fails only when no server responded.
func Probe(servers []string, log *zap.Logger) ([]ProbeResult, error) {
	log = log.Named("netprobe")

	results := make([]ProbeResult, 0, len(servers))
	reachable := 0
	for _, server := range servers {
		addr, ok := stunHostPort(server)
		if !ok {
			continue
		}
		res := probeOne(addr)
		res.Server = server
		if res.Err != nil {
			log.Warn("stun server unreachable", zap.String("server", server), zap.Error(res.Err))
		} else {
			reachable++
			log.Info("stun server responded",
				zap.String("server", server),
				zap.String("mapped_addr", res.MappedAddr))
		}
		results = append(results, res)
	}

	if len(results) > 0 && reachable == 0 {
		return results, rtcerrors.New(rtcerrors.KindNetwork, rtcerrors.CodeUnknown,
			"no configured stun server responded")
	}
	return results, nil
}

func probeOne(addr string) ProbeResult {
	var res ProbeResult

	c, err := stun.Dial("udp", addr)
	if err != nil {
		res.Err = fmt.Errorf("failed to connect to stun server %s: %w", addr, err)
		return res
	}
	defer c.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if err := c.Do(message, func(event stun.Event) {
		if event.Error != nil {
			res.Err = fmt.Errorf("binding request to %s failed: %w", addr, event.Error)
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(event.Message); err != nil {
			res.Err = fmt.Errorf("no mapped address in response from %s: %w", addr, err)
			return
		}
		res.MappedAddr = xorAddr.String()
	}); err != nil {
		res.Err = fmt.Errorf("binding request to %s failed: %w", addr, err)
	}
	return res
}

// stunHostPort extracts host:port from a stun: URL. Other schemes are
// skipped.
func stunHostPort(server string) (string, bool) {
	if !strings.HasPrefix(server, "stun:") {
		return "", false
	}
	addr := strings.TrimPrefix(server, "stun:")
	if !strings.Contains(addr, ":") {
		addr += ":3478"
	}
	return addr, true
}
