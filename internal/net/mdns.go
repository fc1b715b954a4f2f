package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_localanimator._tcp"

// Advertise announces a relay listening on port over mDNS. Close the returned
// server to withdraw the announcement.
func Advertise(port int, path string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	// The TXT record carries the websocket path so browsers can build the URL.
	info := []string{"LocalAnimator relay", "path=" + path}
	service, err := mdns.NewMDNSService(host, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Discover browses for an advertised relay and returns the websocket URL of
// the first one found within timeout. The query stops as soon as Discover
// returns.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.QueryContext(ctx, params)
		close(entries)
	}()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				if err := <-queryErr; err != nil && ctx.Err() == nil {
					return "", fmt.Errorf("mDNS query: %w", err)
				}
				return "", fmt.Errorf("no relay found within %s", timeout)
			}
			if url, ok := relayURL(e); ok {
				return url, nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("no relay found within %s", timeout)
			}
			return "", ctx.Err()
		}
	}
}

func relayURL(e *mdns.ServiceEntry) (string, bool) {
	if e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	path := "/ws"
	for _, field := range e.InfoFields {
		if p, ok := strings.CutPrefix(field, "path="); ok && p != "" {
			path = p
		}
	}
	return "ws://" + net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port)) + path, true
}
