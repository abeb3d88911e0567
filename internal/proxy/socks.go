// Package proxy builds an HTTP client that egresses through a SOCKS5
// proxy, for deployments where the completion API is not directly
// reachable.
package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

func NewSocksClient(addr string) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, network, address string) (net.Conn, error) {
				return dialer.Dial(network, address)
			},
		},
		// Generous: streamed completions hold the connection open.
		Timeout: 5 * time.Minute,
	}, nil
}
