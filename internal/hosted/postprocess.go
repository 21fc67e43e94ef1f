// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"context"
	"net"
	"net/url"

	"github.com/samber/oops"
)

// EndpointPostProcessor rewrites the endpoint a hosted instance reported.
type EndpointPostProcessor func(ctx context.Context, endpoint *url.URL) (*url.URL, error)

// applyPostProcessors runs processors in registration order. The input URL is not modified.
func applyPostProcessors(ctx context.Context, endpoint *url.URL, processors []EndpointPostProcessor) (*url.URL, error) {
	current := cloneURL(endpoint)
	for i, process := range processors {
		next, err := process(ctx, cloneURL(current))
		if err != nil {
			return nil, oops.With("post_processor", i).With("endpoint", current.String()).Wrap(err)
		}
		if next == nil {
			return nil, oops.With("post_processor", i).Errorf("post-processor returned no endpoint")
		}
		current = next
	}
	return current, nil
}

// WithPathSuffix appends segment to the endpoint path. The result is always rooted.
func WithPathSuffix(segment string) EndpointPostProcessor {
	return func(_ context.Context, endpoint *url.URL) (*url.URL, error) {
		if endpoint.Path == "" {
			endpoint.Path = "/"
			endpoint.RawPath = ""
		}
		return endpoint.JoinPath(segment), nil
	}
}

// RewriteUnspecifiedHost replaces a wildcard listen address (0.0.0.0 or ::)
// with hostname so the endpoint can be dialled.
func RewriteUnspecifiedHost(hostname string) EndpointPostProcessor {
	return func(_ context.Context, endpoint *url.URL) (*url.URL, error) {
		ip := net.ParseIP(endpoint.Hostname())
		if ip == nil || !ip.IsUnspecified() {
			return endpoint, nil
		}
		if port := endpoint.Port(); port != "" {
			endpoint.Host = net.JoinHostPort(hostname, port)
		} else {
			endpoint.Host = hostname
		}
		return endpoint, nil
	}
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
