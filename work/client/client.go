package client

import (
	"context"
	"net/http"
	"time"

	"drmtv-proxy/work/config"
	"drmtv-proxy/work/types"
)

// HeaderSettingClient wraps http.Client to apply a channel's header profile
// to every upstream fetch: default User-Agent when the channel has none,
// Referer and Cookie only when present on the record, and any custom header
// map merged on top of the builtins.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared upstream client. There is no
// overall timeout: media relays run for as long as the player stays
// connected, so only the response-header phase is bounded.
func NewHeaderSettingClient(config *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: config,
	}
}

// Do executes the request as-is on the underlying client.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	return hsc.Client.Do(req)
}

// ApplyProfile stamps a channel's header profile onto the request.
func (hsc *HeaderSettingClient) ApplyProfile(req *http.Request, ch *types.Channel) {
	userAgent := ch.UserAgent
	if userAgent == "" {
		userAgent = hsc.config.DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")

	if ch.Referer != "" {
		req.Header.Set("Referer", ch.Referer)
	}
	if ch.Cookie != "" {
		req.Header.Set("Cookie", ch.Cookie)
	}

	// custom headers win over the builtins
	for name, value := range ch.CustomHeaders {
		req.Header.Set(name, value)
	}
}

// FetchChannel performs a GET against the channel's origin URL with its full
// header profile applied.
func (hsc *HeaderSettingClient) FetchChannel(ctx context.Context, ch *types.Channel) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.URL, nil)
	if err != nil {
		return nil, err
	}
	hsc.ApplyProfile(req, ch)
	return hsc.Client.Do(req)
}
