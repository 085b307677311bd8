package client

import (
	"net/http"
	"time"

	"prism-server/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set the outbound
// identification headers (User-Agent, Origin, Referer) configured for the
// server. Upstream IPTV and EPG providers frequently reject requests that
// carry no recognizable user agent.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared outbound HTTP client. The overall
// timeout stays at zero because segment downloads for live streams can run
// indefinitely; only the response headers are bounded.
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

func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")

	if hsc.config.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}
