package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"prism-server/work/client"
	"prism-server/work/config"
	"prism-server/work/logger"
	"prism-server/work/metrics"
	"prism-server/work/utils"

	"github.com/maypok86/otter/v2"
)

// cachedResource is one proxied upstream response held in memory.
type cachedResource struct {
	contentType string
	body        []byte
}

// Proxy fronts upstream resources the browser cannot fetch directly (CORS,
// mixed content): logos, playlists, guide icons. Responses are cached by
// URL so channel-surfing does not refetch the same artwork over and over.
// Only small metadata resources belong here; media segments go through the
// playback engine.
type Proxy struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	cache      *otter.Cache[string, cachedResource]
}

// New builds the resource proxy with its response cache.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient) *Proxy {
	cache := otter.Must(&otter.Options[string, cachedResource]{
		MaximumSize:      cfg.ProxyCacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, cachedResource](cfg.ProxyCacheTTL),
	})

	return &Proxy{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      cache,
	}
}

// HandleProxy serves GET /api/proxy?url=... by fetching the upstream
// resource and mirroring its Content-Type, from cache when possible.
func (p *Proxy) HandleProxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, `Missing "url" query parameter`, http.StatusBadRequest)
		return
	}

	if resource, ok := p.cache.GetIfPresent(rawURL); ok {
		metrics.ProxiedBytes.WithLabelValues("hit").Add(float64(len(resource.body)))
		serveResource(w, resource)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		http.Error(w, "Proxy Error", http.StatusInternalServerError)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Error("{proxy - HandleProxy} Fetch failed for %s: %v", utils.LogURL(p.cfg, rawURL), err)
		http.Error(w, "Proxy Error", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("{proxy - HandleProxy} HTTP %d from %s", resp.StatusCode, utils.LogURL(p.cfg, rawURL))
		http.Error(w, "Proxy Error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize))
	if err != nil {
		http.Error(w, "Proxy Error", http.StatusInternalServerError)
		return
	}

	resource := cachedResource{
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}
	p.cache.Set(rawURL, resource)

	metrics.ProxiedBytes.WithLabelValues("miss").Add(float64(len(body)))
	serveResource(w, resource)
}

// maxResourceSize bounds one cached resource; anything larger is a media
// file that should not be flowing through this path.
const maxResourceSize = 16 << 20

func serveResource(w http.ResponseWriter, resource cachedResource) {
	if resource.contentType != "" {
		w.Header().Set("Content-Type", resource.contentType)
	}
	w.Write(resource.body)
}

// HandleStatus serves GET /api/status with the server's LAN address, which
// remotes use to find the WebSocket endpoint.
func (p *Proxy) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"online","ip":%q}`, lanAddress())
}

// lanAddress returns the host's outbound interface address.
func lanAddress() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
