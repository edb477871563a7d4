package ingestion

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/markusmobius/go-trafilatura"
	"github.com/temoto/robotstxt"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
	"github.com/asteroniris/asteroniris/pkg/memory"
)

const pollerUserAgent = "AsteronIrisBot/1.0 (+trend-poller)"

// Feed describes one RSS/trend source the poller visits on an interval.
type Feed struct {
	URL        string
	SourceKind memory.SourceOriginKind
	EntityID   string
}

// Poller walks a fixed list of feed URLs on an interval, extracts readable
// content with trafilatura, and pushes each article through the ingestion
// Pipeline. It reuses the tool layer's SSRF-safe dial discipline since it
// reaches the same untrusted public internet a chat-triggered fetch does.
type Poller struct {
	feeds        []Feed
	pipeline     *Pipeline
	interval     time.Duration
	respectRobots bool
	client       *http.Client
	robotsCache  sync.Map // host -> *robotstxt.RobotsData
}

func NewPoller(feeds []Feed, pipeline *Pipeline, interval time.Duration, respectRobots bool) *Poller {
	return &Poller{
		feeds:         feeds,
		pipeline:      pipeline,
		interval:      interval,
		respectRobots: respectRobots,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:         pollerSSRFSafeDialContext,
				TLSHandshakeTimeout: 15 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				if req.URL != nil && pollerIsPrivateHost(req.URL.Hostname()) {
					return fmt.Errorf("redirect to private/internal address is not allowed")
				}
				return nil
			},
		},
	}
}

// Run blocks, polling every feed once per interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, f := range p.feeds {
		if err := p.pollOne(ctx, f); err != nil {
			logger.WarnCF("ingestion", "poll failed", map[string]interface{}{
				"url": f.URL, "error": err.Error(),
			})
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, f Feed) error {
	allowed, err := p.robotsAllow(ctx, f.URL)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "ingestion: robots.txt check failed", err)
	}
	if !allowed {
		logger.DebugCF("ingestion", "robots.txt disallows fetch", map[string]interface{}{"url": f.URL})
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", f.URL, nil)
	if err != nil {
		return errs.Wrap(errs.KindData, "ingestion: invalid feed URL", err)
	}
	req.Header.Set("User-Agent", pollerUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "ingestion: fetch failed", err)
	}
	defer resp.Body.Close()

	opts := trafilatura.Options{
		OriginalURL: req.URL,
	}
	extracted, err := trafilatura.Extract(resp.Body, opts)
	if err != nil {
		return errs.Wrap(errs.KindData, "ingestion: extraction failed", err)
	}
	if extracted == nil || strings.TrimSpace(extracted.ContentText) == "" {
		return nil
	}

	env, err := NewEnvelope(extracted.ContentText, f.SourceKind, f.URL, extracted.Metadata.Author, "", "")
	if err != nil {
		return err
	}

	_, err = p.pipeline.Ingest(f.EntityID, env)
	return err
}

func (p *Poller) robotsAllow(ctx context.Context, rawURL string) (bool, error) {
	if !p.respectRobots {
		return true, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}

	if v, ok := p.robotsCache.Load(parsed.Host); ok {
		data := v.(*robotstxt.RobotsData)
		return data.FindGroup(pollerUserAgent).Test(parsed.Path), nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, "GET", robotsURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", pollerUserAgent)

	resp, err := p.client.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		// an unreachable or missing robots.txt is treated as permissive,
		// matching common crawler behavior rather than blocking the feed.
		return true, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return true, nil
	}
	p.robotsCache.Store(parsed.Host, data)
	return data.FindGroup(pollerUserAgent).Test(parsed.Path), nil
}

func pollerIsPrivateHost(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return pollerIsPrivateIP(ip)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return false
	}
	for _, ip := range ips {
		if pollerIsPrivateIP(ip) {
			return true
		}
	}
	return false
}

func pollerIsPrivateIP(ip net.IP) bool {
	ranges := []string{
		"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"169.254.0.0/16", "::1/128", "fc00::/7", "fe80::/10",
	}
	for _, r := range ranges {
		_, network, err := net.ParseCIDR(r)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return ip.IsUnspecified()
}

func pollerSSRFSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if pollerIsPrivateIP(ip.IP) {
			return nil, fmt.Errorf("connections to private/internal addresses are not allowed")
		}
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(host, port))
}
