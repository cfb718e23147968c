// Package fetcher downloads URL-referenced media into a job working
// directory. Plain URLs are streamed over HTTP; known video hosts go through
// yt-dlp. Every outbound connection is restricted to public addresses.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

// MinFileSize is the smallest download accepted as real media.
const MinFileSize = 1024

var defaultVideoHosts = []string{"youtube.com", "youtu.be", "dailymotion.com"}

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Resolver is the subset of *net.Resolver used for validation.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Options struct {
	// AllowedHosts restricts downloads to these hosts and their subdomains.
	AllowedHosts []string
	// BlockedVideoHosts are rejected with a validation error.
	BlockedVideoHosts []string
	// VideoHosts are delegated to yt-dlp.
	VideoHosts []string
	Timeout    time.Duration
	UserAgent  string
	YtDlpPath  string
}

type Fetcher struct {
	opts     Options
	resolver Resolver
	runner   CommandRunner
	client   *http.Client
	log      *logger.Logger

	ipAllowed func(net.IP) bool
}

func New(opts Options, runner CommandRunner, log *logger.Logger) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0"
	}
	if opts.YtDlpPath == "" {
		opts.YtDlpPath = "yt-dlp"
	}
	if len(opts.VideoHosts) == 0 {
		opts.VideoHosts = defaultVideoHosts
	}
	f := &Fetcher{
		opts:      opts,
		resolver:  net.DefaultResolver,
		runner:    runner,
		log:       log.WithComponent("fetcher"),
		ipAllowed: IsPublicIP,
	}
	f.client = f.newClient()
	return f
}

// newClient builds a client whose dialer re-checks the connected address so
// a DNS answer that changes after validation cannot reach internal hosts.
func (f *Fetcher) newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || !f.ipAllowed(ip) {
				return fmt.Errorf("dial to non-public address %s refused", host)
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: f.opts.Timeout, Transport: transport}
}

// IsPublicIP reports whether ip is a global unicast, non-private address.
func IsPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		// 100.64.0.0/10 carrier-grade NAT, 0.0.0.0/8, 192.0.0.0/24, 198.18.0.0/15
		switch {
		case v4[0] == 0,
			v4[0] == 100 && v4[1]&0xc0 == 64,
			v4[0] == 192 && v4[1] == 0 && v4[2] == 0,
			v4[0] == 198 && v4[1]&0xfe == 18,
			v4[0] >= 240:
			return false
		}
	}
	return ip.IsGlobalUnicast()
}

// CheckURL runs the checks that need no network: scheme, host, allow-list
// and blocked video hosts.
func (f *Fetcher) CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Validation("Invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Validation("Only http and https URLs are allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, errors.Validation("URL must include a hostname")
	}
	if len(f.opts.AllowedHosts) > 0 && !hostMatches(host, f.opts.AllowedHosts) {
		return nil, errors.Validation("Host is not allowed")
	}
	if hostMatches(host, f.opts.BlockedVideoHosts) {
		return nil, errors.Validationf("Videos from %s are not supported. Please upload the file instead.", host)
	}
	return u, nil
}

// ValidateURL is CheckURL plus resolution: every address the host resolves
// to must be public.
func (f *Fetcher) ValidateURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := f.CheckURL(raw)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if !f.ipAllowed(ip) {
			return nil, errors.Validation("IP address is not allowed")
		}
		return u, nil
	}
	addrs, err := f.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return nil, errors.Validation("Unable to resolve host")
	}
	for _, a := range addrs {
		if !f.ipAllowed(a.IP) {
			return nil, errors.Validation("IP address is not allowed")
		}
	}
	return u, nil
}

// IsVideoHost reports whether raw points at a host handled by yt-dlp.
func (f *Fetcher) IsVideoHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return hostMatches(strings.ToLower(u.Hostname()), f.opts.VideoHosts)
}

// Fetch downloads raw into workDir and returns the local path. All failures
// carry the generic download message; the cause is logged.
func (f *Fetcher) Fetch(ctx context.Context, raw, workDir string, maxBytes int64) (string, error) {
	log := f.log.FromContext(ctx)

	p, err := f.fetch(ctx, raw, workDir, maxBytes)
	if err != nil {
		log.Error("download failed", "url", raw, "error", err.Error())
		return "", errors.FetchFailed("fetcher.Fetch", err)
	}
	log.Info("download complete", "url", raw, "path", p)
	return p, nil
}

func (f *Fetcher) fetch(ctx context.Context, raw, workDir string, maxBytes int64) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	u, err := f.ValidateURL(ctx, raw)
	if err != nil {
		return "", err
	}
	if hostMatches(strings.ToLower(u.Hostname()), f.opts.VideoHosts) {
		return f.fetchVideo(ctx, u.String(), workDir, maxBytes)
	}
	return f.fetchHTTP(ctx, u, workDir, maxBytes)
}

func (f *Fetcher) fetchVideo(ctx context.Context, raw, workDir string, maxBytes int64) (string, error) {
	if f.runner == nil {
		return "", fmt.Errorf("no tool runner for video download")
	}
	args := []string{
		"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"--no-playlist",
		"--retries", "10",
		"--fragment-retries", "10",
		"--no-check-certificate",
		"--quiet", "--no-warnings",
		"-o", filepath.Join(workDir, "%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
	}
	if maxBytes > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%d", maxBytes))
	}
	args = append(args, raw)

	out, err := f.runner.Run(ctx, f.opts.YtDlpPath, args...)
	if err != nil {
		return "", fmt.Errorf("yt-dlp: %w", err)
	}

	var p string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			p = line
		}
	}
	if p == "" {
		return "", fmt.Errorf("yt-dlp printed no file path")
	}
	if !within(workDir, p) {
		return "", fmt.Errorf("yt-dlp wrote outside work dir: %s", p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("yt-dlp output missing: %w", err)
	}
	return p, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, workDir string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return "", fmt.Errorf("content length %d exceeds %d", resp.ContentLength, maxBytes)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text") {
		return "", fmt.Errorf("url returned %s, not media", contentType)
	}

	out, err := createUnique(workDir, FilenameFor(u, contentType))
	if err != nil {
		return "", err
	}
	dst := out.Name()

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(out, reader)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("write download: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = os.Remove(dst)
		return "", fmt.Errorf("download exceeded size limit of %d bytes", maxBytes)
	}
	if n < MinFileSize {
		_ = os.Remove(dst)
		return "", fmt.Errorf("downloaded file too small (%d bytes)", n)
	}
	return dst, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename keeps a safe base name for files written to disk.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if len(name) > 100 {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:100-len(ext)] + ext
	}
	return name
}

// FilenameFor derives the on-disk name from the URL path, adding an
// extension from the content type when the path has none.
func FilenameFor(u *url.URL, contentType string) string {
	base := ""
	if p, err := url.PathUnescape(u.Path); err == nil {
		base = SanitizeFilename(p)
	}
	if base == "" || base == "/" {
		base = "downloaded_file"
	}
	if path.Ext(base) != "" {
		return base
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		switch {
		case strings.Contains(mt, "gif"):
			return base + ".gif"
		case strings.Contains(mt, "png"):
			return base + ".png"
		case strings.Contains(mt, "jpeg"), strings.Contains(mt, "jpg"):
			return base + ".jpeg"
		case strings.Contains(mt, "webp"):
			return base + ".webp"
		default:
			return base + ".gif"
		}
	case strings.HasPrefix(mt, "video/"):
		return base + ".mp4"
	default:
		return base + ".bin"
	}
}

// createUnique creates name in dir, or a suffixed sibling when name is
// taken. It never opens an existing file.
func createUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for attempt := 0; attempt < 5; attempt++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		candidate = stem + "-" + uuid.NewString()[:8] + ext
	}
	return nil, fmt.Errorf("no free name for %s in %s", name, dir)
}

func hostMatches(host string, list []string) bool {
	for _, h := range list {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
