package proxyapi

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// providerPassthroughHandler reverse-proxies any /v1/{provider}/... request
// that isn't one of the completion endpoints registered above it, straight
// through to that provider's configured base URL — per §6, routes other
// than the completion endpoints are transparent passthroughs rather than
// gateway-mediated calls.
func (s *Server) providerPassthroughHandler(c *echo.Context) error {
	name := c.Param("provider")
	p, ok := s.providerBaseURLs[name]
	if !ok || p == "" {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider: "+name)
	}

	target, err := url.Parse(p)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "invalid upstream base url for provider: "+name)
	}

	suffix := c.Param("*")
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = singleJoiningSlash(target.Path, suffix)
			pr.Out.Host = target.Host
		},
	}
	proxy.ServeHTTP(c.Response(), c.Request())
	return nil
}

// singleJoiningSlash joins a base path and a suffix path with exactly one
// slash between them, mirroring httputil's own (unexported) helper.
func singleJoiningSlash(base, suffix string) string {
	baseSlash := strings.HasSuffix(base, "/")
	suffixSlash := strings.HasPrefix(suffix, "/")
	switch {
	case baseSlash && suffixSlash:
		return base + suffix[1:]
	case !baseSlash && !suffixSlash:
		return base + "/" + suffix
	default:
		return base + suffix
	}
}
