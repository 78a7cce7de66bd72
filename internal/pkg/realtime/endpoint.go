package realtime

import (
	"Storefront/internal/pkg/consts"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrNoEndpoint = errors.New("realtime endpoint not configured")

// ResolveEndpoint 显式覆盖优先，否则 baseURL + 固定路径；http(s) 映射为 ws(s)
func ResolveEndpoint(override, baseURL, hubPath string) (string, error) {
	raw := strings.TrimSpace(override)
	if raw == "" {
		base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if base == "" {
			return "", ErrNoEndpoint
		}
		if hubPath == "" {
			hubPath = consts.ChatHubPath
		}
		raw = base + "/" + strings.TrimLeft(hubPath, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %q", raw)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return u.String(), nil
}
