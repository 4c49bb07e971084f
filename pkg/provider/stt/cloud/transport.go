package cloud

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

// NewHTTPClient returns the client used for cloud transcription requests: an
// HTTP/2 capable transport wrapped with OpenTelemetry tracing. timeout bounds
// the whole request including the upload.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		slog.Warn("cloud: http2 transport unavailable, using HTTP/1.1", "error", err)
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(tr),
		Timeout:   timeout,
	}
}
