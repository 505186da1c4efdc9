// Command dispatchctl is an operator diagnostic: it loads a service
// config directory the same way dispatcherd does and reports, per
// service, whether its ingress socket is currently reachable. It does
// not exercise the wire protocol beyond connect/close, so a healthy
// report means "the daemon is listening," not "the service is active."
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jfdispatch/dispatcherd/internal/config"
)

type serviceHealth struct {
	Name            string `json:"name"`
	ConfigID        int32  `json:"config_id"`
	IngressPath     string `json:"ingress_path"`
	IngressUp       bool   `json:"ingress_up"`
	Error           string `json:"error,omitempty"`
	PublishedCount  int    `json:"published_count"`
	SubscribedCount int    `json:"subscribed_count"`
}

func checkIngress(path string, timeout time.Duration) (bool, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return false, err
	}
	return true, conn.Close()
}

func main() {
	configDir := flag.String("config-dir", "", "directory of service YAML files (same as dispatcherd --config-dir)")
	timeout := flag.Duration("timeout", 500*time.Millisecond, "per-socket dial timeout")
	flag.Parse()

	if *configDir == "" {
		fmt.Fprintln(os.Stderr, "dispatchctl: --config-dir is required")
		os.Exit(2)
	}

	store, err := config.Scan(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: scan %s: %v\n", *configDir, err)
		os.Exit(1)
	}

	report := make([]serviceHealth, 0, len(store.All()))
	unhealthy := 0
	for _, svc := range store.All() {
		h := serviceHealth{
			Name:            svc.Name,
			ConfigID:        svc.ConfigID,
			IngressPath:     svc.MessagingOutPath,
			PublishedCount:  len(svc.Published),
			SubscribedCount: len(svc.Subscribed),
		}
		up, dialErr := checkIngress(svc.MessagingOutPath, *timeout)
		h.IngressUp = up
		if dialErr != nil {
			h.Error = dialErr.Error()
		}
		if !up {
			unhealthy++
		}
		report = append(report, h)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "dispatchctl: encode report: %v\n", err)
		os.Exit(1)
	}

	if unhealthy > 0 {
		os.Exit(1)
	}
}
