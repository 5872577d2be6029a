package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oggyb/studymatch/internal/logger"
)

const offlinePath = "/api/presence/offline"

// Beacon posts the offline signal in the background and never reports the
// outcome. The token rides in a text/plain body, the form a page-unload
// beacon can send.
type Beacon struct {
	url    string
	client *http.Client
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewBeacon(baseURL string) *Beacon {
	return &Beacon{
		url:    strings.TrimRight(baseURL, "/") + offlinePath,
		client: &http.Client{Timeout: 3 * time.Second},
		log:    logger.L(),
	}
}

// SendOffline implements presence.Beacon.
func (b *Beacon) SendOffline(token string) {
	if token == "" {
		return
	}
	body, _ := json.Marshal(map[string]string{"token": token})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		resp, err := b.client.Post(b.url, "text/plain;charset=UTF-8", bytes.NewReader(body))
		if err != nil {
			b.log.Debug("offline beacon not delivered", "err", err)
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			b.log.Debug("offline beacon refused", "status", resp.StatusCode)
		}
	}()
}

// Wait blocks until in-flight beacons finish, for process shutdown.
func (b *Beacon) Wait() { b.wg.Wait() }
