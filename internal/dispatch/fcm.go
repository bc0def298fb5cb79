package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

// FCMPusher delivers ride offers to drivers with no live connection by
// posting to an FCM HTTPv1 endpoint.
type FCMPusher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMPusher(endpoint, key string) *FCMPusher {
	return &FCMPusher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMPusher) Offer(driverID string, notice models.TripOfferNotice) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"topic": "driver." + driverID,
			"data": map[string]interface{}{
				"type":  models.EvTripOfferUpdate,
				"offer": notice,
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm push: unexpected status %d", resp.StatusCode)
	}
	return nil
}
