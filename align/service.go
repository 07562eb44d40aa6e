package align

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// AlignmentResult is the published outcome of registering one cloud against
// the reference.
type AlignmentResult struct {
	CloudID        string      `json:"cloudId"`
	ReferenceID    string      `json:"referenceId"`
	Transform      [16]float64 `json:"transform"` // Row-major 4×4 homogeneous matrix
	Error          float64     `json:"error"`
	InlierFraction float64     `json:"inlierFraction"`
	Iterations     int         `json:"iterations"`
	Converged      bool        `json:"converged"`
	Timestamp      int64       `json:"timestamp"`
}

// Service registers incoming clouds against a reference cloud and publishes
// the resulting transforms. The reference is the configured reference cloud's
// most recent payload; clouds arriving before it are skipped until one shows
// up.
type Service struct {
	client        *MQTTClient
	config        *ServiceConfig
	publishPrefix string
	referenceID   string
	reference     *Cloud
	results       map[string]*AlignmentResult
	mu            sync.RWMutex
}

// NewService creates a registration service. The client may be nil and
// installed later with SetClient; alignments computed without one are stored
// but not published.
func NewService(client *MQTTClient, config *ServiceConfig) *Service {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" && config.MQTT.PublishPrefix != "" {
		prefix = config.MQTT.PublishPrefix
	}
	if prefix == "" {
		prefix = "meshalign"
	}

	return &Service{
		client:        client,
		config:        config,
		publishPrefix: prefix,
		referenceID:   config.ReferenceID(),
		results:       make(map[string]*AlignmentResult),
	}
}

// SetClient installs the MQTT client used for publishing. The service is
// safe to use as a CloudHandler before the client is installed; payloads
// arriving in that window are still registered, just not published.
func (s *Service) SetClient(client *MQTTClient) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// HandleCloud is the CloudHandler entry point: reference payloads update the
// reference, everything else gets registered and published.
func (s *Service) HandleCloud(cloudID string, cloud *Cloud, err error) {
	if err != nil {
		log.Printf("Error decoding cloud data for %s: %v", cloudID, err)
		return
	}

	if cloudID == s.referenceID {
		s.mu.Lock()
		s.reference = cloud
		s.mu.Unlock()
		log.Printf("Updated reference cloud %s (%d elements)", cloudID, cloud.Len())
		return
	}

	s.mu.RLock()
	reference := s.reference
	s.mu.RUnlock()
	if reference == nil {
		log.Printf("No reference cloud yet, skipping %s", cloudID)
		return
	}

	result, regErr := Register(cloud, reference, s.config.Registration.Config())
	if regErr != nil {
		log.Printf("Registration failed for %s: %v", cloudID, regErr)
		return
	}
	log.Printf("Registered %s against %s: error=%.6f inliers=%.3f iterations=%d converged=%v",
		cloudID, s.referenceID, result.Error, result.InlierFraction, result.Iterations, result.Converged)

	alignment := &AlignmentResult{
		CloudID:        cloudID,
		ReferenceID:    s.referenceID,
		Error:          result.Error,
		InlierFraction: result.InlierFraction,
		Iterations:     result.Iterations,
		Converged:      result.Converged,
		Timestamp:      time.Now().Unix(),
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			alignment.Transform[r*4+c] = result.Transform.At(r, c)
		}
	}

	s.mu.Lock()
	s.results[cloudID] = alignment
	s.mu.Unlock()

	if err := s.publishAlignment(alignment); err != nil {
		log.Printf("Error publishing alignment for %s: %v", cloudID, err)
	}
}

// Result returns the most recent alignment for a cloud, or nil.
func (s *Service) Result(cloudID string) *AlignmentResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[cloudID]
}

// publishAlignment publishes to the per-cloud topic and the combined topic.
func (s *Service) publishAlignment(alignment *AlignmentResult) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return nil
	}
	if !client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(alignment)
	if err != nil {
		return fmt.Errorf("marshaling alignment for %s: %w", alignment.CloudID, err)
	}
	topic := fmt.Sprintf("%s/%s/transform", s.publishPrefix, alignment.CloudID)
	if err := client.Publish(topic, payload); err != nil {
		return err
	}

	s.mu.RLock()
	combined, err := json.Marshal(s.results)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling combined alignments: %w", err)
	}
	return client.Publish(fmt.Sprintf("%s/transforms", s.publishPrefix), combined)
}
