package align

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CloudHandler is called when a cloud payload is received on a subscribed
// topic. cloudID is the configured ID of the topic's cloud; cloud is nil
// when decoding failed.
type CloudHandler func(cloudID string, cloud *Cloud, err error)

// MQTTClient manages the MQTT connection and per-cloud subscriptions.
type MQTTClient struct {
	client       mqtt.Client
	config       *ServiceConfig
	cloudHandler CloudHandler
	isConnected  bool
	mu           sync.RWMutex
}

// ConnectMQTT creates and connects an MQTT client for the configured broker
// and subscribes each configured cloud topic. Broker and credentials can be
// overridden with the MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME and
// MQTT_PASSWORD environment variables.
func ConnectMQTT(config *ServiceConfig, handler CloudHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		return nil, fmt.Errorf("no MQTT broker configured")
	}
	if len(config.Clouds) == 0 {
		return nil, fmt.Errorf("no cloud topics configured")
	}

	client := &MQTTClient{
		config:       config,
		cloudHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "meshalign"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()
	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes every configured cloud topic. Runs again after each
// reconnect, which re-establishes the subscriptions.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to cloud topics...")
	c.setConnected(true)

	for _, cloud := range c.config.Clouds {
		log.Printf("Subscribing to %s for cloud %s", cloud.Topic, cloud.ID)
		token := client.Subscribe(cloud.Topic, 0, c.createCloudHandler(cloud.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", cloud.Topic, token.Error())
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createCloudHandler decodes incoming payloads for one configured cloud and
// forwards them to the registered handler.
func (c *MQTTClient) createCloudHandler(cloudID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received cloud data for %s (topic: %s, size: %d bytes)",
			cloudID, msg.Topic(), len(payload))

		_, cloud, err := ParseCloud(payload)
		if c.cloudHandler != nil {
			c.cloudHandler(cloudID, cloud, err)
		} else if err != nil {
			log.Printf("Error decoding cloud data for %s: %v", cloudID, err)
		}
	}
}

// Publish sends a payload to a topic, retained.
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, true, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected reports whether the client currently holds a connection.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect cleanly shuts down the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}
