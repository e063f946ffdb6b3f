package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClientsConnected tracks the number of currently connected clients
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_clients_connected",
		Help: "Number of currently connected MQTT clients",
	})

	// MessagesReceived counts total messages received
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Total number of MQTT messages received by type",
		},
		[]string{"type"},
	)

	// MessagesSent counts total messages sent
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_messages_sent_total",
			Help: "Total number of MQTT messages sent by type",
		},
		[]string{"type"},
	)

	// BytesReceived tracks bytes received
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_bytes_received_total",
		Help: "Total bytes received from MQTT clients",
	})

	// BytesSent tracks bytes sent
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_bytes_sent_total",
		Help: "Total bytes sent to MQTT clients",
	})

	// ConnectionsTotal counts connections whose CONNECT was accepted
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_connections_total",
		Help: "Total number of accepted MQTT connections",
	})

	// SubscriptionsActive tracks active subscriptions
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_subscriptions_active",
		Help: "Number of active subscriptions",
	})

	// RetainedMessages tracks retained messages
	RetainedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_retained_messages",
		Help: "Number of retained messages",
	})

	// QoSMessagesInflight tracks in-flight QoS 1/2 messages
	QoSMessagesInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqtt_qos_messages_inflight",
			Help: "Number of in-flight QoS 1/2 messages",
		},
		[]string{"qos"},
	)

	// ProtocolViolations counts connections torn down for a malformed
	// frame or an out-of-sequence packet.
	ProtocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_protocol_violations_total",
		Help: "Total number of connections closed for a protocol violation",
	})

	// KeepAliveExpirations counts connections torn down because no
	// packet arrived within 1.5x the client's advertised keep-alive.
	KeepAliveExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_keep_alive_expirations_total",
		Help: "Total number of connections closed for keep-alive expiry",
	})

	// RetransmissionsAbandoned counts QoS 1/2 publications given up on
	// after exhausting their retry budget.
	RetransmissionsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_retransmissions_abandoned_total",
		Help: "Total number of QoS 1/2 publications abandoned after pub_max_retries",
	})
)
