package core

import "time"

// Alert priorities written by the pipeline's detectors.
const (
	// CorrelatorAlertPriority is carried by every alert the correlator writes.
	CorrelatorAlertPriority = 10
	// AnomalyAlertPriority is carried by the anomaly detector's standalone alerts.
	AnomalyAlertPriority = 7
)

// Detector labels used for alert rule names and metric labels.
const (
	// IntelligentAlertName labels correlator alerts that fired without a rule hit.
	IntelligentAlertName = "Intelligent Alert"
	// AnomalyAlertName labels the anomaly detector's own alerts.
	AnomalyAlertName = "UEBA Anomaly"
)

// HTTP client defaults shared by outbound integrations.
const (
	HTTPClientMaxIdleConns        = 100
	HTTPClientMaxIdleConnsPerHost = 10
	HTTPClientIdleConnTimeout     = 90 * time.Second
)

// MaxErrorMessageLength caps error text returned to HTTP clients.
const MaxErrorMessageLength = 200
