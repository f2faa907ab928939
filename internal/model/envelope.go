package model

// Envelope is the enqueue request consumed from Kafka and accepted by the API.
type Envelope struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}
