package model

type TextMessage struct {
	Text string `json:"text"`
}

// OutboundSMS is the text-message envelope the gateway accepts.
type OutboundSMS struct {
	TextMessage  TextMessage `json:"textMessage"`
	PhoneNumbers []string    `json:"phoneNumbers"`
}

func NewOutboundSMS(to, text string) OutboundSMS {
	return OutboundSMS{
		TextMessage:  TextMessage{Text: text},
		PhoneNumbers: []string{to},
	}
}
