package service

import "encoding/xml"

// twimlResponse is the TwiML document returned to Twilio webhooks.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     string       `xml:"Say,omitempty"`
	Record  *twimlRecord `xml:"Record,omitempty"`
}

type twimlRecord struct {
	Transcribe         bool   `xml:"transcribe,attr"`
	TranscribeCallback string `xml:"transcribeCallback,attr"`
	MaxLength          int    `xml:"maxLength,attr,omitempty"`
}

// voicemailPrompt asks the caller to leave a message. Twilio posts the
// transcription to callback.
func voicemailPrompt(callback string) twimlResponse {
	return twimlResponse{
		Say: "Please leave a message after the beep.",
		Record: &twimlRecord{
			Transcribe:         true,
			TranscribeCallback: callback,
			MaxLength:          120,
		},
	}
}
