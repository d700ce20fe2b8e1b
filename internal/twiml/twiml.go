// Package twiml builds the voice response scripts returned to the telephony
// provider from the voice webhook. A script is an ordered list of verbs
// (Say, Gather, Hangup) rendered as TwiML XML. Responses are built by value:
// With returns a new Response, leaving the receiver untouched, so a partially
// built script can never leak into the transport layer.
package twiml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
)

// ErrEmptyScript is returned when validating a response with no verbs.
var ErrEmptyScript = errors.New("voice script has no verbs")

// ErrNoTerminator is returned when a script does not end the call turn with
// either a Gather (listen again) or a Hangup.
var ErrNoTerminator = errors.New("voice script must end with gather or hangup")

// Verb is a single directive in a voice response script.
type Verb interface {
	verb()
}

// Say speaks the given text to the caller.
type Say struct {
	Text string
}

// Gather prompts the caller and listens for speech. Hints bias the provider's
// speech recognizer toward the expected vocabulary; they are never read aloud.
type Gather struct {
	Action        string // webhook URL the provider posts the transcript to
	Hints         string // comma-separated expected words
	Language      string // recognition language, e.g. "en-US"
	SpeechTimeout string // provider speech endpointing, e.g. "auto"
	Record        bool   // record the caller's attempt
	Prompt        string // text spoken before listening
}

// Hangup ends the call.
type Hangup struct{}

func (Say) verb()    {}
func (Gather) verb() {}
func (Hangup) verb() {}

// Response is an ordered voice response script.
type Response struct {
	verbs []Verb
}

// New creates a response from the given verbs.
func New(verbs ...Verb) Response {
	return Response{verbs: verbs}
}

// With returns a copy of the response with the verb appended.
func (r Response) With(v Verb) Response {
	out := make([]Verb, 0, len(r.verbs)+1)
	out = append(out, r.verbs...)
	out = append(out, v)
	return Response{verbs: out}
}

// Verbs returns the ordered verb list.
func (r Response) Verbs() []Verb {
	return r.verbs
}

// Validate checks that the script is non-empty and leaves the provider with a
// next action: the final verb must be a Gather or a Hangup.
func (r Response) Validate() error {
	if len(r.verbs) == 0 {
		return ErrEmptyScript
	}
	switch r.verbs[len(r.verbs)-1].(type) {
	case Gather:
		return nil
	case Hangup:
		return nil
	default:
		return ErrNoTerminator
	}
}

// xmlSay is the serialized form of Say.
type xmlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

// xmlGather is the serialized form of Gather. The nested Say is the prompt
// spoken before the provider starts listening.
type xmlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Hints         string   `xml:"hints,attr,omitempty"`
	Language      string   `xml:"language,attr,omitempty"`
	Record        string   `xml:"record,attr,omitempty"`
	Say           *xmlSay  `xml:"Say,omitempty"`
}

type xmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type xmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Render validates the script and serializes it as a TwiML XML document.
func (r Response) Render() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	doc := xmlResponse{}
	for _, v := range r.verbs {
		switch v := v.(type) {
		case Say:
			doc.Verbs = append(doc.Verbs, xmlSay{Text: v.Text})
		case Gather:
			g := xmlGather{
				Input:         "speech",
				Action:        v.Action,
				Method:        "POST",
				SpeechTimeout: v.SpeechTimeout,
				Hints:         v.Hints,
				Language:      v.Language,
			}
			if g.SpeechTimeout == "" {
				g.SpeechTimeout = "auto"
			}
			if v.Record {
				g.Record = "true"
			}
			if v.Prompt != "" {
				g.Say = &xmlSay{Text: v.Prompt}
			}
			doc.Verbs = append(doc.Verbs, g)
		case Hangup:
			doc.Verbs = append(doc.Verbs, xmlHangup{})
		default:
			return nil, fmt.Errorf("unknown verb %T", v)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding voice script: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding voice script: %w", err)
	}
	return buf.Bytes(), nil
}
