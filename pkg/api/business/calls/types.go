package calls

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidPart    = errors.New("invalid message part")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidOutput  = errors.New("invalid output")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleModel     Role = "model"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleModel:
		return true
	}

	return false
}

// Part is one content segment of a message. A part with an empty MimeType is
// plain text; otherwise Data carries the binary payload of that type.
//
// On the wire a text part is a JSON string and a binary part is the pair
// ["<mime-type>", "<base64 payload>"].
type Part struct {
	Text     string
	MimeType string
	Data     []byte
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func BinaryPart(mimeType string, data []byte) Part {
	return Part{MimeType: mimeType, Data: data}
}

func (p Part) IsText() bool {
	return p.MimeType == ""
}

func (p Part) MarshalJSON() ([]byte, error) {
	if p.IsText() {
		return json.Marshal(p.Text)
	}

	return json.Marshal([2]string{p.MimeType, base64.StdEncoding.EncodeToString(p.Data)})
}

func (p *Part) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPart, err)
		}

		*p = TextPart(text)

		return nil
	}

	var pair []string
	if err := json.Unmarshal(trimmed, &pair); err != nil {
		return fmt.Errorf("%w: must be a string or a [mime_type, base64] pair", ErrInvalidPart)
	}

	if len(pair) != 2 || pair[0] == "" {
		return fmt.Errorf("%w: binary part must be a [mime_type, base64] pair", ErrInvalidPart)
	}

	payload, err := base64.StdEncoding.DecodeString(pair[1])
	if err != nil {
		return fmt.Errorf("%w: payload of %s part is not base64: %w", ErrInvalidPart, pair[0], err)
	}

	*p = BinaryPart(pair[0], payload)

	return nil
}

type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b bytes.Buffer

	for _, p := range m.Parts {
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}

	return b.String()
}

// Body is the provider-agnostic payload of a request. Type is an internal
// discriminator and never reaches a provider.
type Body struct {
	Options    Options         `json:"options"`
	Type       string          `json:"type,omitempty"`
	Format     json.RawMessage `json:"format,omitempty"`
	Model      string          `json:"model"`
	Messages   []Message       `json:"messages"`
	Structured bool            `json:"structured"`
}

func (b Body) HasFormat() bool {
	trimmed := bytes.TrimSpace(b.Format)

	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

type Request struct {
	CustomID string `json:"custom_id"`
	Body     Body   `json:"body"`
}

func (r Request) Validate() error {
	if r.CustomID == "" {
		return fmt.Errorf("%w: custom_id is required", ErrInvalidRequest)
	}

	if r.Body.Model == "" {
		return fmt.Errorf("%w: model is required for %q", ErrInvalidRequest, r.CustomID)
	}

	if len(r.Body.Messages) == 0 {
		return fmt.Errorf("%w: messages are required for %q", ErrInvalidRequest, r.CustomID)
	}

	for i, m := range r.Body.Messages {
		if !m.Role.IsValid() {
			return fmt.Errorf("%w: message %d of %q has unknown role %q", ErrInvalidRequest, i, r.CustomID, m.Role)
		}
	}

	return nil
}

// Response is the successful outcome of a request: the raw provider body
// together with the structured flag of the originating request.
type Response struct {
	Body       json.RawMessage `json:"body"`
	Structured bool            `json:"structured"`
}

// Output is the normalized result of one request. Exactly one of Response and
// Error is set.
type Output struct {
	Response *Response `json:"response"`
	Error    *string   `json:"error"`
	CustomID string    `json:"custom_id"`
}

func NewSuccess(customID string, body json.RawMessage, structured bool) Output {
	return Output{
		CustomID: customID,
		Response: &Response{Body: body, Structured: structured},
	}
}

func NewFailure(customID string, message string) Output {
	return Output{
		CustomID: customID,
		Error:    &message,
	}
}

func (o Output) Failed() bool {
	return o.Error != nil
}

func (o Output) ErrorMessage() string {
	if o.Error == nil {
		return ""
	}

	return *o.Error
}

func (o Output) Validate() error {
	if (o.Response == nil) == (o.Error == nil) {
		return fmt.Errorf("%w: exactly one of response and error must be set for %q", ErrInvalidOutput, o.CustomID)
	}

	return nil
}

func (o Output) MarshalJSON() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	type wireOutput Output

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(wireOutput(o)); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
