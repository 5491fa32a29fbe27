package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/knadh/stuffbin"
)

// Provider is an interface for a messaging backend, for instance,
// SMS or e-mail.
type Provider interface {
	// ID returns the name of the Provider.
	ID() string

	// ChannelName returns the name of the channel the provider
	// delivers on, for example "SMS" or "E-mail".
	ChannelName() string

	// ValidateAddress validates the 'to' address the Provider is
	// supposed to deliver to, for instance, a phone number or an
	// e-mail address.
	ValidateAddress(to string) error

	// Push sends a message. A non-nil error carries the backend's
	// descriptive reason for the failure.
	Push(ctx context.Context, to, subject string, body []byte) error

	// MaxBodyLen returns the maximum permitted length of the text
	// that can be sent by the Provider.
	MaxBodyLen() int
}

// TplData is the payload available to message templates.
type TplData struct {
	Brand         string
	OTP           string
	ExpiryMinutes int
	OrderID       string
	Amount        float64
	TTL           time.Duration
}

// Renderer compiles message bodies from templates loaded off a
// stuffbin filesystem.
type Renderer struct {
	tpl *template.Template
}

// NewRenderer parses all message templates from the given filesystem.
func NewRenderer(fs stuffbin.FileSystem) (*Renderer, error) {
	tpl := template.New("messages").Funcs(sprig.TxtFuncMap())

	for _, path := range fs.List() {
		b, err := fs.Read(path)
		if err != nil {
			return nil, fmt.Errorf("error reading template %s: %w", path, err)
		}
		if _, err := tpl.New(tplName(path)).Parse(string(b)); err != nil {
			return nil, fmt.Errorf("error parsing template %s: %w", path, err)
		}
	}

	return &Renderer{tpl: tpl}, nil
}

// NewRendererFromStrings parses templates from a name to body map.
// Used where no filesystem is available, eg: tests.
func NewRendererFromStrings(tpls map[string]string) (*Renderer, error) {
	tpl := template.New("messages").Funcs(sprig.TxtFuncMap())
	for name, body := range tpls {
		if _, err := tpl.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("error parsing template %s: %w", name, err)
		}
	}
	return &Renderer{tpl: tpl}, nil
}

// Render executes the named template with the given data.
func (r *Renderer) Render(name string, data TplData) ([]byte, error) {
	out := &bytes.Buffer{}
	if err := r.tpl.ExecuteTemplate(out, name, data); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(out.Bytes()), nil
}

// tplName derives a template name from its file path,
// eg: /static/sms_otp.tpl -> sms_otp.
func tplName(path string) string {
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}
