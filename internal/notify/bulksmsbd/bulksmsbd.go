package bulksmsbd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	providerID  = "bulksmsbd"
	channelName = "SMS"
	apiURL      = "http://bulksmsbd.net/api/smsapi"

	// The vendor's "accepted" response code.
	codeOK = 202
)

var reNum = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// Response codes documented by the vendor, mapped to descriptive
// reasons surfaced on delivery failure.
var codeDesc = map[int]string{
	1001: "invalid number",
	1002: "sender id not correct or disabled",
	1007: "balance insufficient",
	1011: "user id not found",
	1032: "ipn not whitelisted",
}

// BulkSMSBD is an SMS provider backed by the bulksmsbd.net HTTP API.
type BulkSMSBD struct {
	cfg Config
	h   *http.Client
}

type Config struct {
	APIKey   string        `json:"api_key"`
	SenderID string        `json:"sender_id"`
	Timeout  time.Duration `json:"timeout"`
	MaxConns int           `json:"max_conns"`
}

// apiResp represents the response from the bulksmsbd API.
type apiResp struct {
	ResponseCode int    `json:"response_code"`
	SuccessMsg   string `json:"success_message"`
	ErrorMsg     string `json:"error_message"`
}

// New returns a BulkSMSBD SMS provider.
func New(cfg Config) (*BulkSMSBD, error) {
	if cfg.APIKey == "" || cfg.SenderID == "" {
		return nil, errors.New("invalid api_key or sender_id")
	}

	if cfg.Timeout.Seconds() < 1 {
		cfg.Timeout = time.Second * 3
	}

	return &BulkSMSBD{
		cfg: cfg,
		h: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   cfg.MaxConns,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
	}, nil
}

// ID returns the Provider's ID.
func (b *BulkSMSBD) ID() string {
	return providerID
}

// ChannelName returns the Provider's name.
func (b *BulkSMSBD) ChannelName() string {
	return channelName
}

// ValidateAddress validates a phone number.
func (b *BulkSMSBD) ValidateAddress(to string) error {
	if !reNum.MatchString(to) {
		return errors.New("invalid mobile number")
	}
	return nil
}

// Push sends out an SMS.
func (b *BulkSMSBD) Push(ctx context.Context, to, subject string, body []byte) error {
	p := url.Values{}
	p.Set("api_key", b.cfg.APIKey)
	p.Set("senderid", b.cfg.SenderID)
	p.Set("number", to)
	p.Set("message", string(body))
	p.Set("type", "text")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(p.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	r := apiResp{}
	if err := json.Unmarshal(rb, &r); err != nil {
		return fmt.Errorf("malformed response from gateway: %w", err)
	}
	if r.ResponseCode != codeOK {
		if desc, ok := codeDesc[r.ResponseCode]; ok {
			return fmt.Errorf("sms rejected (%d): %s", r.ResponseCode, desc)
		}
		if r.ErrorMsg != "" {
			return errors.New(r.ErrorMsg)
		}
		return fmt.Errorf("sms rejected with code %d", r.ResponseCode)
	}
	return nil
}

// MaxBodyLen returns the max permitted body size.
func (b *BulkSMSBD) MaxBodyLen() int {
	return 330
}
