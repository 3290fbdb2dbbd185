// Package webhook verifies and ingests tracking pushes from the provider.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/push"
	"github.com/go-playground/validator/v10"
)

const (
	SignatureHeader  = "X-4Portun-Signature"
	TimestampHeader  = "X-4Portun-Timestamp"
	DefaultTolerance = 5 * time.Minute
)

// Payload is the provider's push body.
type Payload struct {
	EventType   string              `json:"eventType" validate:"required"`
	ContainerNo string              `json:"containerNo" validate:"required"`
	Events      []tracking.NodeData `json:"events" validate:"dive"`
	Timestamp   json.RawMessage     `json:"timestamp,omitempty"`
}

type Receiver interface {
	Receive(ctx context.Context, in push.Inbound) (*push.Outcome, error)
}

type Result struct {
	ContainerNo string    `json:"containerNo"`
	EventCount  int       `json:"eventCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Ingestor struct {
	secret    []byte
	tolerance time.Duration
	receiver  Receiver
	validate  *validator.Validate
	now       func() time.Time
}

// New builds an ingestor. With an empty secret every delivery is accepted
// unverified and a warning is logged each time.
func New(secret string, receiver Receiver) *Ingestor {
	if secret == "" {
		slog.Warn("webhook secret is not configured, signatures will not be verified")
	}
	return &Ingestor{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		receiver:  receiver,
		validate:  validator.New(),
		now:       time.Now,
	}
}

func (i *Ingestor) WithTolerance(d time.Duration) *Ingestor {
	if d > 0 {
		i.tolerance = d
	}
	return i
}

func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// Sign returns the hex HMAC-SHA256 of timestamp + "." + body.
func Sign(secret []byte, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(timestamp))
	_, _ = h.Write([]byte("."))
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks the signature over the raw body and that the millisecond
// timestamp lies within the tolerance of now, in either direction.
func (i *Ingestor) Verify(body []byte, signature, timestamp string) error {
	if len(i.secret) == 0 {
		slog.Warn("webhook signature not verified, secret is not configured")
		return nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return apperr.New(apperr.KindUnauthorized, "invalid webhook timestamp")
	}
	skew := i.now().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > i.tolerance {
		return apperr.New(apperr.KindUnauthorized, "webhook timestamp outside tolerance")
	}
	expected := Sign(i.secret, strings.TrimSpace(timestamp), body)
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return apperr.New(apperr.KindUnauthorized, "invalid webhook signature")
	}
	return nil
}

// Ingest verifies one delivery, translates it and hands it to the push
// receiver, which records the attempt and reconciles it as a webhook.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature, timestamp string) (*Result, error) {
	if err := i.Verify(body, signature, timestamp); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("unauthorized").Inc()
		slog.Warn("webhook rejected", "error", err.Error())
		return nil, err
	}

	var p Payload
	in := push.Inbound{Source: models.ProvenanceWebhook, Payload: body}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		in.Err = apperr.New(apperr.KindInvalidInput, "malformed webhook payload")
	} else {
		p.ContainerNo = strings.TrimSpace(p.ContainerNo)
		in.PushType = p.EventType
		in.ContainerNo = p.ContainerNo
		in.Snapshot, in.Err = i.toSnapshot(&p)
	}

	out, err := i.receiver.Receive(ctx, in)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.WebhookRequestsTotal.WithLabelValues("ok").Inc()

	res := &Result{ContainerNo: p.ContainerNo, EventCount: len(p.Events), UpdatedAt: i.now().UTC()}
	if out != nil && out.Result != nil && out.Result.Shipment != nil {
		res.UpdatedAt = out.Result.Shipment.UpdatedAt
	}
	return res, nil
}

func (i *Ingestor) toSnapshot(p *Payload) (*models.Snapshot, error) {
	if err := i.validate.Struct(p); err != nil {
		return nil, apperr.New(apperr.KindInvalidInput, "invalid webhook payload: %s", firstFieldError(err))
	}
	snap := &models.Snapshot{ContainerNo: p.ContainerNo}
	for _, n := range p.Events {
		ev, err := n.ToEvent()
		if err != nil {
			return nil, err
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, nil
}

func firstFieldError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Namespace() + " failed on " + fe.Tag()
	}
	return err.Error()
}
