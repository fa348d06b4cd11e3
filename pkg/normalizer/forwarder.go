package normalizer

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/rs/zerolog"
)

// Sink receives normalized events. Submit must not block beyond enqueue.
type Sink interface {
	Submit(event *types.FaultEvent)
}

// Forwarder normalizes the records of one cluster and submits them to the sink
type Forwarder struct {
	cluster    string
	location   string
	normalizer *Normalizer
	sink       Sink
	now        func() time.Time
	logger     zerolog.Logger
}

// NewForwarder creates a forwarder for cluster
func NewForwarder(cluster types.ClusterConfig, n *Normalizer, sink Sink) *Forwarder {
	return &Forwarder{
		cluster:    cluster.Name,
		location:   cluster.ResolutionNamespace(),
		normalizer: n,
		sink:       sink,
		now:        time.Now,
		logger:     log.WithCluster("forwarder", cluster.Name),
	}
}

// HandleMessage decodes one stream frame and forwards its records. Only an
// undecodable frame is an error; bad records are logged and skipped.
func (f *Forwarder) HandleMessage(ctx context.Context, host string, payload []byte) error {
	resp, err := apic.ParseResponse("stream", payload)
	if err != nil {
		metrics.NormalizeFailures.WithLabelValues(f.cluster, "malformed").Inc()
		return err
	}
	f.Forward(ctx, host, resp.Records)
	return nil
}

// Forward normalizes and submits records, returning how many were submitted
func (f *Forwarder) Forward(ctx context.Context, host string, records []apic.Record) int {
	submitted := 0
	for _, rec := range records {
		event, err := f.normalizer.Normalize(ctx, f.location, f.eventTime(rec.Attributes), rec.Attributes, host)
		if err != nil {
			metrics.NormalizeFailures.WithLabelValues(f.cluster, failureReason(err)).Inc()
			f.logger.Warn().
				Err(err).
				Str("class", rec.Class).
				Str("dn", rec.Attributes["dn"]).
				Msg("Skipping fault record")
			continue
		}
		if event == nil {
			continue
		}

		metrics.EventsNormalized.WithLabelValues(f.cluster, string(event.Severity)).Inc()
		f.sink.Submit(event)
		submitted++
	}
	return submitted
}

// eventTime uses the record's created time unless it is missing,
// unparsable or in the future
func (f *Forwarder) eventTime(attrs apic.Attributes) time.Time {
	now := f.now()
	created, err := apic.ParseTime(attrs["created"])
	if err != nil || created.After(now) {
		return now
	}
	return created
}

func failureReason(err error) string {
	var se *UnknownSeverityError
	switch {
	case errors.As(err, &se):
		return "severity"
	case errors.Is(err, ErrMissingCode):
		return "code"
	default:
		return "other"
	}
}
