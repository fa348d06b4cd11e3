package normalizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/faultbridge/pkg/identity"
	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// UEIPrefix prefixes every event type code
	UEIPrefix = "uei.opennms.org/cisco/aci/"

	// Source is recorded on every event
	Source = "faultbridge"

	// HostParam is the parameter carrying the controller host
	HostParam = "apicHost"
)

// ErrMissingCode is returned for a non-cleared record without a code
var ErrMissingCode = errors.New("fault record has no code")

// UnknownSeverityError is a severity value outside the known enumeration
type UnknownSeverityError struct {
	Value string
}

func (e *UnknownSeverityError) Error() string {
	if e.Value == "" {
		return "fault record has no severity"
	}
	return fmt.Sprintf("unmapped fault severity %q", e.Value)
}

// Resolver resolves identity keys
type Resolver interface {
	Resolve(ctx context.Context, key string) (identity.Result, error)
}

// Normalizer converts raw fault attributes into FaultEvents
type Normalizer struct {
	resolver Resolver
	newID    func() string
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a normalizer resolving devices through resolver
func New(resolver Resolver) *Normalizer {
	return &Normalizer{
		resolver: resolver,
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   log.WithComponent("normalizer"),
	}
}

// Normalize builds an event from one fault record. It returns nil, nil for
// an empty attribute map. Every attribute becomes an event parameter and the
// controller host is added as HostParam. A zero createdAt is replaced by
// the current time, so every event leaves here with a timestamp.
func (n *Normalizer) Normalize(ctx context.Context, location string, createdAt time.Time, attrs map[string]string, controllerHost string) (*types.FaultEvent, error) {
	if len(attrs) == 0 {
		return nil, nil
	}

	severity, ok := types.ParseSeverity(attrs["severity"])
	if !ok {
		return nil, &UnknownSeverityError{Value: attrs["severity"]}
	}

	var eventType string
	if severity == types.SeverityCleared {
		eventType = UEIPrefix + "cleared"
	} else {
		code := strings.TrimSpace(attrs["code"])
		if code == "" {
			return nil, ErrMissingCode
		}
		eventType = UEIPrefix + code
	}

	if createdAt.IsZero() {
		createdAt = n.now()
	}

	params := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		params[k] = v
	}
	params[HostParam] = controllerHost

	event := &types.FaultEvent{
		ID:         n.newID(),
		Timestamp:  createdAt,
		Type:       eventType,
		Source:     Source,
		Severity:   severity,
		Host:       controllerHost,
		Location:   location,
		Parameters: params,
	}
	event.Device = n.resolveDevice(ctx, location, objectPath(attrs), controllerHost)

	return event, nil
}

// resolveDevice tries the topology key first and falls back to the
// controller host address
func (n *Normalizer) resolveDevice(ctx context.Context, location, path, host string) *types.DeviceID {
	for _, key := range []string{TopologyKey(location, path), host} {
		if key == "" {
			continue
		}

		res, err := n.resolver.Resolve(ctx, key)
		if err != nil {
			n.logger.Warn().Err(err).Str("key", key).Msg("Device resolution failed")
			continue
		}

		switch res.Status {
		case identity.StatusFound:
			id := res.ID
			return &id
		case identity.StatusInvalidKey:
			n.logger.Error().Str("key", key).Msg("Invalid device resolution key")
		}
	}
	return nil
}

const topologyRoot = "topology"

func objectPath(attrs map[string]string) string {
	if p := attrs["affected"]; p != "" {
		return p
	}
	return attrs["dn"]
}

// TopologyKey derives the resolution key for an object path from its first
// three segments, for example "dc1~topology_pod-1_node-101" for
// "topology/pod-1/node-101/sys/phys-[eth1/1]". Only fabric topology paths
// have a key; it returns "" for anything else or a path that is too short.
func TopologyKey(namespace, path string) string {
	segs := strings.SplitN(path, "/", 4)
	if namespace == "" || len(segs) < 3 || segs[0] != topologyRoot {
		return ""
	}
	for _, s := range segs[:3] {
		if s == "" {
			return ""
		}
	}
	return namespace + identity.Separator + strings.Join(segs[:3], "_")
}
