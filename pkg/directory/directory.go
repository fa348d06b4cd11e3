package directory

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/cuemby/faultbridge/pkg/log"
	"github.com/cuemby/faultbridge/pkg/types"
	"gopkg.in/yaml.v3"
)

// Device is one locally known device
type Device struct {
	ID            int64       `yaml:"id"`
	Label         string      `yaml:"label"`
	ForeignSource string      `yaml:"foreign_source"`
	ForeignID     string      `yaml:"foreign_id"`
	Addresses     []string    `yaml:"addresses"`
	Interfaces    []Interface `yaml:"interfaces"`
}

// Interface is a sub-component of a device with its own address
type Interface struct {
	ID      int64  `yaml:"id"`
	Address string `yaml:"address"`
}

type document struct {
	Devices []Device `yaml:"devices"`
}

// Directory answers device lookups from an in-memory index built from a
// YAML document. It is safe for concurrent use and can be reloaded.
type Directory struct {
	path string

	mu        sync.RWMutex
	byForeign map[string]types.DeviceID
	byAddress map[string]types.DeviceID
}

// New builds a directory from devices
func New(devices []Device) *Directory {
	d := &Directory{}
	d.index(devices)
	return d
}

// Load reads a directory file
func Load(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the backing file. On error the previous index is kept.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read device directory: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse device directory: %w", err)
	}

	d.index(doc.Devices)
	logger := log.WithComponent("directory")
	logger.Info().
		Str("path", d.path).
		Int("devices", len(doc.Devices)).
		Msg("Device directory loaded")
	return nil
}

func (d *Directory) index(devices []Device) {
	byForeign := make(map[string]types.DeviceID)
	byAddress := make(map[string]types.DeviceID)

	for _, dev := range devices {
		id := types.DeviceID{ID: dev.ID}
		if dev.ForeignSource != "" && dev.ForeignID != "" {
			byForeign[dev.ForeignSource+"~"+dev.ForeignID] = id
		}
		for _, addr := range dev.Addresses {
			byAddress[addr] = id
		}
		for _, iface := range dev.Interfaces {
			if iface.Address == "" {
				continue
			}
			byAddress[iface.Address] = types.DeviceID{
				ID:        dev.ID,
				Component: strconv.FormatInt(iface.ID, 10),
			}
		}
	}

	d.mu.Lock()
	d.byForeign = byForeign
	d.byAddress = byAddress
	d.mu.Unlock()
}

// LookupByCompositeKey finds a device by its foreign source and foreign id
func (d *Directory) LookupByCompositeKey(ctx context.Context, namespace, localID string) (types.DeviceID, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.DeviceID{}, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byForeign[namespace+"~"+localID]
	return id, ok, nil
}

// LookupByAddress finds a device (or device interface) by network address
func (d *Directory) LookupByAddress(ctx context.Context, addr string) (types.DeviceID, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.DeviceID{}, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byAddress[addr]
	return id, ok, nil
}

// Len returns the number of indexed foreign keys and addresses
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byForeign) + len(d.byAddress)
}
