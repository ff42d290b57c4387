package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/groutine"
	"github.com/srg/brc1h/internal/protocol"
)

// link is a live go-ble connection to one peripheral.
type link struct {
	client  gattClient
	address string
	logger  *logrus.Logger

	mu         sync.RWMutex
	chars      map[device.CharacteristicRef]*ble.Characteristic
	subscribed map[device.CharacteristicRef]*ble.Characteristic
	mtu        int

	writeMu   sync.Mutex
	writeGap  time.Duration
	lastWrite time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(client gattClient, address string, logger *logrus.Logger, writeGap time.Duration) *link {
	return &link{
		client:     client,
		address:    address,
		logger:     logger,
		chars:      make(map[device.CharacteristicRef]*ble.Characteristic),
		subscribed: make(map[device.CharacteristicRef]*ble.Characteristic),
		mtu:        protocol.DefaultMTU,
		writeGap:   writeGap,
		done:       make(chan struct{}),
	}
}

// exchangeMTU negotiates a larger MTU where the stack supports it. CoreBluetooth
// negotiates on its own and reports an error here, which leaves the default.
func (l *link) exchangeMTU() {
	exchanger, ok := l.client.(interface{ ExchangeMTU(int) (int, error) })
	if !ok {
		return
	}
	mtu, err := exchanger.ExchangeMTU(preferredMTU)
	if err != nil {
		l.logger.WithField("error", err).Debug("MTU exchange not available, using default")
		return
	}
	l.mu.Lock()
	l.mtu = mtu
	l.mu.Unlock()
}

// monitor watches the go-ble client Disconnected() channel where the platform provides one
func (l *link) monitor() {
	watcher, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		l.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
		select {
		case <-watcher.Disconnected():
			l.logger.WithField("address", l.address).Warn("BLE stack reported disconnection")
			l.markClosed()
		case <-l.done:
		}
	})
}

func (l *link) markClosed() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Discover walks the GATT profile and returns every characteristic found.
func (l *link) Discover(ctx context.Context) ([]device.CharacteristicRef, error) {
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}

	type result struct {
		profile *ble.Profile
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := l.client.DiscoverProfile(true)
		ch <- result{p, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"error":   res.err,
		}).Error("Failed to discover profile")
		return nil, fmt.Errorf("%w: failed to discover profile: %w", device.ErrTransport, device.NormalizeError(res.err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var refs []device.CharacteristicRef
	for _, svc := range res.profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			ref := device.CharacteristicRef{
				Service:    svcUUID,
				UUID:       device.NormalizeUUID(c.UUID.String()),
				Properties: convertProperty(c.Property),
			}
			l.chars[ref] = c
			refs = append(refs, ref)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"address":         l.address,
		"services":        len(res.profile.Services),
		"characteristics": len(refs),
	}).Debug("Profile discovered successfully")
	return refs, nil
}

func (l *link) lookup(ref device.CharacteristicRef) (*ble.Characteristic, error) {
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chars[ref]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ref.Service, ref.UUID}}
	}
	return c, nil
}

// Write sends one ATT write, pacing consecutive writes by writeGap.
func (l *link) Write(ref device.CharacteristicRef, data []byte) error {
	c, err := l.lookup(ref)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if wait := l.writeGap - time.Since(l.lastWrite); wait > 0 {
		time.Sleep(wait)
	}
	noRsp := !ref.Properties.Has(device.PropWrite) && ref.Properties.Has(device.PropWriteNoResponse)
	err = l.client.WriteCharacteristic(c, data, noRsp)
	l.lastWrite = time.Now()
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", device.ErrTransport, ref, device.NormalizeError(err))
	}
	return nil
}

func (l *link) Read(ctx context.Context, ref device.CharacteristicRef) ([]byte, error) {
	c, err := l.lookup(ref)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := l.client.ReadCharacteristic(c)
		ch <- result{data, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"char":    ref.String(),
		}).Warn("Characteristic read abandoned")
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", device.ErrTransport, ref, device.NormalizeError(res.err))
	}
	return res.data, nil
}

// Subscribe enables notifications (or indications when notify is not
// supported). The handler receives a private copy of every value.
func (l *link) Subscribe(ref device.CharacteristicRef, handler func([]byte)) error {
	c, err := l.lookup(ref)
	if err != nil {
		return err
	}
	ind := !ref.Properties.Has(device.PropNotify) && ref.Properties.Has(device.PropIndicate)
	err = l.client.Subscribe(c, ind, func(req []byte) {
		data := make([]byte, len(req))
		copy(data, req)
		handler(data)
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", device.ErrTransport, ref, device.NormalizeError(err))
	}

	l.mu.Lock()
	l.subscribed[ref] = c
	l.mu.Unlock()
	return nil
}

func (l *link) Unsubscribe(ref device.CharacteristicRef) error {
	l.mu.Lock()
	c, ok := l.subscribed[ref]
	delete(l.subscribed, ref)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	ind := !ref.Properties.Has(device.PropNotify) && ref.Properties.Has(device.PropIndicate)
	if err := l.client.Unsubscribe(c, ind); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %w", device.ErrTransport, ref, device.NormalizeError(err))
	}
	return nil
}

func (l *link) Disconnected() <-chan struct{} {
	return l.done
}

func (l *link) MTU() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mtu
}

// Disconnect unsubscribes remaining subscriptions and cancels the connection.
// Calling it on a closed link is a no-op.
func (l *link) Disconnect() error {
	if l.isClosed() {
		return nil
	}

	l.mu.Lock()
	subs := l.subscribed
	l.subscribed = make(map[device.CharacteristicRef]*ble.Characteristic)
	l.mu.Unlock()

	for ref, c := range subs {
		ind := !ref.Properties.Has(device.PropNotify) && ref.Properties.Has(device.PropIndicate)
		if err := l.client.Unsubscribe(c, ind); err != nil {
			l.logger.WithFields(logrus.Fields{
				"char":  ref.String(),
				"error": err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	err := l.client.CancelConnection()
	l.markClosed()

	if err != nil {
		l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return device.NormalizeError(err)
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected")
	return nil
}

func convertProperty(p ble.Property) device.Property {
	var out device.Property
	if p&ble.CharRead != 0 {
		out |= device.PropRead
	}
	if p&ble.CharWrite != 0 {
		out |= device.PropWrite
	}
	if p&ble.CharWriteNR != 0 {
		out |= device.PropWriteNoResponse
	}
	if p&ble.CharNotify != 0 {
		out |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= device.PropIndicate
	}
	return out
}
