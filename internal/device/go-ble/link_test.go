package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/brc1h/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// mockGattClient implements gattClient for testing
type mockGattClient struct {
	mock.Mock
	disconnected chan struct{}
}

func (m *mockGattClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *mockGattClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockGattClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *mockGattClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *mockGattClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *mockGattClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockGattClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// LinkTestSuite exercises the go-ble link against a mocked GATT client.
type LinkTestSuite struct {
	suite.Suite
	client       *mockGattClient
	transport    *Transport
	originalDial func(context.Context, string) (gattClient, error)

	notifyChar *ble.Characteristic
	writeChar  *ble.Characteristic
	modelChar  *ble.Characteristic
}

func (s *LinkTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.client = &mockGattClient{disconnected: make(chan struct{})}
	s.transport = NewTransport(logger)
	s.transport.writeGap = 0

	s.notifyChar = &ble.Characteristic{UUID: ble.MustParse(device.MadokaNotifyCharUUID), Property: ble.CharNotify}
	s.writeChar = &ble.Characteristic{UUID: ble.MustParse(device.MadokaWriteCharUUID), Property: ble.CharWrite | ble.CharWriteNR}
	s.modelChar = &ble.Characteristic{UUID: ble.UUID16(0x2a24), Property: ble.CharRead}

	s.originalDial = dial
	dial = func(ctx context.Context, address string) (gattClient, error) {
		return s.client, nil
	}
}

func (s *LinkTestSuite) TearDownTest() {
	dial = s.originalDial
}

func (s *LinkTestSuite) profile() *ble.Profile {
	return &ble.Profile{Services: []*ble.Service{
		{
			UUID:            ble.MustParse(device.MadokaServiceUUID),
			Characteristics: []*ble.Characteristic{s.notifyChar, s.writeChar},
		},
		{
			UUID:            ble.UUID16(0x180a),
			Characteristics: []*ble.Characteristic{s.modelChar},
		},
	}}
}

func (s *LinkTestSuite) connect() (device.Link, []device.CharacteristicRef) {
	s.client.On("DiscoverProfile", true).Return(s.profile(), nil).Once()

	l, err := s.transport.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", time.Second)
	s.Require().NoError(err)

	refs, err := l.Discover(context.Background())
	s.Require().NoError(err)
	return l, refs
}

func (s *LinkTestSuite) TestDiscoverNormalizesProfile() {
	// GOAL: Verify discovery exposes every characteristic with normalized UUIDs and properties
	//
	// TEST SCENARIO: Profile with Madoka service and DIS → three refs, notify/write/read

	_, refs := s.connect()

	s.Require().Len(refs, 3)

	notify, err := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaNotifyCharUUID)
	s.Require().NoError(err)
	s.True(notify.Properties.Has(device.PropNotify))

	model, err := device.FindCharacteristic(refs, device.DeviceInfoServiceUUID, device.ModelNumberUUID)
	s.Require().NoError(err, "16-bit DIS characteristics MUST be found by their short UUID")
	s.True(model.Properties.Has(device.PropRead))
}

func (s *LinkTestSuite) TestWriteUsesWriteWithResponse() {
	l, refs := s.connect()
	ref, _ := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaWriteCharUUID)

	s.client.On("WriteCharacteristic", s.writeChar, []byte{0x00, 0x07}, false).Return(nil).Once()

	s.Require().NoError(l.Write(ref, []byte{0x00, 0x07}))
	s.client.AssertExpectations(s.T())
}

func (s *LinkTestSuite) TestWriteErrorIsTransportError() {
	l, refs := s.connect()
	ref, _ := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaWriteCharUUID)

	s.client.On("WriteCharacteristic", s.writeChar, mock.Anything, false).Return(errors.New("device not connected")).Once()

	err := l.Write(ref, []byte{0x01})
	s.ErrorIs(err, device.ErrTransport)
	s.ErrorIs(err, device.ErrNotConnected, "stack errors MUST be normalized")
}

func (s *LinkTestSuite) TestSubscribeDeliversCopies() {
	// GOAL: Verify notification payloads reach the handler as private copies
	//
	// TEST SCENARIO: Stack invokes handler, then reuses its buffer → handler data unchanged

	l, refs := s.connect()
	ref, _ := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaNotifyCharUUID)

	var stackHandler ble.NotificationHandler
	s.client.On("Subscribe", s.notifyChar, false, mock.Anything).
		Run(func(args mock.Arguments) { stackHandler = args.Get(2).(ble.NotificationHandler) }).
		Return(nil).Once()

	var got []byte
	s.Require().NoError(l.Subscribe(ref, func(data []byte) { got = data }))
	s.Require().NotNil(stackHandler)

	buf := []byte{0x00, 0x07, 0x00}
	stackHandler(buf)
	buf[1] = 0xFF

	s.Equal([]byte{0x00, 0x07, 0x00}, got, "handler data MUST NOT alias the stack buffer")
}

func (s *LinkTestSuite) TestDisconnectUnsubscribesAndCancels() {
	l, refs := s.connect()
	ref, _ := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaNotifyCharUUID)

	s.client.On("Subscribe", s.notifyChar, false, mock.Anything).Return(nil).Once()
	s.client.On("Unsubscribe", s.notifyChar, false).Return(nil).Once()
	s.client.On("CancelConnection").Return(nil).Once()

	s.Require().NoError(l.Subscribe(ref, func([]byte) {}))
	s.Require().NoError(l.Disconnect())

	select {
	case <-l.Disconnected():
	default:
		s.Fail("Disconnected channel MUST be closed after Disconnect")
	}

	s.NoError(l.Disconnect(), "second Disconnect MUST be a no-op")
	s.ErrorIs(l.Write(ref, []byte{1}), device.ErrNotConnected)
	s.client.AssertExpectations(s.T())
}

func (s *LinkTestSuite) TestStackDisconnectClosesLink() {
	// GOAL: Verify a disconnection reported by the BLE stack surfaces on the link
	//
	// TEST SCENARIO: Close the client's Disconnected channel → link Disconnected closes

	l, _ := s.connect()
	close(s.client.disconnected)

	select {
	case <-l.Disconnected():
	case <-time.After(time.Second):
		s.Fail("link MUST observe the stack disconnection")
	}
}

func (s *LinkTestSuite) TestReadCharacteristic() {
	l, refs := s.connect()
	ref, _ := device.FindCharacteristic(refs, device.DeviceInfoServiceUUID, device.ModelNumberUUID)

	s.client.On("ReadCharacteristic", s.modelChar).Return([]byte("BRC1H519W7"), nil).Once()

	data, err := l.Read(context.Background(), ref)
	s.Require().NoError(err)
	s.Equal("BRC1H519W7", string(data))
}

func (s *LinkTestSuite) TestStalledReadHonorsContext() {
	// GOAL: Verify a read the stack never answers is abandoned at the caller's deadline
	//
	// TEST SCENARIO: ReadCharacteristic blocks 1s → Read with a 50ms context returns DeadlineExceeded promptly

	l, refs := s.connect()
	ref, _ := device.FindCharacteristic(refs, device.DeviceInfoServiceUUID, device.ModelNumberUUID)

	s.client.On("ReadCharacteristic", s.modelChar).After(time.Second).Return([]byte("BRC1H519W7"), nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Read(ctx, ref)

	s.ErrorIs(err, context.DeadlineExceeded)
	s.Less(time.Since(start), 500*time.Millisecond, "a stalled read MUST NOT outlive the context")
}

func (s *LinkTestSuite) TestUnknownCharacteristic() {
	l, _ := s.connect()

	err := l.Write(device.CharacteristicRef{Service: "180f", UUID: "2a19"}, []byte{1})
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *LinkTestSuite) TestConnectFailureIsTransportError() {
	dial = func(ctx context.Context, address string) (gattClient, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	_, err := s.transport.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", time.Second)
	s.ErrorIs(err, device.ErrTransport)
	s.ErrorIs(err, device.ErrBluetoothOff)

	_, err = s.transport.Connect(context.Background(), " ", time.Second)
	s.ErrorContains(err, "empty")
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}
