package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/srg/brc1h/internal/device"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/stretchr/testify/suite"
)

// FakePeripheralTestSuite checks the fake controller against the wire
// format, so session tests can rely on it.
type FakePeripheralTestSuite struct {
	FakePeripheralSuite

	link   device.Link
	frames chan protocol.Frame
	writer device.CharacteristicRef
}

func (s *FakePeripheralTestSuite) SetupTest() {
	s.FakePeripheralSuite.SetupTest()
	s.frames = make(chan protocol.Frame, 8)

	link, err := s.Peripheral.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", time.Second)
	s.Require().NoError(err)
	s.link = link

	refs, err := link.Discover(context.Background())
	s.Require().NoError(err)

	notify, err := device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaNotifyCharUUID)
	s.Require().NoError(err)
	s.writer, err = device.FindCharacteristic(refs, device.MadokaServiceUUID, device.MadokaWriteCharUUID)
	s.Require().NoError(err)

	var r protocol.Reassembler
	s.Require().NoError(link.Subscribe(notify, func(data []byte) {
		if f, status, _ := r.Feed(data); status == protocol.StatusComplete {
			s.frames <- f
		}
	}))
}

func (s *FakePeripheralTestSuite) send(cmd protocol.Command) {
	data, err := protocol.Encode(cmd)
	s.Require().NoError(err)
	chunks, err := protocol.Chunk(data, protocol.ChunkPayload(s.link.MTU()))
	s.Require().NoError(err)
	for _, c := range chunks {
		s.Require().NoError(s.link.Write(s.writer, c))
	}
}

func (s *FakePeripheralTestSuite) receive() (protocol.Frame, bool) {
	select {
	case f := <-s.frames:
		return f, true
	case <-time.After(200 * time.Millisecond):
		return protocol.Frame{}, false
	}
}

func (s *FakePeripheralTestSuite) TestAnswersQueryWithState() {
	s.Peripheral.SetValue(protocol.AttrOutdoorTemperature, 9)
	s.send(protocol.QuerySensors)

	f, ok := s.receive()
	s.Require().True(ok, "a query MUST be answered")

	resp, err := protocol.DecodeResponse(f)
	s.Require().NoError(err)
	s.Equal(22, resp.Values[protocol.AttrIndoorTemperature])
	s.Equal(9, resp.Values[protocol.AttrOutdoorTemperature])
}

func (s *FakePeripheralTestSuite) TestMultiChunkAnswer() {
	// GOAL: Verify answers larger than one notification arrive chunked and reassemble
	//
	// TEST SCENARIO: Query set point (17 params) → several chunks → one complete frame

	s.send(protocol.QuerySetPoint)

	f, ok := s.receive()
	s.Require().True(ok)
	s.Greater(f.Size(), protocol.ChunkPayload(protocol.DefaultMTU), "the set point answer MUST need more than one chunk")

	resp, err := protocol.DecodeResponse(f)
	s.Require().NoError(err)
	s.Equal(25.0, resp.Values[protocol.AttrCoolingSetpoint])
}

func (s *FakePeripheralTestSuite) TestUpdateChangesState() {
	s.send(protocol.SetOperationMode{Mode: protocol.ModeHeat})

	f, ok := s.receive()
	s.Require().True(ok)
	_, err := protocol.DecodeResponse(f)
	s.NoError(err, "an accepted update MUST be acknowledged with status 0")
	s.Equal(protocol.ModeHeat, s.Peripheral.Value(protocol.AttrMode))
	s.Len(s.Peripheral.Requests(), 1)
}

func (s *FakePeripheralTestSuite) TestScriptedFailures() {
	s.Peripheral.DropNext(protocol.OpQueryPowerState, 1).Reject(protocol.OpUpdatePowerState, 0x02)

	s.send(protocol.QueryPowerState)
	_, ok := s.receive()
	s.False(ok, "a dropped request MUST NOT be answered")

	s.send(protocol.SetPowerState{On: true})
	f, ok := s.receive()
	s.Require().True(ok)
	_, err := protocol.DecodeResponse(f)
	s.True(protocol.IsRejected(err))
	s.Equal(false, s.Peripheral.Value(protocol.AttrPower), "a rejected update MUST NOT change state")
}

func (s *FakePeripheralTestSuite) TestCorruptAnswerFailsValidation() {
	s.Peripheral.CorruptNext(1)
	s.send(protocol.QueryPowerState)

	_, ok := s.receive()
	s.False(ok, "a corrupted answer MUST NOT reassemble")

	s.send(protocol.QueryPowerState)
	_, ok = s.receive()
	s.True(ok, "only the next answer is corrupted")
}

func (s *FakePeripheralTestSuite) TestDropClosesLink() {
	s.Peripheral.Drop()

	select {
	case <-s.link.Disconnected():
	case <-time.After(time.Second):
		s.Fail("Drop MUST close the link")
	}
	s.ErrorIs(s.link.Write(s.writer, []byte{0, 1}), device.ErrNotConnected)
	s.False(s.Peripheral.Connected())
}

func (s *FakePeripheralTestSuite) TestUnreachable() {
	s.Peripheral.Drop()
	s.Peripheral.SetReachable(false)

	_, err := s.Peripheral.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", time.Second)
	s.ErrorIs(err, ErrUnreachable)
	s.ErrorIs(err, device.ErrTransport)
	s.Equal(1, s.Peripheral.Connects())
}

func (s *FakePeripheralTestSuite) TestDeviceInformation() {
	refs, err := s.link.Discover(context.Background())
	s.Require().NoError(err)

	ref, err := device.FindCharacteristic(refs, device.DeviceInfoServiceUUID, device.ModelNumberUUID)
	s.Require().NoError(err)
	data, err := s.link.Read(context.Background(), ref)
	s.Require().NoError(err)
	s.Equal("BRC1H519W7", string(data))
}

func TestFakePeripheralTestSuite(t *testing.T) {
	suite.Run(t, new(FakePeripheralTestSuite))
}
