package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakePeripheralSuite provides a fresh FakePeripheral to every test.
//
//	type SessionSuite struct {
//	    testutils.FakePeripheralSuite
//	}
//
//	func (s *SessionSuite) TestPower() {
//	    s.Peripheral.SetValue(protocol.AttrPower, true)
//	    // open a session with session.WithTransport(s.Peripheral)
//	}
type FakePeripheralSuite struct {
	suite.Suite

	Helper     *TestHelper
	Logger     *logrus.Logger
	Peripheral *FakePeripheral
	// Timeout bounds waits in suite helpers.
	Timeout time.Duration
}

func (s *FakePeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Second
	}
}

func (s *FakePeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Peripheral = NewFakePeripheral(s.Logger)
}

func (s *FakePeripheralSuite) TearDownTest() {
	if s.Peripheral != nil {
		s.Peripheral.Drop()
	}
}

// WaitUntil waits for cond within the suite timeout.
func (s *FakePeripheralSuite) WaitUntil(cond func() bool, msgAndArgs ...any) bool {
	return s.Eventually(cond, s.Timeout, 5*time.Millisecond, msgAndArgs...)
}

// JSON returns an asserter bound to the current test.
func (s *FakePeripheralSuite) JSON() *JSONAsserter {
	return NewJSONAsserter(s.T())
}
