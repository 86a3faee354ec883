package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// Addresses used by LinkSuite
const (
	CentralAddress    = "11:22:33:44:55:66"
	PeripheralAddress = "AA:BB:CC:DD:EE:FF"
)

// LinkSuite provides a fresh pair of linked fakes and listener recorders per test.
//
// Basic usage:
//
//	type LoopbackSuite struct {
//	    testutils.LinkSuite
//	}
//
//	func (s *LoopbackSuite) TestHandshake() {
//	    server := transport.NewServerSession(s.Peripheral, cfg, s.ServerEvents)
//	    ...
//	}
//
//	func TestLoopbackSuite(t *testing.T) {
//	    suite.Run(t, new(LoopbackSuite))
//	}
type LinkSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	Central    *FakeCentral
	Peripheral *FakePeripheral
	Air        *Air

	ClientEvents *Recorder
	ServerEvents *Recorder
}

// SetupSuite is called once before all tests in the suite
func (s *LinkSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = WaitTimeout
	s.Logger.Debug("Suite setup completed")
}

// SetupTest links a new central and peripheral before each test
func (s *LinkSuite) SetupTest() {
	// testify swaps T per test; the helper must follow it
	s.Helper.T = s.T()

	s.Central = NewFakeCentral()
	s.Peripheral = NewFakePeripheral()
	s.Air = Link(s.Central, s.Peripheral, CentralAddress)

	s.ClientEvents = NewRecorder()
	s.ServerEvents = NewRecorder()
}

// TearDownTest drops the link so no event outlives its test
func (s *LinkSuite) TearDownTest() {
	if s.Air != nil {
		s.Air.Drop()
	}
	s.Air = nil
}

// WaitFor fails the test unless cond becomes true within TestTimeout
func (s *LinkSuite) WaitFor(cond func() bool, msgAndArgs ...interface{}) {
	s.T().Helper()
	s.Require().Eventually(cond, s.TestTimeout, 2*time.Millisecond, msgAndArgs...)
}
