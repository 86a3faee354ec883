package main

import (
	"testing"

	"github.com/srg/mdlble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type UUIDsSuite struct {
	CommandSuite
}

func (s *UUIDsSuite) SetupTest() {
	s.CommandSuite.SetupTest()
	uuidsFormat, uuidsMode = "text", ""
}

func (s *UUIDsSuite) TestTextBothModes() {
	out, err := s.ExecuteCommand(rootCmd, "uuids")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
central-client
  State          00000001a12348ce896b4c76973373e6
  Client2Server  00000002a12348ce896b4c76973373e6
  Server2Client  00000003a12348ce896b4c76973373e6
  L2CAP          0000000ba12348ce896b4c76973373e6

peripheral-server
  State          00000005a12348ce896b4c76973373e6
  Client2Server  00000006a12348ce896b4c76973373e6
  Server2Client  00000007a12348ce896b4c76973373e6
  Ident          00000008a12348ce896b4c76973373e6
  L2CAP          0000000aa12348ce896b4c76973373e6
`)
}

func (s *UUIDsSuite) TestJSONSingleMode() {
	out, err := s.ExecuteCommand(rootCmd, "uuids", "--format", "json", "--mode", "peripheral-server")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{
			"mode": "peripheral-server",
			"state": "00000005a12348ce896b4c76973373e6",
			"client2server": "00000006a12348ce896b4c76973373e6",
			"server2client": "00000007a12348ce896b4c76973373e6",
			"ident": "00000008a12348ce896b4c76973373e6",
			"l2cap": "0000000aa12348ce896b4c76973373e6"
		}
	]`)
}

func (s *UUIDsSuite) TestCentralModeHasNoIdent() {
	out, err := s.ExecuteCommand(rootCmd, "uuids", "--format", "json", "--mode", "central-client")
	s.Require().NoError(err)
	s.NotContains(out, "ident")
}

func (s *UUIDsSuite) TestInvalidArguments() {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"mode", []string{"uuids", "--mode", "l2cap"}, "invalid mode 'l2cap'"},
		{"format", []string{"uuids", "--mode", "", "--format", "csv"}, "invalid format 'csv'"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.ExecuteCommand(rootCmd, tt.args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.want)
		})
	}
}

func TestUUIDsSuite(t *testing.T) {
	suite.Run(t, new(UUIDsSuite))
}
