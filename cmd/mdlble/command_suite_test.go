package main

import (
	"bytes"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandSuite swaps the adapter factory for a fake and runs commands in-process
type CommandSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	adapter         *testutils.FakeAdapter
	originalAdapter func(*logrus.Logger) (device.Adapter, error)
	originalNoColor bool
}

func (s *CommandSuite) SetupSuite() {
	s.originalAdapter = newAdapter
	s.originalNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandSuite) TearDownSuite() {
	newAdapter = s.originalAdapter
	color.NoColor = s.originalNoColor
}

func (s *CommandSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.adapter = testutils.NewFakeAdapter("11:22:33:44:55:66", "terminal")
	newAdapter = func(*logrus.Logger) (device.Adapter, error) {
		return s.adapter, nil
	}
}

// ExecuteCommand runs the root command with args and returns stdout and the error
func (s *CommandSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
