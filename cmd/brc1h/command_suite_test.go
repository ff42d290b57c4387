package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/srg/brc1h/internal/testutils"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

// CommandTestSuite runs CLI commands against the fake controller.
type CommandTestSuite struct {
	testutils.FakePeripheralSuite

	noColor bool
}

func (s *CommandTestSuite) SetupTest() {
	s.FakePeripheralSuite.SetupTest()
	transportOverride = s.Peripheral
	s.noColor = color.NoColor
	color.NoColor = true
	s.T().Setenv("BRC1H_ADDRESS", "")
}

func (s *CommandTestSuite) TearDownTest() {
	transportOverride = nil
	color.NoColor = s.noColor
	s.FakePeripheralSuite.TearDownTest()
}

// Execute runs the CLI with args and returns stdout and stderr.
func (s *CommandTestSuite) Execute(args ...string) (string, string, error) {
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// WriteConfig stores a configuration file for the test and returns its path.
func (s *CommandTestSuite) WriteConfig(content string) string {
	path := filepath.Join(s.T().TempDir(), "brc1h.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *CommandTestSuite) Text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T())
}
