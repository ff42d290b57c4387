package testutils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles the per-test logger shared by the fake peripheral and
// the session under test.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a helper whose logger runs at debug level, so frame
// traffic of a failing test shows up in the go test output. Set
// BRC1H_TEST_QUIET to keep test runs silent.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.StampMicro})
	if _, quiet := os.LookupEnv("BRC1H_TEST_QUIET"); quiet {
		logger.SetLevel(logrus.PanicLevel)
	}
	return &TestHelper{T: t, Logger: logger}
}

// ProjectRoot walks up from the working directory to the module root.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for {
		_, err := os.Stat(filepath.Join(dir, "go.mod"))
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find module root: go.mod not found")
		}
		dir = parent
	}
}

// LoadFixture reads a file such as configs/brc1h.example.yaml relative to
// the module root.
func LoadFixture(relPath string) ([]byte, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", relPath, err)
	}
	return data, nil
}
