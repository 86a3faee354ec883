package testutils

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// WaitTimeout bounds every asynchronous assertion made through TestHelper
const WaitTimeout = 2 * time.Second

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger. Output is discarded unless
// the test runs with -v.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// WaitFor fails the test unless cond becomes true within WaitTimeout
func (h *TestHelper) WaitFor(cond func() bool, msgAndArgs ...interface{}) {
	h.T.Helper()
	require.Eventually(h.T, cond, WaitTimeout, 2*time.Millisecond, msgAndArgs...)
}

// WaitForEvent waits until the recorder has seen event at least n times
func (h *TestHelper) WaitForEvent(r *Recorder, event string, n int) {
	h.T.Helper()
	require.Eventually(h.T, func() bool { return r.Count(event) >= n }, WaitTimeout, 2*time.Millisecond,
		"waiting for %d x %s: %s", n, event, r)
}
