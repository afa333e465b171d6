package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceive(t *testing.T) {
	t.Parallel()

	ch := make(chan string, 1)
	ch <- "scan"
	assert.Equal(t, "scan", Receive(t, ch, time.Second, "no value"))

	done := make(chan struct{})
	close(done)
	WaitClosed(t, done, time.Second, "not closed")
}
