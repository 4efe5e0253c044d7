package containerlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

func stdout(s string) testcontainers.Log {
	return testcontainers.Log{LogType: testcontainers.StdoutLog, Content: []byte(s)}
}

func TestCapture_SplitsChunksIntoLines(t *testing.T) {
	c := New("bridge")

	c.Accept(stdout("starting\nconsumer was "))
	c.Accept(stdout("assigned to partitions\n"))
	c.Accept(stdout("trailing"))

	assert.Equal(t, []string{"starting", "consumer was assigned to partitions", "trailing"}, c.Lines())
	assert.True(t, c.Contains("assigned to partitions"))
	assert.False(t, c.Contains("exception"))
}

func TestCapture_RingKeepsMostRecent(t *testing.T) {
	c := New("broker", WithMaxLines(3))

	for _, l := range []string{"a", "b", "c", "d", "e"} {
		c.Accept(stdout(l + "\n"))
	}

	assert.Equal(t, []string{"c", "d", "e"}, c.Lines())
	assert.Equal(t, "d\ne", c.Tail(2))
	assert.Equal(t, "c\nd\ne", c.String())
}

func TestCapture_DisabledStreams(t *testing.T) {
	c := New("mocks", WithDisabledStreams(testcontainers.StderrLog))

	c.Accept(testcontainers.Log{LogType: testcontainers.StderrLog, Content: []byte("noise\n")})
	c.Accept(stdout("kept\n"))

	assert.Equal(t, []string{"kept"}, c.Lines())
}

func TestCapture_ForwardsToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New("bridge", WithLogger(logger))

	c.Accept(stdout("hello\r\n"))

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "component=bridge")
}

func TestCapture_FileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c := New("broker", WithFileSink(dir))

	c.Accept(stdout("line one\n"))
	c.Accept(stdout("line two\n"))
	require.NoError(t, c.Close())

	data, err := os.ReadFile(filepath.Join(dir, "broker.log"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

type stuckContainer struct {
	testcontainers.Container
	terminated int
}

func (c *stuckContainer) Terminate(context.Context, ...testcontainers.TerminateOption) error {
	c.terminated++
	return fmt.Errorf("daemon unreachable")
}

func TestAbandon(t *testing.T) {
	c := New("broker", WithFileSink(t.TempDir()))
	assert.NoError(t, Abandon(context.Background(), nil, c))

	ctr := &stuckContainer{}
	err := Abandon(context.Background(), ctr, New("target"))
	require.Error(t, err)
	assert.Equal(t, 1, ctr.terminated)
	assert.Contains(t, err.Error(), "daemon unreachable")
}

func TestCapture_Config(t *testing.T) {
	c := New("bridge")
	cfg := c.Config()

	require.Len(t, cfg.Consumers, 1)
	assert.Same(t, c, cfg.Consumers[0])
	assert.Equal(t, "bridge", c.Component())
	assert.True(t, strings.TrimSpace(c.String()) == "")
}
