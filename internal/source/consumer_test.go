package source

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKgoLogrusAdapter_LogIncludesKeyvalsAsFields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	entry := logrus.NewEntry(base)

	adapter := kgoLogrusAdapter{log: entry}
	adapter.Log(kgo.LogLevelWarn, "reconnecting", "broker", "localhost:9092", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, `"broker":"localhost:9092"`) {
		t.Fatalf("expected broker field in log output, got %s", out)
	}
	if !strings.Contains(out, `"msg":"reconnecting"`) {
		t.Fatalf("expected message in log output, got %s", out)
	}
}

func TestKgoLogrusAdapter_LevelIsInfo(t *testing.T) {
	adapter := kgoLogrusAdapter{log: logrus.NewEntry(logrus.New())}
	if adapter.Level() != kgo.LogLevelInfo {
		t.Fatalf("expected LogLevelInfo, got %v", adapter.Level())
	}
}
