package alerts_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ashita-ai/kensa/internal/alerts"
	"github.com/ashita-ai/kensa/internal/model"
)

func TestPubSubNotifierPublishesAlerts(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := pubsub.NewClient(ctx, "kensa-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "ops-alerts")
	require.NoError(t, err)

	n, err := alerts.NewPubSubNotifier(ctx, "kensa-test", "ops-alerts", option.WithGRPCConn(conn))
	require.NoError(t, err)

	fired := []model.Alert{
		{ID: alerts.RuleEmergencyCronMissing, Area: "emergency_cron", Severity: model.SeverityCritical,
			Message: "Emergency cron has no recorded successes"},
		{ID: alerts.RuleSearchLatency, Area: "search", Severity: model.SeverityWarning, Message: "Search P95 4100ms"},
	}
	require.NoError(t, n.Notify(ctx, fired))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	byID := map[string]*pstest.Message{}
	for _, m := range msgs {
		byID[m.Attributes["id"]] = m
	}
	crit := byID[alerts.RuleEmergencyCronMissing]
	require.NotNil(t, crit)
	assert.Equal(t, "critical", crit.Attributes["severity"])
	assert.Equal(t, "emergency_cron", crit.Attributes["area"])

	var decoded model.Alert
	require.NoError(t, json.Unmarshal(crit.Data, &decoded))
	assert.Equal(t, "Emergency cron has no recorded successes", decoded.Message)
}
