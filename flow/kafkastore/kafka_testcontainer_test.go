//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkastore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/streamfold/flow"
	"github.com/streamfold/flow/kafkastore"
)

func setupKafkaContainer(t *testing.T) (brokers []string, cleanup func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image: "docker.io/apache/kafka-native:latest",
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.NetworkMode = "host"
		},
		User: "root",
		Env: map[string]string{
			"KAFKA_NODE_ID":                   "1",
			"KAFKA_PROCESS_ROLES":             "broker,controller",
			"KAFKA_CONTROLLER_QUORUM_VOTERS":  "1@localhost:9093",
			"KAFKA_CONTROLLER_LISTENER_NAMES": "CONTROLLER",

			"KAFKA_LISTENERS":                      "PLAINTEXT://0.0.0.0:9092,CONTROLLER://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":           "PLAINTEXT://localhost:9092",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP": "PLAINTEXT:PLAINTEXT,CONTROLLER:PLAINTEXT",
			"KAFKA_INTER_BROKER_LISTENER_NAME":     "PLAINTEXT",

			"KAFKA_LOG_DIRS":   "/var/lib/kafka/data",
			"KAFKA_CLUSTER_ID": "WmV3pZkQR0O6n5j3x8j6bg==",

			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR":         "1",
			"KAFKA_TRANSACTION_STATE_LOG_REPLICATION_FACTOR": "1",
			"KAFKA_TRANSACTION_STATE_LOG_MIN_ISR":            "1",
			"KAFKA_GROUP_INITIAL_REBALANCE_DELAY_MS":         "0",
			"KAFKA_AUTO_CREATE_TOPICS_ENABLE":                "false",
		},
		WaitingFor: wait.ForLog("Kafka Server started").WithStartupTimeout(60 * time.Second),
	}

	kafkaContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Kafka container")

	brokerAddr := "localhost:9092"
	time.Sleep(2 * time.Second)

	cleanup = func() {
		ctx := context.Background()
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	}

	return []string{brokerAddr}, cleanup
}

type passthroughCodec struct{}

func (passthroughCodec) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (passthroughCodec) Decode(b []byte) (string, error) { return string(b), nil }

// TestStoreAndRecovery_RoundTripThroughRealBroker exercises
// [kafkastore.EnsureCompactedTopic], [kafkastore.Store] and
// [kafkastore.Recovery] against a genuine compacted topic: persisting a
// few keys (including a delete), reading one back through Store.Get, and
// recovering the whole partition in one scan.
func TestStoreAndRecovery_RoundTripThroughRealBroker(t *testing.T) {
	brokers, cleanup := setupKafkaContainer(t)
	defer cleanup()

	stateTopic := fmt.Sprintf("orders-state-%d", time.Now().UnixNano())
	require.NoError(t, kafkastore.EnsureCompactedTopic(context.Background(), brokers, stateTopic, 1, 1))

	store, err := kafkastore.NewStore[string](brokers, stateTopic, passthroughCodec{})
	require.NoError(t, err)

	ctx := context.Background()
	order1 := flow.Key{ApplicationID: "checkout", GroupID: "checkout-workers", Topic: "orders", Partition: 0, UserKey: "order-1"}
	order2 := flow.Key{ApplicationID: "checkout", GroupID: "checkout-workers", Topic: "orders", Partition: 0, UserKey: "order-2"}
	order3 := flow.Key{ApplicationID: "checkout", GroupID: "checkout-workers", Topic: "orders", Partition: 0, UserKey: "order-3"}

	require.NoError(t, store.Persist(ctx, order1, "paid"))
	require.NoError(t, store.Persist(ctx, order2, "created"))
	require.NoError(t, store.Persist(ctx, order3, "paid"))
	require.NoError(t, store.Delete(ctx, order3))

	state, ok, err := store.Get(ctx, order1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "paid", state)

	_, ok, err = store.Get(ctx, order3)
	require.NoError(t, err)
	require.False(t, ok, "deleted key must not resolve to a state")

	recovery, err := kafkastore.NewRecovery[string](brokers, stateTopic, "checkout", "checkout-workers", "orders", passthroughCodec{})
	require.NoError(t, err)

	recovered, err := recovery.Recover(ctx, 0)
	require.NoError(t, err)

	byKey := make(map[flow.Key]flow.Recovered[string], len(recovered))
	for _, r := range recovered {
		byKey[r.Key] = r
	}

	require.True(t, byKey[order1].HasState)
	require.Equal(t, "paid", byKey[order1].State)
	require.True(t, byKey[order2].HasState)
	require.Equal(t, "created", byKey[order2].State)
	require.False(t, byKey[order3].HasState, "tombstoned key must recover with no state")
}
