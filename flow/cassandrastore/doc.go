// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cassandrastore implements flow.SnapshotStore and flow.KeyStore
// against Cassandra, one row per key in a table partitioned by
// application/group/topic/partition and clustered by user key. A Store or
// KeyStore is scoped to a single application and group at construction
// time; Topic and Partition come from each call's key or argument.
package cassandrastore
